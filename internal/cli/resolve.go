// resolve.go implements the "fwdport resolve" command.
//
// The resolve command loads the machine configuration, gathers the ports
// that must be treated as in use, and runs the collision resolver over every
// selected machine. Repairs are reported as they happen; the final mappings
// are printed and, with --output or --write, saved back in the format of the
// target file.
package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/fwdport/internal/collision"
	"github.com/shinji-kodama/fwdport/internal/docker"
	"github.com/shinji-kodama/fwdport/internal/machine"
	"github.com/shinji-kodama/fwdport/internal/model"
	"github.com/shinji-kodama/fwdport/internal/port"
)

// newProber builds the probe used by resolve. Tests replace it.
var newProber = func(timeout time.Duration) collision.Prober {
	return port.NewProber(timeout)
}

// resolveFlags holds the flag values for the resolve command.
type resolveFlags struct {
	config          string
	machines        []string
	repair          bool
	extraInUse      string
	remap           []string
	forward         []string
	probeCandidates bool
	docker          bool
	dockerLabels    []string
	dockerProtocol  string
	timeout         time.Duration
	output          string
	write           bool
}

// NewResolveCommand creates the "resolve" cobra command.
func NewResolveCommand() *cobra.Command {
	flags := &resolveFlags{}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Check forwarded ports for collisions and optionally repair them",
		Long: `Check every forwarded port of the selected machines against the host.

A host port collides when it is listed as extra in use or when something is
already listening on it. Without --repair the first collision fails the run
(exit code 4). With --repair colliding ports move to the smallest free port
of the machine's usable_port_range, or the run fails with exit code 5 when
the range is exhausted. Rules with auto_correct: false are never moved.

Flags override the collision block of the configuration file when given.

Examples:
  fwdport resolve
  fwdport resolve --repair --extra-in-use 8080,9000-9002
  fwdport resolve --remap 2222:2200 --forward 8443:443/tcp
  fwdport resolve --repair --docker --write
  fwdport resolve --repair --output resolved.json --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.write && flags.output != "" {
				return model.NewCLIError(model.ExitGeneralError, "--write and --output cannot be used together")
			}
			return runResolve(cmd.Context(), cmd.OutOrStdout(), flags, cmd.Flags().Changed)
		},
	}

	cmd.Flags().StringVarP(&flags.config, "config", "c", "", "Path to the configuration file (default: search the current directory)")
	cmd.Flags().StringSliceVarP(&flags.machines, "machine", "m", nil, "Only resolve these machines (repeatable)")
	cmd.Flags().BoolVar(&flags.repair, "repair", false, "Reassign colliding host ports instead of failing")
	cmd.Flags().StringVar(&flags.extraInUse, "extra-in-use", "", "Ports to treat as in use without probing, e.g. 8080,9000-9002")
	cmd.Flags().StringSliceVar(&flags.remap, "remap", nil, "Override a declared host port before checking, as from:to (repeatable)")
	cmd.Flags().StringSliceVar(&flags.forward, "forward", nil, "Add a forwarded port to the first selected machine, as [ip:]host:guest[/proto] (repeatable)")
	cmd.Flags().BoolVar(&flags.probeCandidates, "probe-candidates", false, "Probe replacement ports and skip ones that are in use")
	cmd.Flags().BoolVar(&flags.docker, "docker", false, "Treat host ports published by running Docker containers as in use")
	cmd.Flags().StringSliceVar(&flags.dockerLabels, "docker-label", nil, "Only consider containers with this label, as key[=value] (repeatable)")
	cmd.Flags().StringVar(&flags.dockerProtocol, "docker-protocol", "", "Only consider container ports of this protocol (tcp or udp)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", port.DefaultProbeTimeout, "Timeout for each port probe")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the resolved configuration to this file")
	cmd.Flags().BoolVarP(&flags.write, "write", "w", false, "Write the resolved configuration back to the source file")

	return cmd
}

// resolveResult is the JSON output of the resolve command.
type resolveResult struct {
	Machines   []machineJSON      `json:"machines"`
	Repairs    []collision.Repair `json:"repairs"`
	ExtraInUse []int              `json:"extraInUse"`
	Written    string             `json:"written,omitempty"`
}

// runResolve is the main logic function for the resolve command. changed
// reports whether a flag was set on the command line.
func runResolve(ctx context.Context, out io.Writer, flags *resolveFlags, changed func(string) bool) error {
	// Step 1: Load the configuration and pick the machines to resolve.
	cfg, path, err := loadConfig(flags.config)
	if err != nil {
		return err
	}

	machines, err := selectMachines(cfg, flags.machines)
	if err != nil {
		return err
	}

	// Step 2: Ad-hoc --forward rules join the first selected machine.
	if len(flags.forward) > 0 && len(machines) > 0 {
		rules, err := parseForwardFlags(flags.forward)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "invalid --forward value", err)
		}
		target := machines[0]
		target.Networks = append(target.Networks, rules...)
		VerboseLog("Added %d forwarded port(s) to machine %s", len(rules), target.Name)
	}

	if err := validateConfig(cfg); err != nil {
		return err
	}
	if !IsJSONOutput() {
		for _, w := range machine.Warnings(cfg) {
			printWarning(out, "%s: %s", w.Field, w.Message)
		}
	}

	// Step 3: Merge options from the file and the command line.
	opts, err := buildOptions(cfg.Collision, flags, changed)
	if err != nil {
		return err
	}

	// Step 4: Optionally add ports published by running containers.
	if flags.docker {
		published, err := dockerPublishedPorts(ctx, flags.dockerLabels, flags.dockerProtocol)
		if err != nil {
			return err
		}
		VerboseLog("Docker containers publish %d host port(s): %s", len(published), FormatPortRanges(published))
		opts.ExtraInUse = append(opts.ExtraInUse, published...)
	}
	VerboseLog("Options: repair=%t probe-candidates=%t extra-in-use=%s remap-entries=%d",
		opts.Repair, opts.ProbeCandidates, FormatPortRanges(opts.ExtraInUse), len(opts.Remap))

	// Step 5: Resolve machines in order; the resolver reports each repair.
	resolver := collision.NewResolver(newProber(flags.timeout), opts)
	resolver.Logf = VerboseLog
	if !IsJSONOutput() {
		resolver.OnRepair = func(rep collision.Repair) {
			printRepair(out, rep)
		}
	}

	repairs, err := resolver.ResolveMachines(machines)
	if err != nil {
		return err
	}

	// Step 6: Persist the resolved configuration when asked to.
	written := ""
	switch {
	case flags.write:
		written = path
	case flags.output != "":
		written = flags.output
	}
	if written != "" {
		if err := machine.WriteConfig(written, cfg); err != nil {
			return err
		}
		VerboseLog("Wrote resolved configuration to %s", written)
	}

	// Step 7: Report.
	if IsJSONOutput() {
		result := resolveResult{
			Machines:   make([]machineJSON, 0, len(machines)),
			Repairs:    make([]collision.Repair, 0, len(repairs)),
			ExtraInUse: make([]int, 0, len(opts.ExtraInUse)),
			Written:    written,
		}
		for _, m := range machines {
			result.Machines = append(result.Machines, toMachineJSON(m))
		}
		result.Repairs = append(result.Repairs, repairs...)
		result.ExtraInUse = append(result.ExtraInUse, opts.ExtraInUse...)
		return printJSON(out, result)
	}

	printSection(out, "Forwarded ports")
	printPortsTable(out, machines)
	fmt.Fprintln(out)
	if len(repairs) == 0 {
		printSuccess(out, "No forwarded port collisions in %d machine(s)", len(machines))
	} else {
		printSuccess(out, "Repaired %d forwarded port collision(s) in %d machine(s)", len(repairs), len(machines))
	}
	if written != "" {
		printSuccess(out, "Wrote resolved configuration to %s", written)
	}
	return nil
}

// printRepair reports one repair in the "==> machine: message" form.
func printRepair(out io.Writer, rep collision.Repair) {
	fmt.Fprintf(out, "%s %s\n", boldYellow("==> "+rep.Machine+":"), rep.String())
}

// buildOptions converts the file's collision block to resolver options and
// applies the command-line overrides. Booleans override only when set on
// the command line; ports and remaps are merged, with flags winning.
func buildOptions(file machine.FileOptions, flags *resolveFlags, changed func(string) bool) (collision.Options, error) {
	opts, err := file.Options()
	if err != nil {
		return collision.Options{}, model.WrapCLIError(model.ExitConfigInvalid, "invalid collision options in configuration", err)
	}

	if changed("repair") {
		opts.Repair = flags.repair
	}
	if changed("probe-candidates") {
		opts.ProbeCandidates = flags.probeCandidates
	}

	if flags.extraInUse != "" {
		extra, err := port.ParsePortList(flags.extraInUse)
		if err != nil {
			return collision.Options{}, model.WrapCLIError(model.ExitGeneralError, "invalid --extra-in-use value", err)
		}
		opts.ExtraInUse = append(opts.ExtraInUse, extra...)
	}

	remap, err := parseRemapFlags(flags.remap)
	if err != nil {
		return collision.Options{}, model.WrapCLIError(model.ExitGeneralError, "invalid --remap value", err)
	}
	if len(remap) > 0 && opts.Remap == nil {
		opts.Remap = make(map[int]int, len(remap))
	}
	for from, to := range remap {
		opts.Remap[from] = to
	}

	return opts, nil
}

// parseRemapFlags parses "from:to" pairs such as "2222:2200".
func parseRemapFlags(specs []string) (map[int]int, error) {
	remap := make(map[int]int, len(specs))
	for _, spec := range specs {
		fromStr, toStr, ok := strings.Cut(strings.TrimSpace(spec), ":")
		if !ok {
			return nil, fmt.Errorf("remap %q must be written as from:to", spec)
		}
		from, err := parsePort(fromStr)
		if err != nil {
			return nil, fmt.Errorf("remap %q: %w", spec, err)
		}
		to, err := parsePort(toStr)
		if err != nil {
			return nil, fmt.Errorf("remap %q: %w", spec, err)
		}
		remap[from] = to
	}
	return remap, nil
}

// parseForwardFlags parses Docker-style publish specs into forwarded-port
// rules. "8080:80", "127.0.0.1:8080:80/udp", and ranges such as
// "8000-8001:80-81" are accepted; the host port is required.
func parseForwardFlags(specs []string) ([]model.NetworkRule, error) {
	var rules []model.NetworkRule
	for _, spec := range specs {
		mappings, err := nat.ParsePortSpec(strings.TrimSpace(spec))
		if err != nil {
			return nil, fmt.Errorf("forward %q: %w", spec, err)
		}
		for _, m := range mappings {
			if m.Binding.HostPort == "" {
				return nil, fmt.Errorf("forward %q: host port is required", spec)
			}
			hostPort, err := parsePort(m.Binding.HostPort)
			if err != nil {
				return nil, fmt.Errorf("forward %q: %w", spec, err)
			}
			rules = append(rules, model.NetworkRule{
				Type:      model.NetworkForwardedPort,
				GuestPort: m.Port.Int(),
				HostPort:  hostPort,
				HostIP:    m.Binding.HostIP,
				Protocol:  m.Port.Proto(),
			})
		}
	}
	return rules, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if p < model.MinPort || p > model.MaxPort {
		return 0, fmt.Errorf("port %d out of range (%d-%d)", p, model.MinPort, model.MaxPort)
	}
	return p, nil
}

// dockerPublishedPorts connects to the Docker daemon and returns the host
// ports published by running containers.
func dockerPublishedPorts(ctx context.Context, labelSpecs []string, protocol string) ([]int, error) {
	filter, err := dockerPortFilter(labelSpecs, protocol)
	if err != nil {
		return nil, err
	}

	cli, err := docker.NewClient()
	if err != nil {
		return nil, err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return nil, err
	}
	VerboseLog("Connected to Docker daemon")

	return cli.PublishedPorts(ctx, filter)
}

// dockerPortFilter builds the container filter from --docker-label and
// --docker-protocol.
func dockerPortFilter(labelSpecs []string, protocol string) (docker.PortFilter, error) {
	labels, err := docker.ParseLabelFilters(labelSpecs)
	if err != nil {
		return docker.PortFilter{}, model.WrapCLIError(model.ExitGeneralError, "invalid --docker-label value", err)
	}
	proto, err := docker.ParseProtocol(protocol)
	if err != nil {
		return docker.PortFilter{}, model.WrapCLIError(model.ExitGeneralError, "invalid --docker-protocol value", err)
	}
	return docker.PortFilter{Labels: labels, Protocol: proto}, nil
}
