// ports.go implements the "fwdport ports" command.
//
// The ports command lists the forwarded ports declared for each machine
// without probing anything, as a text table or JSON, depending on the
// --json flag.
package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/fwdport/internal/model"
)

// portsFlags holds the flag values for the ports command.
type portsFlags struct {
	config   string
	machines []string
}

// NewPortsCommand creates the "ports" cobra command.
func NewPortsCommand() *cobra.Command {
	flags := &portsFlags{}

	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List declared forwarded ports",
		Long: `List the forwarded ports declared for each machine, as written in the
configuration file. Nothing is probed.

Examples:
  fwdport ports
  fwdport ports --machine web --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPorts(cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.config, "config", "c", "", "Path to the configuration file (default: search the current directory)")
	cmd.Flags().StringSliceVarP(&flags.machines, "machine", "m", nil, "Only list these machines (repeatable)")

	return cmd
}

func runPorts(out io.Writer, flags *portsFlags) error {
	cfg, _, err := loadConfig(flags.config)
	if err != nil {
		return err
	}
	if err := validateConfig(cfg); err != nil {
		return err
	}

	machines, err := selectMachines(cfg, flags.machines)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		type resultJSON struct {
			Machines []machineJSON `json:"machines"`
		}
		result := resultJSON{Machines: make([]machineJSON, 0, len(machines))}
		for _, m := range machines {
			result.Machines = append(result.Machines, toMachineJSON(m))
		}
		return printJSON(out, result)
	}

	printPortsTable(out, machines)
	return nil
}

// printPortsTable writes one row per forwarded port:
//
//	MACHINE  ID   GUEST  HOST  HOST IP    PROTO  AUTO-CORRECT
//	default  ssh  22     2222  -          tcp    default
//	web      -    80     8080  127.0.0.1  tcp    no
func printPortsTable(out io.Writer, machines []*model.Machine) {
	rows := 0
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MACHINE\tID\tGUEST\tHOST\tHOST IP\tPROTO\tAUTO-CORRECT")
	for _, m := range machines {
		for _, r := range m.ForwardedPorts() {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
				m.Name, orDash(r.ID), r.GuestPort, r.HostPort, orDash(r.HostIP), r.Protocol, autoCorrectLabel(r.AutoCorrect))
			rows++
		}
	}

	if rows == 0 {
		fmt.Fprintln(out, "No forwarded ports declared.")
		return
	}
	_ = tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// autoCorrectLabel renders a rule's per-rule repair override.
func autoCorrectLabel(v *bool) string {
	switch {
	case v == nil:
		return "default"
	case *v:
		return "yes"
	default:
		return "no"
	}
}
