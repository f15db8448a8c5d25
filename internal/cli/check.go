// check.go implements the "fwdport check" command.
//
// The check command probes individual host ports and reports whether each
// one is open, using the same probe as resolve.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/fwdport/internal/collision"
	"github.com/shinji-kodama/fwdport/internal/model"
	"github.com/shinji-kodama/fwdport/internal/port"
)

// checkFlags holds the flag values for the check command.
type checkFlags struct {
	host       string
	timeout    time.Duration
	failIfOpen bool
}

// portStatusJSON is the JSON form of one probed port.
type portStatusJSON struct {
	Port int  `json:"port"`
	Open bool `json:"open"`
}

// NewCheckCommand creates the "check" cobra command.
func NewCheckCommand() *cobra.Command {
	flags := &checkFlags{}

	cmd := &cobra.Command{
		Use:   "check <port|range>...",
		Short: "Report whether host ports are in use",
		Long: `Probe the given host ports and report whether each one is open.

With --fail-if-open the command exits with code 4 when any port is open,
which is convenient in scripts.

Examples:
  fwdport check 2222
  fwdport check 8080,9000-9002 --host 127.0.0.1
  fwdport check 2200..2210 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.OutOrStdout(), flags, args, newProber(flags.timeout))
		},
	}

	cmd.Flags().StringVar(&flags.host, "host", "", "Host IP to probe (default: loopback)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", port.DefaultProbeTimeout, "Timeout for each port probe")
	cmd.Flags().BoolVar(&flags.failIfOpen, "fail-if-open", false, "Exit with code 4 if any port is open")

	return cmd
}

func runCheck(out io.Writer, flags *checkFlags, args []string, prober collision.Prober) error {
	var ports []int
	for _, arg := range args {
		parsed, err := port.ParsePortList(arg)
		if err != nil {
			return model.WrapCLIError(model.ExitGeneralError, fmt.Sprintf("invalid port %q", arg), err)
		}
		ports = append(ports, parsed...)
	}

	statuses := make([]portStatusJSON, 0, len(ports))
	var open []int
	for _, p := range ports {
		isOpen := prober.IsPortOpen(flags.host, p)
		statuses = append(statuses, portStatusJSON{Port: p, Open: isOpen})
		if isOpen {
			open = append(open, p)
		}
	}

	if IsJSONOutput() {
		if err := printJSON(out, struct {
			Host  string           `json:"host"`
			Ports []portStatusJSON `json:"ports"`
		}{Host: port.ProbeHost(flags.host), Ports: statuses}); err != nil {
			return err
		}
	} else {
		for _, s := range statuses {
			state := boldGreen("free")
			if s.Open {
				state = boldRed("in use")
			}
			fmt.Fprintf(out, "%-6d %s\n", s.Port, state)
		}
	}

	if flags.failIfOpen && len(open) > 0 {
		return model.NewCLIError(model.ExitPortCollision,
			fmt.Sprintf("%d port(s) in use: %s", len(open), FormatPortsList(open)))
	}
	return nil
}
