// scan.go implements the "fwdport scan" command.
//
// The scan command probes a port range on the host and lists the ports
// that accept TCP connections, which are the ports a repair would skip.
package cli

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/fwdport/internal/model"
	"github.com/shinji-kodama/fwdport/internal/port"
)

// scanFlags holds the flag values for the scan command.
type scanFlags struct {
	portRange string
	host      string
	workers   int
	timeout   time.Duration
}

// NewScanCommand creates the "scan" cobra command.
func NewScanCommand() *cobra.Command {
	flags := &scanFlags{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List ports in a range that are already in use",
		Long: `Probe every port in a range and list the ones that accept TCP connections.

Examples:
  fwdport scan
  fwdport scan --range 8000..8100 --host 127.0.0.1
  fwdport scan --range 2200-2250 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.portRange, "range", "r", model.DefaultPortRange.String(), "Port range to scan, as from..to or from-to")
	cmd.Flags().StringVar(&flags.host, "host", "", "Host IP to probe (default: loopback)")
	cmd.Flags().IntVar(&flags.workers, "workers", 4, "Number of concurrent probe workers")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", port.DefaultProbeTimeout, "Timeout for each port probe")

	return cmd
}

func runScan(out io.Writer, flags *scanFlags) error {
	r, err := port.ParsePortRange(flags.portRange)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "invalid --range value", err)
	}

	workers := flags.workers
	if workers < 1 {
		workers = 1
	}
	if workers > r.Len() {
		workers = r.Len()
	}

	open, err := scanRange(port.NewProber(flags.timeout), flags.host, r, workers)
	if err != nil {
		return err
	}
	VerboseLog("Scanned %d port(s) on %s with %d worker(s)", r.Len(), port.ProbeHost(flags.host), workers)

	if IsJSONOutput() {
		return printJSON(out, struct {
			Host  string `json:"host"`
			Range string `json:"range"`
			Open  []int  `json:"open"`
			Free  int    `json:"free"`
		}{
			Host:  port.ProbeHost(flags.host),
			Range: r.String(),
			Open:  open,
			Free:  r.Len() - len(open),
		})
	}

	if len(open) == 0 {
		printSuccess(out, "All %d port(s) in %s are free", r.Len(), r)
		return nil
	}
	fmt.Fprintf(out, "%s %s\n", boldYellow("In use:"), FormatPortRanges(open))
	fmt.Fprintf(out, "%s\n", faint(fmt.Sprintf("%d of %d port(s) in %s are free", r.Len()-len(open), r.Len(), r)))
	return nil
}

// scanRange splits r into one contiguous part per worker, probes the parts
// concurrently, and returns the open ports in ascending order.
func scanRange(prober *port.Prober, host string, r model.PortRange, workers int) ([]int, error) {
	parts, err := port.SplitRange(r, workers)
	if err != nil {
		return nil, err
	}

	results := make([][]int, len(parts))
	var wg sync.WaitGroup
	for i, part := range parts {
		wg.Add(1)
		go func(i int, part model.PortRange) {
			defer wg.Done()
			results[i] = prober.OpenPorts(host, part.From, part.To)
		}(i, part)
	}
	wg.Wait()

	open := make([]int, 0)
	for _, res := range results {
		open = append(open, res...)
	}
	sort.Ints(open)
	return open, nil
}
