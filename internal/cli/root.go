// Package cli implements the cobra-based CLI commands for fwdport.
//
// Each subcommand (resolve, ports, scan, check) is defined in its own file
// within this package. This file defines the root command that serves as
// the parent for all subcommands and handles global flags.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/fwdport/internal/collision"
	"github.com/shinji-kodama/fwdport/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose enables [verbose] trace lines on stderr.
	verbose bool

	// noColor disables colored status lines.
	noColor bool
)

// Version, Commit, and Date are set at build time via ldflags and injected
// from the main package.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
//
// The root command itself does not perform any action. It only provides
// help text and global flags; subcommands do the work.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fwdport",
		Short: "Detect and repair forwarded-port collisions for virtual machines",
		Long: `fwdport checks the forwarded ports declared for each machine against the
ports already in use on the host. Collisions either fail the run or, with
--repair, are moved to the smallest free port of the machine's usable range.

Ports can be marked as in use without probing (--extra-in-use), host ports
can be overridden before the check (--remap), and ports published by running
Docker containers can be included (--docker).`,

		// Errors are printed by Execute, in text or JSON.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor || jsonOutput {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewResolveCommand())
	rootCmd.AddCommand(NewPortsCommand())
	rootCmd.AddCommand(NewScanCommand())
	rootCmd.AddCommand(NewCheckCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// CLIError values carry their own exit code; collision errors are mapped
// to theirs by toCLIError; other errors exit with code 1.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		cliErr := toCLIError(err)
		printError(cliErr.Message, cliErr.Err)
		os.Exit(int(cliErr.Code))
	}
}

// toCLIError maps err onto a CLIError with the matching exit code and, for
// collisions, a hint on how to proceed.
func toCLIError(err error) *model.CLIError {
	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		return cliErr
	}

	var collisionErr *collision.PortCollisionError
	if errors.As(err, &collisionErr) {
		return model.NewCLIError(model.ExitPortCollision, fmt.Sprintf(
			"%s. Enable auto-correction with --repair, change the host port in the configuration, "+
				"or stop the process using port %d", collisionErr.Error(), collisionErr.HostPort))
	}

	var noPortsErr *collision.NoUsablePortsError
	if errors.As(err, &noPortsErr) {
		return model.NewCLIError(model.ExitNoUsablePorts, fmt.Sprintf(
			"%s. Widen usable_port_range for the machine or free ports in it", noPortsErr.Error()))
	}

	return model.NewCLIError(model.ExitGeneralError, err.Error())
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		// Errors go to stderr even in JSON mode; stdout is for results.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(os.Stderr, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", boldRed("Error:"), message, underlying)
	} else {
		fmt.Fprintf(os.Stderr, "%s %s\n", boldRed("Error:"), message)
	}
}

// VerboseLog prints a message to stderr only when verbose mode is enabled.
func VerboseLog(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] "+format+"\n", args...)
	}
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}
