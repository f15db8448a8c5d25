// Package main is the entry point for the fwdport CLI.
//
// fwdport checks the forwarded ports declared for virtual machines against
// the ports in use on the host and repairs collisions on request. All
// functionality lives in the internal/cli package, which defines the cobra
// commands.
//
// Build-time variables (version, commit, date) are injected via ldflags.
// During development they default to "dev", "none", and "unknown".
package main

import (
	"github.com/shinji-kodama/fwdport/internal/cli"
)

// version, commit, and date are set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
