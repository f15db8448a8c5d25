// Package model defines the domain types and value objects for the fwdport
// CLI.
//
// This package contains pure data structures with no external dependencies:
// machines, their network rules, port ranges, exit codes, and CLIError,
// which carries an exit code up to the process boundary.
package model
