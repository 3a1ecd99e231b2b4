/*
main.go - escrowd entry point

COMMANDS:
  serve     HTTP API, recovery scheduler and notification dispatcher
  recover   One recovery pass over uncredited completions
  seed      Create the catalog's official tasks
  token     Mint a development bearer token
  catalog   Print the effective catalog as JSON

CONFIGURATION:
  --config points at a TOML file; see config.example.toml. Environment
  variables override the file (config/config.go lists them).

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM serve stops accepting connections, waits for active
  requests, stops the scheduler, drains queued notifications and closes
  the store, each bounded by server.shutdown_timeout.
*/
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "escrowd",
	Short:         "Task escrow and reward ledger service",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a TOML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
