// Package main implements daemonctl, a CLI for manual operations against a daemond HTTP server.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	httpserver "github.com/SPCG-NEST/daemon/internal/http"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &client{}

	root := &cobra.Command{
		Use:   "daemonctl",
		Short: "CLI for daemond HTTP server operations",
		Long: `daemonctl is a command-line interface for interacting with the daemond HTTP server.
It registers characters, inspects their logs and runs single turns through the pipeline.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:9090", "daemond server URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", defaultTimeout, "request timeout")

	root.AddCommand(
		newHealthCmd(c),
		newRegisterCmd(c),
		newCharacterCmd(c),
		newLogsCmd(c),
		newRunCmd(c),
	)
	return root
}

func newHealthCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemond server health",
		Long: `Check the health status of the daemond HTTP server.

Examples:
  # Check health
  daemonctl health

  # Check health on a different server
  daemonctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpserver.HealthResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/health", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", c.serverURL)
			return nil
		},
	}
}
