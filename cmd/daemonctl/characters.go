package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/SPCG-NEST/daemon/internal/characters"
	httpserver "github.com/SPCG-NEST/daemon/internal/http"
	"github.com/SPCG-NEST/daemon/internal/identity"
)

func newRegisterCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "register <file>",
		Short: "Register a character document",
		Long: `Register a character from a JSON, YAML or TOML document.

The document is validated locally before it is sent. Registering an
existing pubkey replaces the stored character.

Examples:
  daemonctl register characters/aria.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := characters.Load(args[0])
			if err != nil {
				return err
			}
			var resp httpserver.RegisterResponse
			if err := c.do(cmd.Context(), http.MethodPost, "/v1/characters", ch, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s\n", resp.Pubkey)
			return nil
		},
	}
}

func newCharacterCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "character <pubkey>",
		Short: "Print a registered character",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ch identity.Character
			if err := c.do(cmd.Context(), http.MethodGet, "/v1/characters/"+url.PathEscape(args[0]), nil, &ch); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ch)
		},
	}
}
