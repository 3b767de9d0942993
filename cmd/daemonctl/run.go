package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

func newRunCmd(c *client) *cobra.Command {
	var (
		rec    lifecycle.Record
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one message through the pipeline",
		Long: `Run one message through the daemon pipeline and print the reply.

The message is read from --message or, when it is "-", from stdin.
Without --approved the turn stops at the approval gate.

Examples:
  daemonctl run --pubkey 0xabc --message "hello" --approved

  echo "hello" | daemonctl run --pubkey 0xabc --message - --approved --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rec.Message == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read from stdin: %w", err)
				}
				rec.Message = strings.TrimSpace(string(data))
			}
			if rec.Message == "" {
				return errors.New("no message to send")
			}

			var out lifecycle.Record
			if err := c.do(cmd.Context(), http.MethodPost, "/v1/pipeline", rec, &out); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Output)
			for _, line := range out.PostProcessLog {
				fmt.Fprintf(cmd.ErrOrStderr(), "[daemonctl] %s\n", line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rec.DaemonPubkey, "pubkey", "", "daemon pubkey (required)")
	cmd.Flags().StringVar(&rec.ChannelID, "channel", "", "channel id")
	cmd.Flags().StringVar(&rec.Message, "message", "", `message text, or "-" for stdin`)
	cmd.Flags().BoolVar(&rec.Approval.Approved, "approved", false, "approve the turn")
	cmd.Flags().StringVar(&rec.Approval.Reason, "reason", "", "approval reason")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full lifecycle record")
	_ = cmd.MarkFlagRequired("pubkey")
	return cmd
}
