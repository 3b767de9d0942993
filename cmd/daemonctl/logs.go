package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	httpserver "github.com/SPCG-NEST/daemon/internal/http"
)

func newLogsCmd(c *client) *cobra.Command {
	var (
		channel string
		limit   int
		order   string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "logs <pubkey>",
		Short: "List lifecycle logs for a daemon",
		Long: `List stored lifecycle logs for a daemon, newest first by default.

Examples:
  # Last 10 turns
  daemonctl logs 0xabc --limit 10

  # One channel, oldest first
  daemonctl logs 0xabc --channel general --order asc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if channel != "" {
				q.Set("channel_id", channel)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if order != "" {
				q.Set("order_by", order)
			}
			path := "/v1/daemons/" + url.PathEscape(args[0]) + "/logs"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp httpserver.LogsResponse
			if err := c.do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp.Logs)
			}

			out := cmd.OutOrStdout()
			if len(resp.Logs) == 0 {
				fmt.Fprintln(out, "No logs")
				return nil
			}
			for _, entry := range resp.Logs {
				rec := entry.Lifecycle
				fmt.Fprintf(out, "#%d %s", entry.Seq, entry.CreatedAt.Format("2006-01-02 15:04:05"))
				if entry.ChannelID != "" {
					fmt.Fprintf(out, " [%s]", entry.ChannelID)
				}
				fmt.Fprintln(out)
				fmt.Fprintf(out, "  > %s\n", rec.Message)
				fmt.Fprintf(out, "  < %s\n", rec.Output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "only logs from this channel")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of logs (server default when zero)")
	cmd.Flags().StringVar(&order, "order", "", "asc or desc")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}
