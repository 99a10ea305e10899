package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ircgate/internal/controlclient"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <network>",
		Short: "Show the most recent transcript lines for a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *controlclient.Client) error {
				entries, err := client.History(name, limit)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No history recorded")
					return nil
				}
				for _, e := range entries {
					marker := "<-"
					if e.Direction == "out" {
						marker = "->"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
						e.RecordedAt.Local().Format("2006-01-02 15:04:05"), marker, e.Line)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of lines to show")

	return cmd
}
