package main

import (
	"strings"

	"github.com/spf13/cobra"

	"ircgate/internal/controlclient"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "send <network> <line>...",
		Short: "Send a raw IRC line on a network",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			line := strings.Join(args[1:], " ")
			return ctx.withClient(func(client *controlclient.Client) error {
				return client.Send(name, line)
			})
		},
	}
}
