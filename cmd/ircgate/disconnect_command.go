package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ircgate/internal/controlclient"
)

func newDisconnectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Open a control session and ask the daemon to close it",
		Long:  "Verifies the daemon is reachable and that the shared secret is accepted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *controlclient.Client) error {
				if err := client.Disconnect(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Control session closed")
				return nil
			})
		},
	}
}
