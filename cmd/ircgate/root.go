package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var stateFlag string
	var configFlag string

	ctx := newCommandContext(&stateFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:           "ircgate",
		Short:         "Operator CLI for the ircgate daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&stateFlag, "state", "", "Path to the shared state file")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newNetworksCommand(ctx))
	rootCmd.AddCommand(newAddCommand(ctx))
	rootCmd.AddCommand(newDeleteCommand(ctx))
	rootCmd.AddCommand(newSendCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newStreamCommand(ctx))
	rootCmd.AddCommand(newDisconnectCommand(ctx))

	return rootCmd
}
