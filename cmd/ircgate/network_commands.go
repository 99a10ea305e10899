package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ircgate/internal/controlclient"
)

func newNetworksCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List configured networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *controlclient.Client) error {
				networks, err := client.Networks()
				if err != nil {
					return err
				}
				if len(networks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No networks configured")
					return nil
				}

				names := make([]string, 0, len(networks))
				for name := range networks {
					names = append(names, name)
				}
				sort.Strings(names)

				rows := make([]table.Row, 0, len(names))
				for _, name := range names {
					n := networks[name]
					rows = append(rows, table.Row{
						name, n.Host, strconv.Itoa(n.Port), n.Nick,
						strings.Join(n.Channels, ", "),
					})
				}
				out := renderTable(
					table.Row{"Network", "Host", "Port", "Nick", "Channels"},
					rows, 2)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var port int
	var nick, user, realname string

	cmd := &cobra.Command{
		Use:   "add <name> <host>",
		Short: "Add a network and connect to it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			host := strings.TrimSpace(args[1])
			return ctx.withClient(func(client *controlclient.Client) error {
				if err := client.Add(name, host, port, nick, user, realname); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Network %s added\n", name)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 6667, "Server port")
	cmd.Flags().StringVar(&nick, "nick", "", "Nickname to register with")
	cmd.Flags().StringVar(&user, "user", "", "Username for the USER command")
	cmd.Flags().StringVar(&realname, "realname", "", "Real name for the USER command")

	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Disconnect a network and forget its configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *controlclient.Client) error {
				if err := client.Delete(name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Network %s deleted\n", name)
				return nil
			})
		},
	}
}
