package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ircgate/internal/controlclient"
)

// streamPollInterval bounds how long one read blocks so interrupt handling
// stays responsive without a dedicated reader goroutine.
const streamPollInterval = time.Second

func newStreamCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stream",
		Short: "Follow raw lines from every connected network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return cmdCtx.withClient(func(client *controlclient.Client) error {
				if err := client.StreamStart(); err != nil {
					return err
				}

				colorize := shouldColorize(os.Stdout)
				for {
					if ctx.Err() != nil {
						return client.StreamStop()
					}
					ev, err := client.NextEvent(streamPollInterval)
					if err != nil {
						var netErr net.Error
						if errors.As(err, &netErr) && netErr.Timeout() {
							continue
						}
						return err
					}
					label := "[" + ev.Network + "]"
					if colorize {
						label = ansiBlue + label + ansiReset
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", label, ev.Message)
				}
			})
		},
	}
}
