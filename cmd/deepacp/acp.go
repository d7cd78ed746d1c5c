package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"

	wire "github.com/m4xw311/deepacp/acp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newACPCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "acp",
		Short: "Serve the Agent Client Protocol on stdin/stdout",
		Long:  "Serve one ACP client over newline-delimited JSON-RPC on stdin/stdout. Nothing but protocol messages is written to stdout.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			transport := wire.NewStreamTransport(cmd.InOrStdin(), bufio.NewWriter(cmd.OutOrStdout()))
			return a.run(ctx, func(ctx context.Context) error {
				return a.newServer().Serve(ctx, transport)
			})
		},
	}
}
