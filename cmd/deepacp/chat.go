package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/m4xw311/deepacp/agent/terminal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newChatCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Chat with an agent in the terminal",
		Long:  "Chat with a configured agent interactively. Arguments form the first prompt. Pass --thread to continue an earlier conversation from its checkpoint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			verbosity, err := terminal.ParseVerbosity(v.GetString(keyVerbosity))
			if err != nil {
				return err
			}

			a, err := wireApp(v)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			agentCfg, err := a.cfg.GetAgent(v.GetString(keyAgent))
			if err != nil {
				return err
			}
			engine, err := a.factory(ctx, agentCfg)
			if err != nil {
				return err
			}
			defer closeEngine(engine, a.logger)

			threadID := v.GetString(keyThread)
			if threadID == "" {
				threadID = uuid.NewString()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Chatting with %s on thread %s. Type /quit to leave.\n", agentCfg.Name, threadID)

			term := terminal.New(engine, terminal.Options{
				In:          cmd.InOrStdin(),
				Out:         cmd.OutOrStdout(),
				ThreadID:    threadID,
				Mode:        v.GetString(keyMode),
				Verbosity:   verbosity,
				AutoApprove: v.GetBool(keyAutoApprove),
				Logger:      a.logger,
			})
			return a.run(ctx, func(ctx context.Context) error {
				return term.Run(ctx, strings.Join(args, " "))
			})
		},
	}

	flags := cmd.Flags()
	flags.String(keyAgent, "", "Agent configuration to chat with (defaults to the first configured agent)")
	flags.String(keyMode, "agent", "Session mode: agent, plan or ask")
	flags.String(keyThread, "", "Thread id to continue")
	flags.String(keyVerbosity, string(terminal.VerbosityNone), "Tool verbosity level: none, info or all")
	flags.Bool(keyAutoApprove, false, "Run sensitive tools without asking")
	return cmd
}

func closeEngine(engine any, logger *zap.Logger) {
	c, ok := engine.(interface{ Close() error })
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("closing engine", zap.Error(err))
	}
}
