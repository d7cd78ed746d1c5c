package main

import (
	"strings"

	"github.com/m4xw311/deepacp/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "DEEPACP"

// Flag and viper keys.
const (
	keyConfig      = "config"
	keyTrace       = "trace"
	keyLogFile     = "log-file"
	keyMetricsAddr = "metrics-addr"
	keyListen      = "listen"
	keyAgent       = "agent"
	keyMode        = "mode"
	keyThread      = "thread"
	keyVerbosity   = "tool-verbosity"
	keyAutoApprove = "auto-approve"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	acpCmd := newACPCmd(v)
	rootCmd := &cobra.Command{
		Use:           "deepacp",
		Short:         "Coding agent speaking the Agent Client Protocol",
		Long:          "deepacp serves the Agent Client Protocol over stdio (default) or websockets, or chats with an agent in the terminal.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlags(cmd.Flags())
		},
		RunE: acpCmd.RunE,
	}

	flags := rootCmd.PersistentFlags()
	flags.String(keyConfig, "", "Configuration file (defaults to ~/.deepacp/config.yaml merged with ./.deepacp/config.yaml)")
	flags.Bool(keyTrace, false, "Write debug logs to "+logging.DefaultTraceFile)
	flags.String(keyLogFile, "", "Write structured logs to this file")
	flags.String(keyMetricsAddr, "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(
		acpCmd,
		newWSCmd(v),
		newChatCmd(v),
	)
	return rootCmd
}
