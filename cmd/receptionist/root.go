package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentplexus/omnivoice-receptionist/config"
	"github.com/agentplexus/omnivoice-receptionist/obs"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "receptionist",
		Short:         "Phone voice assistant that screens calls and notifies the owner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringArray("env-file", nil, "Env file(s) to load before reading the environment (default .env).")

	cmd.AddCommand(newServeCmd(), newVoicesCmd(), newSayCmd())
	return cmd
}

// loadConfig reads configuration and builds the logger it asks for.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	envFiles, err := cmd.Flags().GetStringArray("env-file")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, nil, err
	}
	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
