package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentplexus/omnivoice-receptionist/internal/app"
	"github.com/agentplexus/omnivoice-receptionist/obs"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Twilio webhooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.OTelStdout {
				shutdown, err := obs.Init(ctx, obs.Options{
					ServiceName: "receptionist",
					Version:     version,
					Stdout:      true,
				})
				if err != nil {
					return err
				}
				defer func() {
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = shutdown(flushCtx)
				}()
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("receptionist listening",
				zap.Int("port", cfg.Port),
				zap.String("assistant", cfg.Persona.Assistant),
				zap.String("owner", cfg.Persona.Owner),
				zap.Bool("stream_mode", cfg.StreamMode),
				zap.String("tts_mode", string(a.Speaker.Mode())),
			)
			return a.Run(ctx)
		},
	}
	cmd.Flags().Int("port", 0, "Listen port (overrides PORT).")
	return cmd
}
