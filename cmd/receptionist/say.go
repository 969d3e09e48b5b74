package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentplexus/omnivoice-receptionist/internal/app"
)

func newSayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "say TEXT...",
		Short: "Render a reply to a phone-quality WAV file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			speaker, err := app.NewSpeaker(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			wav, err := speaker.Render(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out, _ := cmd.Flags().GetString("output")
			if err := os.WriteFile(out, wav, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(wav), out)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "reply.wav", "Output file.")
	return cmd
}
