package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentplexus/omnivoice-receptionist/internal/app"
	"github.com/agentplexus/omnivoice-receptionist/tts"
)

func newVoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the voices replies can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var voices []tts.Voice
			if builtin, _ := cmd.Flags().GetBool("builtin"); builtin {
				voices = tts.BuiltinVoices()
			} else {
				cfg, _, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				el := app.NewElevenLabs(cfg)
				if el == nil {
					return tts.ErrNoAPIKey
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				if voices, err = el.Voices(ctx); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLANGUAGE\tGENDER\tPROVIDER")
			for _, v := range voices {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Language, v.Gender, v.Provider)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("builtin", false, "List Twilio's built-in <Say> voices instead of ElevenLabs voices.")
	return cmd
}
