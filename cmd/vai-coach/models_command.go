package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show the model walk the coach will use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger(false, "")
			if err != nil {
				return err
			}
			client, err := newGeminiClient(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			for i, m := range client.Models(cmd.Context()) {
				fmt.Fprintf(cmd.OutOrStdout(), "%2d  %s\n", i+1, m)
			}
			return nil
		},
	}
}
