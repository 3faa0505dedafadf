package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := newCommandContext()

	rootCmd := &cobra.Command{
		Use:           "vai-coach",
		Short:         "Camera-driven step-by-step procedure coach",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&ctx.debug, "debug", false, "Verbose development logging")
	flags.StringVar(&ctx.envFile, "env-file", "", "Load variables from this file instead of searching for .env")
	flags.StringVar(&ctx.dbPath, "db", "", "Procedure database path, or :memory:")
	flags.StringVar(&ctx.account, "account", "", "Account the procedures belong to")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newProceduresCommand(ctx))
	rootCmd.AddCommand(newModelsCommand(ctx))

	return rootCmd
}
