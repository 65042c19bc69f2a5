package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var addrFlag string
	var configFlag string

	ctx := newCommandContext(&addrFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:           "spool",
		Short:         "Spool audio extraction CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Base URL of the spool daemon API")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newSearchCommand(ctx))
	rootCmd.AddCommand(newCacheCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
