package main

import (
	"github.com/spf13/cobra"

	"vrac/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "vrac",
		Short: "Vrac is a token-scoped file upload and sharing service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return configureDefaultLogger(logLevel)
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newTokenCmd(cfg, &jsonOutput),
		newSweepCmd(cfg, &jsonOutput),
		newAdminUserCmd(cfg, &jsonOutput),
		newMigrateCmd(cfg, &jsonOutput),
		newConfigCmd(cfg),
	)

	return cmd
}
