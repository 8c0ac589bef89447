package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"vrac/internal/config"
	"vrac/internal/store"
	"vrac/internal/sweep"
)

func newSweepCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance pass over stale and expired content",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			_, backends, err := buildBackends(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}

			result, err := sweep.New(st, backends, slog.Default()).Run(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(result)
			}
			return writePlain("stale blobs: %d\nexpired blobs: %d\ndead tokens: %d\nerrors: %d\n",
				result.StaleBlobs, result.ExpiredBlobs, result.DeadTokens, result.Errors)
		},
	}
}
