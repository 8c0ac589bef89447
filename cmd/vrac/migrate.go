package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/spf13/cobra"

	"vrac/internal/config"
	"vrac/internal/store"
	"vrac/internal/sweep"

	_ "modernc.org/sqlite"
)

func newMigrateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect and run database schema migrations",
	}
	cmd.AddCommand(
		newMigrateStatusCmd(cfg, jsonOutput),
		newMigrateRunCmd(cfg, jsonOutput),
		newMigrateBackfillCmd(cfg, jsonOutput),
	)
	return cmd
}

func newMigrateStatusCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current and pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openRawDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			plan, err := store.MigrationPlan(db)
			if err != nil {
				return fmt.Errorf("inspect migrations: %w", err)
			}

			if *jsonOutput {
				return writeJSON(plan)
			}
			if err := writePlain("Current version: %d\nAvailable version: %d\n", plan.CurrentVersion, plan.AvailableVersion); err != nil {
				return err
			}
			if len(plan.Pending) == 0 {
				return writePlain("No pending migrations.\n")
			}
			if err := writePlain("Pending migrations: %d\n", len(plan.Pending)); err != nil {
				return err
			}
			for _, m := range plan.Pending {
				if err := writePlain("  %d: %s\n", m.Version, m.Description); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newMigrateRunCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Apply pending migrations (also happens on server start)",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer st.Close()

			if *jsonOutput {
				db, err := openRawDB(cfg.DBPath)
				if err != nil {
					return err
				}
				defer db.Close()
				plan, err := store.MigrationPlan(db)
				if err != nil {
					return err
				}
				return writeJSON(plan)
			}
			return writePlain("Migrations applied successfully.\n")
		},
	}
}

// newMigrateBackfillCmd fills the size/type side table for blobs created
// before it existed, by streaming each blob once through its backend.
func newMigrateBackfillCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-metadata",
		Short: "Compute size and content type for blobs missing them",
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

			filled, err := sweep.New(st, backends, slog.Default()).BackfillMetadata(cmd.Context())
			if err != nil {
				return err
			}

			if *jsonOutput {
				return writeJSON(map[string]any{"backfilled": filled})
			}
			return writePlain("backfilled metadata for %d blobs\n", filled)
		},
	}
}

func openRawDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return sql.Open("sqlite", u.String())
}
