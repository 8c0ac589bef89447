package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"vrac/internal/config"
	"vrac/internal/server"
	"vrac/internal/store"
	"vrac/internal/sweep"
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	var noSweep bool

	cmd := &cobra.Command{
		Use:   "srv",
		Short: "Run the vrac HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("db path is required")
			}

			logger := slog.Default().With("component", "server")

			logger.Info("opening database", "path", cfg.DBPath)
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			backend, backends, err := buildBackends(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}

			sweeper := sweep.New(st, backends, slog.Default())
			if !noSweep {
				ctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()
				go sweeper.Loop(ctx, time.Duration(cfg.Sweep.IntervalMinutes)*time.Minute)
			}

			srv := server.New(server.Options{
				Addr:           cfg.ListenAddr,
				Store:          st,
				Backend:        backend,
				Backends:       backends,
				Sweeper:        sweeper,
				MaxUploadBytes: cfg.Upload.MaxUploadBytes,
				Logger:         logger,
			})
			return srv.ListenAndServe()
		},
	}

	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the background maintenance loop")
	return cmd
}
