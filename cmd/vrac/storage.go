package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vrac/internal/blobstore"
	"vrac/internal/config"
)

// buildBackends constructs the active upload backend plus the full
// locator-resolution map. The filesystem backend stays registered even
// when uploads go to the object store, so blobs written before a backend
// switch remain readable.
func buildBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blobstore.Backend, map[string]blobstore.Backend, error) {
	backends := make(map[string]blobstore.Backend)

	local, err := blobstore.NewLocal(cfg.Storage.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("filesystem backend: %w", err)
	}
	backends[local.Kind()] = local

	var active blobstore.Backend = local
	if cfg.Storage.Backend == "object_store" || cfg.Storage.Endpoint != "" {
		object, err := blobstore.NewObject(ctx, blobstore.ObjectConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("object store backend: %w", err)
		}
		wrapped := blobstore.WithRetry(object, logger, blobstore.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		})
		backends[object.Kind()] = wrapped
		if cfg.Storage.Backend == "object_store" {
			active = wrapped
		}
	}

	return active, backends, nil
}
