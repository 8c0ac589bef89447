package sweep

import (
	"context"
	"log/slog"
	"time"

	"vrac/internal/blobstore"
	"vrac/internal/models"
	"vrac/internal/store"
)

// Sweeper reclaims storage the upload path leaves behind: blobs from
// superseded attempts, blobs of expired or deleted tokens, and tokens
// that can never be used again. Every pass is idempotent, so a crashed
// or concurrent sweep just means the next one finishes the job.
type Sweeper struct {
	store    *store.Store
	backends map[string]blobstore.Backend
	logger   *slog.Logger
}

// Result summarizes one sweep pass.
type Result struct {
	StaleBlobs   int `json:"stale_blobs"`
	ExpiredBlobs int `json:"expired_blobs"`
	DeadTokens   int `json:"dead_tokens"`
	Errors       int `json:"errors"`
}

// New creates a sweeper over the given metadata store and backends,
// keyed by backend kind.
func New(st *store.Store, backends map[string]blobstore.Backend, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    st,
		backends: backends,
		logger:   logger.With("component", "sweep"),
	}
}

// Run performs one maintenance pass. Individual failures are logged and
// counted but never stop the pass.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (*Result, error) {
	result := &Result{}

	stale, err := s.store.ListStaleBlobs(ctx)
	if err != nil {
		return nil, err
	}
	for _, blob := range stale {
		if s.reapBlob(ctx, blob) {
			result.StaleBlobs++
		} else {
			result.Errors++
		}
	}

	expired, err := s.store.ListExpiredBlobs(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, blob := range expired {
		if s.reapBlob(ctx, blob) {
			result.ExpiredBlobs++
		} else {
			result.Errors++
		}
	}

	dead, err := s.store.ListDeadTokens(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, token := range dead {
		deleted, err := s.store.SoftDelete(ctx, token.ID, now)
		if err != nil {
			s.logger.Warn("soft delete failed", "token", token.ID, "error", err)
			result.Errors++
			continue
		}
		if deleted {
			result.DeadTokens++
		}
	}

	s.logger.Info("sweep complete",
		"stale_blobs", result.StaleBlobs,
		"expired_blobs", result.ExpiredBlobs,
		"dead_tokens", result.DeadTokens,
		"errors", result.Errors,
	)
	return result, nil
}

// Loop runs sweep passes on a fixed interval until the context ends.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx, time.Now().UTC()); err != nil {
				s.logger.Error("sweep pass failed", "error", err)
			}
		}
	}
}

// reapBlob deletes a blob's bytes and then its registry row. The row
// goes last so a failed byte delete leaves the blob visible for the
// next pass instead of leaking storage.
func (s *Sweeper) reapBlob(ctx context.Context, blob models.Blob) bool {
	if blob.Locator != "" {
		loc, err := blobstore.ParseLocator(blob.Locator)
		if err != nil {
			s.logger.Warn("unreadable locator", "blob", blob.ID, "error", err)
			return false
		}
		backend, ok := s.backends[loc.Kind]
		if !ok {
			s.logger.Warn("no backend for blob", "blob", blob.ID, "kind", loc.Kind)
			return false
		}
		if err := backend.Delete(ctx, loc); err != nil {
			s.logger.Warn("backend delete failed", "blob", blob.ID, "error", err)
			return false
		}
	}
	if err := s.store.DeleteBlob(ctx, blob.ID); err != nil {
		s.logger.Warn("registry delete failed", "blob", blob.ID, "error", err)
		return false
	}
	return true
}
