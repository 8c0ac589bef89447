package blobstore

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// RetryConfig controls the bounded retry wrapper.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// WithRetry wraps a backend so transient Open and Delete errors are
// retried with exponential backoff. Create is passed through untouched:
// a request body streams exactly once and is never replayed.
func WithRetry(inner Backend, logger *slog.Logger, cfg RetryConfig) Backend {
	if inner == nil {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryBackend{inner: inner, logger: logger, cfg: cfg}
}

type retryBackend struct {
	inner  Backend
	logger *slog.Logger
	cfg    RetryConfig
}

func (b *retryBackend) Kind() string {
	return b.inner.Kind()
}

func (b *retryBackend) Create(ctx context.Context, opts CreateOptions) (Sink, error) {
	return b.inner.Create(ctx, opts)
}

func (b *retryBackend) Open(ctx context.Context, loc Locator) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := b.withRetry(ctx, "open", loc, func(ctx context.Context) error {
		var err error
		rc, err = b.inner.Open(ctx, loc)
		return err
	})
	return rc, err
}

func (b *retryBackend) Delete(ctx context.Context, loc Locator) error {
	return b.withRetry(ctx, "delete", loc, func(ctx context.Context) error {
		return b.inner.Delete(ctx, loc)
	})
}

func (b *retryBackend) withRetry(ctx context.Context, op string, loc Locator, fn func(context.Context) error) error {
	attempts := b.cfg.MaxAttempts
	delay := b.cfg.BaseDelay
	if attempts <= 1 {
		return fn(ctx)
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == attempts {
			return err
		}
		b.logger.Warn("transient backend error",
			"operation", op,
			"kind", loc.Kind,
			"key", loc.Key,
			"path", loc.Path,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		next := time.Duration(float64(delay) * b.cfg.Multiplier)
		if next > b.cfg.MaxDelay {
			next = b.cfg.MaxDelay
		}
		delay = next
	}
	return lastErr
}
