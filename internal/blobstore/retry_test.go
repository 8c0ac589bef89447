package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

// flakyBackend fails Open and Delete a configured number of times.
type flakyBackend struct {
	failures  int
	openCalls int
	delCalls  int
	err       error
}

func (f *flakyBackend) Kind() string { return KindFilesystem }

func (f *flakyBackend) Create(ctx context.Context, opts CreateOptions) (Sink, error) {
	return nil, fmt.Errorf("not used")
}

func (f *flakyBackend) Open(ctx context.Context, loc Locator) (io.ReadCloser, error) {
	f.openCalls++
	if f.openCalls <= f.failures {
		return nil, f.err
	}
	return io.NopCloser(nil), nil
}

func (f *flakyBackend) Delete(ctx context.Context, loc Locator) error {
	f.delCalls++
	if f.delCalls <= f.failures {
		return f.err
	}
	return nil
}

func transientErr() error {
	return fmt.Errorf("dial tcp: connection refused")
}

func retryCfg() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	inner := &flakyBackend{failures: 2, err: transientErr()}
	backend := WithRetry(inner, nil, retryCfg())

	if _, err := backend.Open(context.Background(), Locator{Kind: KindFilesystem, Path: "p"}); err != nil {
		t.Fatalf("expected recovery within budget, got %v", err)
	}
	if inner.openCalls != 3 {
		t.Fatalf("expected 3 open calls, got %d", inner.openCalls)
	}

	if err := backend.Delete(context.Background(), Locator{Kind: KindFilesystem, Path: "p"}); err != nil {
		t.Fatalf("expected delete recovery, got %v", err)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	inner := &flakyBackend{failures: 10, err: transientErr()}
	backend := WithRetry(inner, nil, retryCfg())

	_, err := backend.Open(context.Background(), Locator{Kind: KindFilesystem, Path: "p"})
	if err == nil {
		t.Fatal("expected failure after budget exhausted")
	}
	if inner.openCalls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", inner.openCalls)
	}
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyBackend{failures: 10, err: fmt.Errorf("%w: objects/ab/x", ErrObjectMissing)}
	backend := WithRetry(inner, nil, retryCfg())

	_, err := backend.Open(context.Background(), Locator{Kind: KindFilesystem, Path: "p"})
	if !errors.Is(err, ErrObjectMissing) {
		t.Fatalf("expected ErrObjectMissing, got %v", err)
	}
	if inner.openCalls != 1 {
		t.Fatalf("missing object must not be retried, got %d attempts", inner.openCalls)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"missing object", ErrObjectMissing, false},
		{"size limit", ErrSizeLimitExceeded, false},
		{"canceled", context.Canceled, false},
		{"connection refused", transientErr(), true},
		{"connection reset", fmt.Errorf("read: connection reset by peer"), true},
		{"slow down", minio.ErrorResponse{Code: "SlowDown", StatusCode: http.StatusServiceUnavailable}, true},
		{"server error", minio.ErrorResponse{Code: "Whatever", StatusCode: http.StatusInternalServerError}, true},
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, false},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, false},
		{"plain error", fmt.Errorf("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
