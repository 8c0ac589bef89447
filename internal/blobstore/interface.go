package blobstore

import (
	"context"
	"fmt"
	"io"
)

const (
	// KindFilesystem stores blob bytes in a local directory tree.
	KindFilesystem = "filesystem"
	// KindObjectStore stores blob bytes in an S3-compatible bucket.
	KindObjectStore = "object_store"
)

// CreateOptions carries the backend-agnostic inputs for a new object.
type CreateOptions struct {
	Key         string
	ContentType string
}

// Backend is the byte-storage abstraction behind the blob registry.
// The registry never interprets locators; only the backend that issued
// one can resolve it.
type Backend interface {
	Kind() string
	Create(ctx context.Context, opts CreateOptions) (Sink, error)
	Open(ctx context.Context, loc Locator) (io.ReadCloser, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, loc Locator) error
}

// Sink receives one object's bytes. Exactly one of Finalize or Abort
// must be called; Finalize makes the bytes durable and returns the
// locator, Abort discards everything written so far.
type Sink interface {
	io.Writer
	Finalize(ctx context.Context) (Locator, error)
	Abort(ctx context.Context) error
}

// ObjectKey builds the storage key for one file of an upload attempt.
func ObjectKey(tokenID string, attempt int64, index int) string {
	return fmt.Sprintf("%s_%02d_%03d", tokenID, attempt, index)
}
