package models

import (
	"fmt"
	"strings"
	"time"
)

// BackendKind discriminates which storage backend holds a blob's bytes.
type BackendKind string

const (
	BackendFilesystem  BackendKind = "filesystem"
	BackendObjectStore BackendKind = "object_store"
)

var validBackendKinds = map[BackendKind]struct{}{
	BackendFilesystem:  {},
	BackendObjectStore: {},
}

// Blob is one uploaded file tied to a token and the attempt that wrote it.
// The Locator field is an opaque, backend-specific JSON document; only the
// backend that produced it may interpret it.
type Blob struct {
	ID          string     `json:"id"`
	TokenID     string     `json:"token_id"`
	Attempt     int64      `json:"attempt"`
	Name        string     `json:"name,omitempty"`
	MimeType    string     `json:"mime_type,omitempty"`
	Backend     string     `json:"backend"`
	Locator     string     `json:"locator,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Completed reports whether the blob's upload stream finished successfully.
// Incomplete blobs are invisible to downloads.
func (b *Blob) Completed() bool {
	return b != nil && b.CompletedAt != nil
}

// BlobMetadata is the secondary size/type record kept apart from the blob
// row so it can be backfilled or recomputed without touching blob identity.
type BlobMetadata struct {
	BlobID    string `json:"blob_id"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type,omitempty"`
}

func ParseBackendKind(raw string) (BackendKind, error) {
	value := BackendKind(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("storage backend kind is required")
	}
	if _, ok := validBackendKinds[value]; !ok {
		return "", fmt.Errorf("unknown storage backend: %s", value)
	}
	return value, nil
}
