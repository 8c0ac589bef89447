package blobstore

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/minio/minio-go/v7"
)

var (
	// ErrSizeLimitExceeded reports that a stream crossed the token's size cap.
	ErrSizeLimitExceeded = errors.New("size limit exceeded")
	// ErrObjectMissing reports that a locator points at bytes the backend
	// no longer holds. The registry said the blob exists, the backend
	// disagrees; callers surface this, they never mask it.
	ErrObjectMissing = errors.New("backend object missing")
)

// transientS3Codes are S3 error codes worth a bounded retry.
var transientS3Codes = map[string]bool{
	"SlowDown":           true,
	"InternalError":      true,
	"ServiceUnavailable": true,
	"RequestTimeout":     true,
	"OperationAborted":   true,
}

// IsTransient reports whether a backend error is worth retrying.
// Missing objects, cancellations, and size violations never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrObjectMissing) || errors.Is(err, ErrSizeLimitExceeded) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code != "" {
		if transientS3Codes[resp.Code] {
			return true
		}
		return resp.StatusCode >= 500
	}

	message := err.Error()
	return strings.Contains(message, "connection refused") ||
		strings.Contains(message, "connection reset") ||
		strings.Contains(message, "broken pipe") ||
		strings.Contains(message, "i/o timeout") ||
		strings.Contains(message, "unexpected EOF")
}
