package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"vrac/internal/blobstore"
	"vrac/internal/models"
	"vrac/internal/store"
)

// UploadService runs the upload pipeline: resolve the token, claim a fresh
// attempt number, stream every file into the backend, and mark the token
// used only after all of them are durable. A failed attempt leaves the
// previous winning attempt untouched.
type UploadService struct {
	store   *store.Store
	backend blobstore.Backend
	logger  *slog.Logger
}

// UploadedFile describes one file accepted by an upload attempt.
type UploadedFile struct {
	BlobID    string
	Name      string
	SizeBytes int64
	MimeType  string
}

// UploadResult describes one completed upload attempt.
type UploadResult struct {
	TokenID string
	Path    string
	Attempt int64
	Files   []UploadedFile
}

// NewUploadService creates the upload pipeline over a store and the
// backend new blobs are written to.
func NewUploadService(st *store.Store, backend blobstore.Backend, logger *slog.Logger) *UploadService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadService{store: st, backend: backend, logger: logger}
}

type writtenBlob struct {
	id      string
	locator blobstore.Locator
	durable bool
}

// Upload consumes a multipart stream for the token on path. File parts are
// streamed to the backend one at a time; nothing is buffered whole. The
// size cap applies to the attempt's total, not per file, and is enforced
// mid-stream.
func (s *UploadService) Upload(ctx context.Context, path string, form *multipart.Reader, now time.Time) (*UploadResult, error) {
	token, err := s.store.ResolveForUpload(ctx, path, now)
	if err != nil {
		var rejected *store.UploadRejectedError
		if errors.As(err, &rejected) {
			return nil, mapUploadReject(err)
		}
		return nil, storeFailure(err)
	}

	attempt, err := s.store.NextAttempt(ctx, token.ID)
	if err != nil {
		return nil, storeFailure(err)
	}

	result := &UploadResult{TokenID: token.ID, Path: token.Path, Attempt: attempt}
	var written []writtenBlob
	var total int64

	for index := 0; ; {
		part, err := form.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.abandon(ctx, written)
			return nil, classifyStreamError(err)
		}
		if part.FileName() == "" {
			// Non-file form fields carry nothing we store.
			_ = part.Close()
			continue
		}

		file, err := s.acceptPart(ctx, token, attempt, index, part, total, now)
		_ = part.Close()
		if err != nil {
			s.abandon(ctx, written)
			return nil, err
		}

		written = append(written, writtenBlob{id: file.BlobID, locator: file.locator, durable: true})
		result.Files = append(result.Files, file.UploadedFile)
		total += file.SizeBytes
		index++
	}

	if len(result.Files) == 0 {
		return nil, badRequestCode(fmt.Errorf("multipart request carried no files"), ErrCodeMissingRequired)
	}

	if err := s.store.MarkUsed(ctx, token.ID, attempt, now); err != nil {
		// A concurrent attempt may have superseded this one while its
		// parts were streaming. Its blobs must not linger as stale
		// bytes, and the client must see a failure, not a file list.
		s.abandon(ctx, written)
		if errors.Is(err, store.ErrAttemptSuperseded) {
			return nil, conflictCode(fmt.Errorf("upload superseded by a concurrent attempt on %q", path), ErrCodeConflict)
		}
		return nil, storeFailure(err)
	}
	return result, nil
}

type acceptedFile struct {
	UploadedFile
	locator blobstore.Locator
}

// acceptPart streams one file part into the backend and registers it.
func (s *UploadService) acceptPart(ctx context.Context, token *models.Token, attempt int64, index int, part *multipart.Part, total int64, now time.Time) (*acceptedFile, error) {
	var capBytes int64
	if token.MaxSizeBytes > 0 {
		capBytes = token.MaxSizeBytes - total
		if capBytes <= 0 {
			return nil, sizeLimitExceeded()
		}
	}

	name := filepath.Base(strings.TrimSpace(part.FileName()))
	buffered := bufio.NewReader(part)
	peek, err := buffered.Peek(512)
	if err != nil && err != io.EOF {
		return nil, classifyStreamError(err)
	}
	mediaType := detectMediaType(part.Header.Get("Content-Type"), peek)

	blob, err := s.store.BeginBlob(ctx, token.ID, attempt, name, mediaType, models.BackendKind(s.backend.Kind()), now)
	if err != nil {
		return nil, storeFailure(err)
	}

	sink, err := s.backend.Create(ctx, blobstore.CreateOptions{
		Key:         blobstore.ObjectKey(token.ID, attempt, index),
		ContentType: mediaType,
	})
	if err != nil {
		return nil, storageFailure(err)
	}

	n, err := blobstore.WriteStream(ctx, sink, buffered, capBytes)
	if err != nil {
		if abortErr := sink.Abort(ctx); abortErr != nil {
			s.logger.Warn("sink abort failed", "blob", blob.ID, "error", abortErr)
		}
		return nil, classifyStreamError(err)
	}

	locator, err := sink.Finalize(ctx)
	if err != nil {
		return nil, storageFailure(err)
	}
	encoded, err := locator.Encode()
	if err != nil {
		return nil, internalError(err)
	}

	if err := s.store.CompleteBlob(ctx, blob.ID, encoded, n, mediaType, now); err != nil {
		if delErr := s.backend.Delete(ctx, locator); delErr != nil {
			s.logger.Warn("orphan cleanup failed", "blob", blob.ID, "error", delErr)
		}
		return nil, storeFailure(err)
	}

	return &acceptedFile{
		UploadedFile: UploadedFile{BlobID: blob.ID, Name: name, SizeBytes: n, MimeType: mediaType},
		locator:      locator,
	}, nil
}

// abandon best-effort deletes everything a failed attempt wrote. Anything
// left behind is picked up by the sweep once the attempt goes stale.
func (s *UploadService) abandon(ctx context.Context, written []writtenBlob) {
	for _, blob := range written {
		if blob.durable {
			if err := s.backend.Delete(ctx, blob.locator); err != nil {
				s.logger.Warn("abandon delete failed", "blob", blob.id, "error", err)
				continue
			}
		}
		if err := s.store.DeleteBlob(ctx, blob.id); err != nil {
			s.logger.Warn("abandon registry delete failed", "blob", blob.id, "error", err)
		}
	}
}

// detectMediaType prefers the client's declared type and falls back to
// content sniffing when it is absent or the generic default.
func detectMediaType(declared string, peek []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(peek)
}
