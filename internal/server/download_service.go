package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"vrac/internal/blobstore"
	"vrac/internal/models"
	"vrac/internal/store"
)

// DownloadService resolves share paths into listings and file streams.
// Only completed blobs of the token's winning attempt are ever visible.
type DownloadService struct {
	store    *store.Store
	backends map[string]blobstore.Backend
	logger   *slog.Logger
}

// FileInfo describes one downloadable file.
type FileInfo struct {
	ID        string
	Name      string
	MimeType  string
	SizeBytes int64
}

// Listing is the content of one share path.
type Listing struct {
	Token *models.Token
	Files []FileInfo
}

// NewDownloadService creates the download side over a store and the
// backends registered by kind.
func NewDownloadService(st *store.Store, backends map[string]blobstore.Backend, logger *slog.Logger) *DownloadService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadService{store: st, backends: backends, logger: logger}
}

// Listing returns the files served on a path, or a rejection describing
// why nothing is served there.
func (s *DownloadService) Listing(ctx context.Context, path string, now time.Time) (*Listing, error) {
	token, err := s.resolve(ctx, path, now)
	if err != nil {
		return nil, err
	}

	blobs, err := s.store.ListLiveBlobs(ctx, token.ID)
	if err != nil {
		return nil, storeFailure(err)
	}

	listing := &Listing{Token: token, Files: make([]FileInfo, 0, len(blobs))}
	for _, blob := range blobs {
		info := FileInfo{ID: blob.ID, Name: blob.Name, MimeType: blob.MimeType}
		if info.Name == "" {
			info.Name = blob.ID
		}
		md, err := s.store.GetBlobMetadata(ctx, blob.ID)
		if err != nil {
			return nil, storeFailure(err)
		}
		if md != nil {
			info.SizeBytes = md.SizeBytes
			if info.MimeType == "" {
				info.MimeType = md.MimeType
			}
		}
		listing.Files = append(listing.Files, info)
	}
	return listing, nil
}

// OpenFile resolves one blob on a path and opens its byte stream. The
// caller owns the returned reader.
func (s *DownloadService) OpenFile(ctx context.Context, path, blobID string, now time.Time) (*FileInfo, io.ReadCloser, error) {
	token, err := s.resolve(ctx, path, now)
	if err != nil {
		return nil, nil, err
	}

	blob, err := s.store.GetLiveBlob(ctx, token.ID, blobID)
	if err != nil {
		return nil, nil, storeFailure(err)
	}
	if blob == nil {
		return nil, nil, notFoundCode(fmt.Errorf("no such file on path %q", path), ErrCodeBlobNotFound)
	}

	info := FileInfo{ID: blob.ID, Name: blob.Name, MimeType: blob.MimeType}
	if info.Name == "" {
		info.Name = blob.ID
	}
	if md, err := s.store.GetBlobMetadata(ctx, blob.ID); err != nil {
		return nil, nil, storeFailure(err)
	} else if md != nil {
		info.SizeBytes = md.SizeBytes
		if info.MimeType == "" {
			info.MimeType = md.MimeType
		}
	}

	rc, err := s.openBlob(ctx, blob)
	if err != nil {
		return nil, nil, err
	}
	return &info, rc, nil
}

func (s *DownloadService) resolve(ctx context.Context, path string, now time.Time) (*models.Token, error) {
	token, err := s.store.ResolveForDownload(ctx, path, now)
	if err != nil {
		var rejected *store.DownloadRejectedError
		if errors.As(err, &rejected) {
			return nil, mapDownloadReject(err)
		}
		return nil, storeFailure(err)
	}
	return token, nil
}

// openBlob resolves a blob's locator against its backend. A locator whose
// bytes are gone is a registry/backend disagreement and is surfaced, not
// masked.
func (s *DownloadService) openBlob(ctx context.Context, blob *models.Blob) (io.ReadCloser, error) {
	loc, err := blobstore.ParseLocator(blob.Locator)
	if err != nil {
		return nil, internalError(fmt.Errorf("blob %s: %w", blob.ID, err))
	}
	backend, ok := s.backends[loc.Kind]
	if !ok {
		return nil, internalError(fmt.Errorf("blob %s: no backend for kind %q", blob.ID, loc.Kind))
	}
	rc, err := backend.Open(ctx, loc)
	if err != nil {
		if errors.Is(err, blobstore.ErrObjectMissing) {
			return nil, makeAPIError(500, "internal", ErrCodeObjectMissing,
				fmt.Errorf("blob %s: registered bytes are missing from the backend", blob.ID))
		}
		return nil, storageFailure(err)
	}
	return rc, nil
}
