package sweep

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"vrac/internal/blobstore"
	"vrac/internal/models"
)

// BackfillMetadata finds completed blobs that predate the size/type side
// table, streams each one through its backend to count bytes and sniff a
// content type, and records the result. Returns the number of blobs
// backfilled; failures skip the blob and continue.
func (s *Sweeper) BackfillMetadata(ctx context.Context) (int, error) {
	blobs, err := s.store.ListBlobsMissingMetadata(ctx)
	if err != nil {
		return 0, err
	}

	filled := 0
	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return filled, err
		}
		md, err := s.measureBlob(ctx, blob)
		if err != nil {
			s.logger.Warn("metadata backfill failed", "blob", blob.ID, "error", err)
			continue
		}
		if err := s.store.UpsertBlobMetadata(ctx, *md); err != nil {
			s.logger.Warn("metadata backfill write failed", "blob", blob.ID, "error", err)
			continue
		}
		filled++
	}

	s.logger.Info("metadata backfill complete", "candidates", len(blobs), "filled", filled)
	return filled, nil
}

func (s *Sweeper) measureBlob(ctx context.Context, blob models.Blob) (*models.BlobMetadata, error) {
	loc, err := blobstore.ParseLocator(blob.Locator)
	if err != nil {
		return nil, err
	}
	backend, ok := s.backends[loc.Kind]
	if !ok {
		return nil, fmt.Errorf("no backend registered for kind %q", loc.Kind)
	}

	rc, err := backend.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	head = head[:n]

	rest, err := io.Copy(io.Discard, rc)
	if err != nil {
		return nil, err
	}

	mimeType := blob.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(head)
	}

	return &models.BlobMetadata{
		BlobID:    blob.ID,
		SizeBytes: int64(n) + rest,
		MimeType:  mimeType,
	}, nil
}
