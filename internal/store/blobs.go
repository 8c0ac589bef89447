package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vrac/internal/models"
)

var (
	// ErrBlobNotFound is returned when a blob id does not exist.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrBlobConflict is returned when CompleteBlob is called twice with
	// different arguments for the same blob.
	ErrBlobConflict = errors.New("blob already completed with different content")
)

// BeginBlob registers an incomplete blob for an upload attempt. The blob
// stays invisible to downloads until CompleteBlob records its locator.
func (s *Store) BeginBlob(ctx context.Context, tokenID string, attempt int64, name, mimeType string, backend models.BackendKind, now time.Time) (*models.Blob, error) {
	if tokenID == "" {
		return nil, fmt.Errorf("token id is required")
	}
	if attempt <= 0 {
		return nil, fmt.Errorf("attempt must be > 0")
	}
	kind, err := models.ParseBackendKind(string(backend))
	if err != nil {
		return nil, err
	}

	id, err := GenerateBlobID(s.BlobExists)
	if err != nil {
		return nil, err
	}

	blob := &models.Blob{
		ID:        id,
		TokenID:   tokenID,
		Attempt:   attempt,
		Name:      name,
		MimeType:  mimeType,
		Backend:   string(kind),
		CreatedAt: now.UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blobs (id, token_id, attempt, name, mime_type, backend, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, blob.ID, blob.TokenID, blob.Attempt, nullIfEmpty(blob.Name), nullIfEmpty(blob.MimeType), blob.Backend, formatTime(blob.CreatedAt))
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// CompleteBlob marks a blob's bytes as durably stored and records its size
// and detected content type. Calling it again with identical arguments is a
// no-op; differing arguments are a conflict.
func (s *Store) CompleteBlob(ctx context.Context, blobID, locator string, sizeBytes int64, mimeType string, now time.Time) (err error) {
	if locator == "" {
		return fmt.Errorf("locator is required")
	}
	if sizeBytes < 0 {
		return fmt.Errorf("size must be >= 0")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, blobSelect+" WHERE id = ? LIMIT 1", blobID)
	blob, err := scanBlob(row)
	if err != nil {
		return err
	}
	if blob == nil {
		return ErrBlobNotFound
	}
	if blob.Completed() {
		var existingSize int64
		if scanErr := tx.QueryRowContext(ctx,
			"SELECT size_bytes FROM blob_metadata WHERE blob_id = ?", blobID,
		).Scan(&existingSize); scanErr != nil && scanErr != sql.ErrNoRows {
			return scanErr
		}
		if blob.Locator == locator && existingSize == sizeBytes {
			return tx.Commit()
		}
		return ErrBlobConflict
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE blobs
		SET locator = ?, mime_type = ?, completed_at = ?
		WHERE id = ?
	`, locator, nullIfEmpty(mimeType), formatTime(now), blobID); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO blob_metadata (blob_id, size_bytes, mime_type)
		VALUES (?, ?, ?)
		ON CONFLICT(blob_id) DO UPDATE SET size_bytes = excluded.size_bytes, mime_type = excluded.mime_type
	`, blobID, sizeBytes, nullIfEmpty(mimeType)); err != nil {
		return err
	}

	return tx.Commit()
}

// GetBlob returns a blob by id, or nil when it does not exist.
func (s *Store) GetBlob(ctx context.Context, id string) (*models.Blob, error) {
	row := s.db.QueryRowContext(ctx, blobSelect+" WHERE id = ? LIMIT 1", id)
	return scanBlob(row)
}

// GetLiveBlob returns one completed, current-attempt blob of a token.
// Stale and incomplete blobs look missing.
func (s *Store) GetLiveBlob(ctx context.Context, tokenID, blobID string) (*models.Blob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.token_id, b.attempt, b.name, b.mime_type, b.backend, b.locator, b.created_at, b.completed_at
		FROM blobs b
		JOIN tokens t ON t.id = b.token_id
		WHERE b.id = ? AND b.token_id = ?
		  AND b.completed_at IS NOT NULL
		  AND b.attempt = t.attempt_counter
		LIMIT 1
	`, blobID, tokenID)
	return scanBlob(row)
}

// ListLiveBlobs returns a token's completed blobs from its winning attempt,
// in upload order.
func (s *Store) ListLiveBlobs(ctx context.Context, tokenID string) ([]models.Blob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.token_id, b.attempt, b.name, b.mime_type, b.backend, b.locator, b.created_at, b.completed_at
		FROM blobs b
		JOIN tokens t ON t.id = b.token_id
		WHERE b.token_id = ?
		  AND b.completed_at IS NOT NULL
		  AND b.attempt = t.attempt_counter
		ORDER BY b.rowid ASC
	`, tokenID)
	if err != nil {
		return nil, err
	}
	return collectBlobs(rows)
}

// ListStaleBlobs returns blobs left behind by superseded attempts across
// all tokens. Blobs of the current attempt are never reported, complete
// or not, so an in-flight upload is safe from the sweep.
func (s *Store) ListStaleBlobs(ctx context.Context) ([]models.Blob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.token_id, b.attempt, b.name, b.mime_type, b.backend, b.locator, b.created_at, b.completed_at
		FROM blobs b
		JOIN tokens t ON t.id = b.token_id
		WHERE b.attempt <> t.attempt_counter
		ORDER BY b.rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	return collectBlobs(rows)
}

// ListExpiredBlobs returns blobs whose owning token no longer serves
// content: soft-deleted, content-expired, or never used past its window.
func (s *Store) ListExpiredBlobs(ctx context.Context, now time.Time) ([]models.Blob, error) {
	cutoff := formatTime(now)
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.token_id, b.attempt, b.name, b.mime_type, b.backend, b.locator, b.created_at, b.completed_at
		FROM blobs b
		JOIN tokens t ON t.id = b.token_id
		WHERE t.deleted_at IS NOT NULL
		   OR (t.content_expires_at IS NOT NULL AND t.content_expires_at <= ?)
		   OR (t.valid_until <= ? AND t.used_at IS NULL)
		ORDER BY b.rowid ASC
	`, cutoff, cutoff)
	if err != nil {
		return nil, err
	}
	return collectBlobs(rows)
}

// DeleteBlob removes a blob row. Its metadata row cascades. Deleting a
// missing blob is not an error, so the sweep can retry freely.
func (s *Store) DeleteBlob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE id = ?", id)
	return err
}

// GetBlobMetadata returns the size/type record for a blob, or nil when it
// has not been recorded yet.
func (s *Store) GetBlobMetadata(ctx context.Context, blobID string) (*models.BlobMetadata, error) {
	var md models.BlobMetadata
	var mimeType sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT blob_id, size_bytes, mime_type
		FROM blob_metadata
		WHERE blob_id = ?
		LIMIT 1
	`, blobID).Scan(&md.BlobID, &md.SizeBytes, &mimeType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	md.MimeType = mimeType.String
	return &md, nil
}

// UpsertBlobMetadata records or replaces a blob's size/type record.
// Used by the metadata backfill.
func (s *Store) UpsertBlobMetadata(ctx context.Context, md models.BlobMetadata) error {
	if md.BlobID == "" {
		return fmt.Errorf("blob id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blob_metadata (blob_id, size_bytes, mime_type)
		VALUES (?, ?, ?)
		ON CONFLICT(blob_id) DO UPDATE SET size_bytes = excluded.size_bytes, mime_type = excluded.mime_type
	`, md.BlobID, md.SizeBytes, nullIfEmpty(md.MimeType))
	return err
}

// ListBlobsMissingMetadata returns completed blobs lacking a size/type
// record, oldest first.
func (s *Store) ListBlobsMissingMetadata(ctx context.Context) ([]models.Blob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.token_id, b.attempt, b.name, b.mime_type, b.backend, b.locator, b.created_at, b.completed_at
		FROM blobs b
		LEFT JOIN blob_metadata m ON m.blob_id = b.id
		WHERE b.completed_at IS NOT NULL AND m.blob_id IS NULL
		ORDER BY b.rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	return collectBlobs(rows)
}

const blobSelect = `
	SELECT id, token_id, attempt, name, mime_type, backend, locator, created_at, completed_at
	FROM blobs`

func collectBlobs(rows *sql.Rows) ([]models.Blob, error) {
	defer rows.Close()
	blobs := make([]models.Blob, 0)
	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return nil, err
		}
		if blob == nil {
			continue
		}
		blobs = append(blobs, *blob)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return blobs, nil
}

func scanBlob(scanner interface {
	Scan(dest ...any) error
}) (*models.Blob, error) {
	var blob models.Blob
	var name, mimeType, locator, completedAt sql.NullString
	var createdAt string
	err := scanner.Scan(
		&blob.ID, &blob.TokenID, &blob.Attempt, &name, &mimeType,
		&blob.Backend, &locator, &createdAt, &completedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	blob.Name = name.String
	blob.MimeType = mimeType.String
	blob.Locator = locator.String
	if blob.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if blob.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &blob, nil
}
