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
	// ErrTokenNotFound is returned when a token id does not exist.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenPathTaken is returned when a live token already claims a path.
	ErrTokenPathTaken = errors.New("a live token already claims this path")
	// ErrAttemptSuperseded is returned when MarkUsed is called for an
	// attempt that is no longer the token's current one. The caller must
	// treat its upload as failed; the newer attempt owns the token.
	ErrAttemptSuperseded = errors.New("upload attempt superseded")
)

const counterMaxRetries = 5

// UploadRejectKind classifies why a path cannot accept an upload.
type UploadRejectKind string

const (
	UploadRejectNotFound    UploadRejectKind = "not_found"
	UploadRejectExpired     UploadRejectKind = "expired"
	UploadRejectAlreadyUsed UploadRejectKind = "already_used"
)

// UploadRejectedError reports that a path has no token able to accept an upload.
type UploadRejectedError struct {
	Path string
	Kind UploadRejectKind
}

func (e *UploadRejectedError) Error() string {
	return fmt.Sprintf("upload rejected for path %q: %s", e.Path, e.Kind)
}

// DownloadRejectKind classifies why a path cannot serve downloads.
type DownloadRejectKind string

const (
	DownloadRejectNotFound       DownloadRejectKind = "not_found"
	DownloadRejectContentExpired DownloadRejectKind = "content_expired"
)

// DownloadRejectedError reports that a path has no downloadable content.
type DownloadRejectedError struct {
	Path string
	Kind DownloadRejectKind
}

func (e *DownloadRejectedError) Error() string {
	return fmt.Sprintf("download rejected for path %q: %s", e.Path, e.Kind)
}

// TokenSpec carries the caller-supplied fields for a new token.
type TokenSpec struct {
	Path                     string
	MaxSizeBytes             int64
	ValidUntil               time.Time
	ContentExpiresAfterHours int64
	UsePolicy                models.UsePolicy
}

// CreateToken creates a new upload token. It fails with ErrTokenPathTaken
// while another non-deleted token on the same path is still uploadable or
// still serving content.
func (s *Store) CreateToken(ctx context.Context, spec TokenSpec, now time.Time) (*models.Token, error) {
	if err := models.ValidateTokenPath(spec.Path); err != nil {
		return nil, err
	}
	if spec.ValidUntil.IsZero() || !now.Before(spec.ValidUntil) {
		return nil, fmt.Errorf("valid_until must be in the future")
	}
	if spec.MaxSizeBytes < 0 {
		return nil, fmt.Errorf("max_size_bytes must be >= 0")
	}
	if spec.ContentExpiresAfterHours < 0 {
		return nil, fmt.Errorf("content_expires_after_hours must be >= 0")
	}
	policy := spec.UsePolicy
	if policy == "" {
		policy = models.UsePolicySingle
	}

	// The id is generated before the transaction starts because the pool
	// holds a single connection; the existence probe would otherwise wait
	// on the transaction forever.
	id, err := GenerateTokenID(s.TokenExists)
	if err != nil {
		return nil, err
	}

	token := &models.Token{
		ID:                       id,
		Path:                     spec.Path,
		MaxSizeBytes:             spec.MaxSizeBytes,
		ValidUntil:               spec.ValidUntil.UTC(),
		ContentExpiresAfterHours: spec.ContentExpiresAfterHours,
		UsePolicy:                string(policy),
		CreatedAt:                now.UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Path-claim check and insert share the transaction so two concurrent
	// creates cannot both claim one path.
	row := tx.QueryRowContext(ctx, tokenSelect+`
		WHERE path = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, spec.Path)
	existing, err := scanToken(row)
	if err != nil {
		return nil, err
	}
	if existing != nil && tokenClaimsPath(existing, now) {
		err = ErrTokenPathTaken
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tokens (id, path, max_size_bytes, valid_until, content_expires_after_hours, use_policy, attempt_counter, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, token.ID, token.Path, token.MaxSizeBytes, formatTime(token.ValidUntil), token.ContentExpiresAfterHours, token.UsePolicy, formatTime(token.CreatedAt))
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return token, nil
}

// GetToken returns a token by id, or nil when it does not exist.
func (s *Store) GetToken(ctx context.Context, id string) (*models.Token, error) {
	row := s.db.QueryRowContext(ctx, tokenSelect+" WHERE id = ? LIMIT 1", id)
	return scanToken(row)
}

// ResolveForUpload finds the token able to accept an upload on a path.
// Rejections carry an UploadRejectedError describing why.
func (s *Store) ResolveForUpload(ctx context.Context, path string, now time.Time) (*models.Token, error) {
	token, err := s.findTokenByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, &UploadRejectedError{Path: path, Kind: UploadRejectNotFound}
	}
	if !now.Before(token.ValidUntil) {
		return nil, &UploadRejectedError{Path: path, Kind: UploadRejectExpired}
	}
	if token.Used() && models.UsePolicy(token.UsePolicy) != models.UsePolicyMulti {
		return nil, &UploadRejectedError{Path: path, Kind: UploadRejectAlreadyUsed}
	}
	return token, nil
}

// ResolveForDownload finds the token serving content on a path. Soft-deleted
// and never-used tokens look identical to missing ones.
func (s *Store) ResolveForDownload(ctx context.Context, path string, now time.Time) (*models.Token, error) {
	token, err := s.findTokenByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if token == nil || !token.Used() {
		return nil, &DownloadRejectedError{Path: path, Kind: DownloadRejectNotFound}
	}
	if token.ContentExpired(now) {
		return nil, &DownloadRejectedError{Path: path, Kind: DownloadRejectContentExpired}
	}
	return token, nil
}

// NextAttempt atomically increments and returns the token's attempt counter.
// Lock contention is retried internally; ids are never handed out twice.
func (s *Store) NextAttempt(ctx context.Context, tokenID string) (int64, error) {
	var lastErr error
	for i := 0; i < counterMaxRetries; i++ {
		var attempt int64
		err := s.db.QueryRowContext(ctx, `
			UPDATE tokens
			SET attempt_counter = attempt_counter + 1
			WHERE id = ? AND deleted_at IS NULL
			RETURNING attempt_counter
		`, tokenID).Scan(&attempt)
		if err == nil {
			return attempt, nil
		}
		if err == sql.ErrNoRows {
			return 0, ErrTokenNotFound
		}
		if !isBusy(err) {
			return 0, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(i+1) * 10 * time.Millisecond):
		}
	}
	return 0, fmt.Errorf("attempt counter contention on %s: %w", tokenID, lastErr)
}

// MarkUsed records a successful upload attempt. used_at and the content
// expiry deadline are set exactly once; repeat calls for the winning
// attempt are no-ops so multi-use tokens keep their original deadline.
// If a newer attempt was allocated meanwhile, the caller gets
// ErrAttemptSuperseded and must treat its upload as failed, otherwise
// its blobs would be stale the moment they were listed.
func (s *Store) MarkUsed(ctx context.Context, tokenID string, attempt int64, now time.Time) error {
	token, err := s.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}
	if token == nil {
		return ErrTokenNotFound
	}
	if token.AttemptCounter != attempt {
		return ErrAttemptSuperseded
	}
	if token.Used() {
		return nil
	}

	var expiresAt any
	if token.ContentExpiresAfterHours > 0 {
		deadline := now.UTC().Add(time.Duration(token.ContentExpiresAfterHours) * time.Hour)
		expiresAt = formatTime(deadline)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tokens
		SET used_at = ?, content_expires_at = ?
		WHERE id = ? AND used_at IS NULL AND attempt_counter = ?
	`, formatTime(now), expiresAt, tokenID, attempt)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Lost a race between the read above and the update: a newer
		// attempt moved the counter, or it also set used_at already.
		current, err := s.GetToken(ctx, tokenID)
		if err != nil {
			return err
		}
		if current == nil || current.AttemptCounter != attempt {
			return ErrAttemptSuperseded
		}
	}
	return nil
}

// SoftDelete marks a token deleted. Returns false when the token was
// missing or already deleted.
func (s *Store) SoftDelete(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tokens
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, formatTime(now), tokenID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListTokens returns tokens newest first, skipping soft-deleted ones unless
// includeDeleted is set.
func (s *Store) ListTokens(ctx context.Context, includeDeleted bool) ([]models.Token, error) {
	query := tokenSelect
	if !includeDeleted {
		query += " WHERE deleted_at IS NULL"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]models.Token, 0)
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		if token == nil {
			continue
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// ListDeadTokens returns non-deleted tokens whose content expired or whose
// validity window closed without a single successful upload. The sweep
// soft-deletes these.
func (s *Store) ListDeadTokens(ctx context.Context, now time.Time) ([]models.Token, error) {
	cutoff := formatTime(now)
	rows, err := s.db.QueryContext(ctx, tokenSelect+`
		WHERE deleted_at IS NULL
		  AND (
			(content_expires_at IS NOT NULL AND content_expires_at <= ?)
			OR (valid_until <= ? AND used_at IS NULL)
		  )
		ORDER BY created_at ASC
	`, cutoff, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]models.Token, 0)
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		if token == nil {
			continue
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// findTokenByPath returns the newest non-deleted token on a path, or nil.
func (s *Store) findTokenByPath(ctx context.Context, path string) (*models.Token, error) {
	row := s.db.QueryRowContext(ctx, tokenSelect+`
		WHERE path = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, path)
	return scanToken(row)
}

// tokenClaimsPath reports whether a token still blocks new tokens on its
// path: it either accepts uploads or serves unexpired content.
func tokenClaimsPath(token *models.Token, now time.Time) bool {
	if token.UploadableAt(now) {
		return true
	}
	return token.Used() && !token.ContentExpired(now)
}

const tokenSelect = `
	SELECT id, path, max_size_bytes, valid_until, content_expires_after_hours,
	       use_policy, attempt_counter, used_at, content_expires_at, created_at, deleted_at
	FROM tokens`

func scanToken(scanner interface {
	Scan(dest ...any) error
}) (*models.Token, error) {
	var token models.Token
	var validUntil, createdAt string
	var usedAt, contentExpiresAt, deletedAt sql.NullString
	err := scanner.Scan(
		&token.ID, &token.Path, &token.MaxSizeBytes, &validUntil,
		&token.ContentExpiresAfterHours, &token.UsePolicy, &token.AttemptCounter,
		&usedAt, &contentExpiresAt, &createdAt, &deletedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if token.ValidUntil, err = parseTime(validUntil); err != nil {
		return nil, err
	}
	if token.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if token.UsedAt, err = parseNullTime(usedAt); err != nil {
		return nil, err
	}
	if token.ContentExpiresAt, err = parseNullTime(contentExpiresAt); err != nil {
		return nil, err
	}
	if token.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &token, nil
}
