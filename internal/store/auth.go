package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// AuthUser is a provisioned admin account for the HTTP admin API.
type AuthUser struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Disabled     bool      `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CountEnabledUsers returns the number of non-disabled admin accounts.
func (s *Store) CountEnabledUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE disabled = 0").Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CreateAdminUser creates one admin account.
func (s *Store) CreateAdminUser(ctx context.Context, username, passwordHash string, now time.Time) (*AuthUser, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return nil, fmt.Errorf("password hash is required")
	}

	userID, err := GenerateID("au", nil)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, disabled, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, userID, username, passwordHash, formatTime(now), formatTime(now))
	if err != nil {
		return nil, err
	}

	return &AuthUser{
		ID:           userID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// GetUserByUsername returns an admin account by normalized username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*AuthUser, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, disabled, created_at, updated_at
		FROM users
		WHERE username = ?
		LIMIT 1
	`, username)
	return scanAuthUser(row)
}

// ListUsers returns all admin accounts sorted by username.
func (s *Store) ListUsers(ctx context.Context) ([]AuthUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, disabled, created_at, updated_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]AuthUser, 0)
	for rows.Next() {
		user, err := scanAuthUser(rows)
		if err != nil {
			return nil, err
		}
		if user == nil {
			continue
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// SetUserPassword replaces one account's password hash by username.
// Returns false when the account does not exist.
func (s *Store) SetUserPassword(ctx context.Context, username, passwordHash string, now time.Time) (bool, error) {
	username = normalizeUsername(username)
	if username == "" {
		return false, fmt.Errorf("username is required")
	}
	if strings.TrimSpace(passwordHash) == "" {
		return false, fmt.Errorf("password hash is required")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = ?, updated_at = ?
		WHERE username = ?
	`, passwordHash, formatTime(now), username)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetUserDisabled updates one account's disabled state by username.
func (s *Store) SetUserDisabled(ctx context.Context, username string, disabled bool, now time.Time) (*AuthUser, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	disabledInt := 0
	if disabled {
		disabledInt = 1
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET disabled = ?, updated_at = ?
		WHERE username = ?
	`, disabledInt, formatTime(now), username)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetUserByUsername(ctx, username)
}

// DeleteUser deletes one admin account by username.
func (s *Store) DeleteUser(ctx context.Context, username string) (bool, error) {
	username = normalizeUsername(username)
	if username == "" {
		return false, fmt.Errorf("username is required")
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM users
		WHERE username = ?
	`, username)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanAuthUser(scanner interface {
	Scan(dest ...any) error
}) (*AuthUser, error) {
	var user AuthUser
	var disabled int
	var createdAt string
	var updatedAt string
	if err := scanner.Scan(&user.ID, &user.Username, &user.PasswordHash, &disabled, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	user.Disabled = disabled != 0
	parsedCreated, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	parsedUpdated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = parsedCreated
	user.UpdatedAt = parsedUpdated
	return &user, nil
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(strings.ToLower(username))
}
