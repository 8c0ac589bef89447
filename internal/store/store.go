package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute
)

// Store wraps the SQLite metadata database. All token and blob state
// lives here; blob bytes live in the storage backend.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database and bootstraps the schema.
func Open(path string) (*Store, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	configureDB(db)
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MigrationStatus reports schema migration state without applying anything.
func (s *Store) MigrationStatus() (*MigrationStatus, error) {
	return MigrationPlan(s.db)
}

// TokenExists checks whether a token exists by id.
func (s *Store) TokenExists(id string) (bool, error) {
	return s.rowExists("SELECT 1 FROM tokens WHERE id = ? LIMIT 1", id)
}

// BlobExists checks whether a blob exists by id.
func (s *Store) BlobExists(id string) (bool, error) {
	return s.rowExists("SELECT 1 FROM blobs WHERE id = ? LIMIT 1", id)
}

func (s *Store) rowExists(query string, args ...any) (bool, error) {
	var exists int
	err := s.db.QueryRow(query, args...).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// configureDB tunes the connection pool for single-writer usage.
func configureDB(db *sql.DB) {
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
}

// sqliteDSN carries the pragmas in the DSN so the pool reapplies them
// whenever it recycles its connection. foreign_keys and busy_timeout are
// per-connection state and would otherwise silently reset.
func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("db path is required")
	}
	query := url.Values{}
	for _, pragma := range []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(1)",
		fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS),
	} {
		query.Add("_pragma", pragma)
	}
	u := url.URL{Scheme: "file", Path: path, RawQuery: query.Encode()}
	return u.String(), nil
}

// isBusy reports whether an error is SQLite lock contention. Callers
// treat it as transient and retry the statement.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "SQLITE_BUSY") ||
		strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database table is locked")
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
