package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// UsePolicy controls whether a token may accept more than one successful
// upload attempt before its validity window closes.
type UsePolicy string

const (
	UsePolicySingle UsePolicy = "single"
	UsePolicyMulti  UsePolicy = "multi"
)

var validUsePolicies = map[UsePolicy]struct{}{
	UsePolicySingle: {},
	UsePolicyMulti:  {},
}

// tokenPathPattern restricts token paths to URL-safe slugs.
var tokenPathPattern = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)

// Token grants time-bounded upload/download rights to one share slot.
// Tokens are never physically deleted, only soft-deleted via DeletedAt.
type Token struct {
	ID                       string     `json:"id"`
	Path                     string     `json:"path"`
	MaxSizeBytes             int64      `json:"max_size_bytes,omitempty"`
	ValidUntil               time.Time  `json:"valid_until"`
	ContentExpiresAfterHours int64      `json:"content_expires_after_hours,omitempty"`
	UsePolicy                string     `json:"use_policy"`
	AttemptCounter           int64      `json:"attempt_counter"`
	UsedAt                   *time.Time `json:"used_at,omitempty"`
	ContentExpiresAt         *time.Time `json:"content_expires_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	DeletedAt                *time.Time `json:"deleted_at,omitempty"`
}

// Used reports whether at least one upload attempt completed successfully.
func (t *Token) Used() bool {
	return t != nil && t.UsedAt != nil
}

// ContentExpired reports whether the token's content-expiry deadline passed.
// Tokens without a computed deadline never expire this way.
func (t *Token) ContentExpired(now time.Time) bool {
	if t == nil || t.ContentExpiresAt == nil {
		return false
	}
	return !now.Before(*t.ContentExpiresAt)
}

// UploadableAt reports whether the token can accept a new upload attempt.
func (t *Token) UploadableAt(now time.Time) bool {
	if t == nil || t.DeletedAt != nil {
		return false
	}
	if !now.Before(t.ValidUntil) {
		return false
	}
	if t.Used() && UsePolicy(t.UsePolicy) != UsePolicyMulti {
		return false
	}
	return true
}

// ParseUsePolicy validates a use policy value; empty defaults to single-use.
func ParseUsePolicy(raw string) (UsePolicy, error) {
	value := UsePolicy(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return UsePolicySingle, nil
	}
	if _, ok := validUsePolicies[value]; !ok {
		return "", fmt.Errorf("invalid use_policy: %s", value)
	}
	return value, nil
}

// ValidateTokenPath checks that a token path is a usable URL slug.
func ValidateTokenPath(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("token path is required")
	}
	if len(path) > 128 {
		return fmt.Errorf("token path too long")
	}
	if !tokenPathPattern.MatchString(path) {
		return fmt.Errorf("invalid token path")
	}
	return nil
}
