package server

import "time"

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type createTokenRequest struct {
	Path                     string `json:"path"`
	MaxSizeBytes             int64  `json:"max_size_bytes,omitempty"`
	ValidUntil               string `json:"valid_until,omitempty"`
	ValidForMinutes          int64  `json:"valid_for_minutes,omitempty"`
	ContentExpiresAfterHours int64  `json:"content_expires_after_hours,omitempty"`
	UsePolicy                string `json:"use_policy,omitempty"`
}

type tokenResponse struct {
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

type tokenListResponse struct {
	Tokens []tokenResponse `json:"tokens"`
}

type deleteTokenResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type uploadedFileResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type,omitempty"`
}

type uploadResponse struct {
	Token   string                 `json:"token"`
	Path    string                 `json:"path"`
	Attempt int64                  `json:"attempt"`
	Files   []uploadedFileResponse `json:"files"`
}

type listingResponse struct {
	Path      string                 `json:"path"`
	ExpiresAt *time.Time             `json:"expires_at,omitempty"`
	Files     []uploadedFileResponse `json:"files"`
}
