package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"vrac/internal/models"
	"vrac/internal/store"
)

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		classified := classifyDecodeJSONError(err)
		s.writeErrorReq(w, r, httpStatusFromError(classified), classified)
		return
	}

	now := time.Now().UTC()
	spec, err := tokenSpecFromRequest(req, now)
	if err != nil {
		s.writeErrorReq(w, r, httpStatusFromError(err), err)
		return
	}

	token, err := s.store.CreateToken(r.Context(), *spec, now)
	if err != nil {
		if errors.Is(err, store.ErrTokenPathTaken) {
			err = conflictCode(err, ErrCodeTokenPathTaken)
		} else {
			err = badRequest(err)
		}
		s.writeErrorReq(w, r, httpStatusFromError(err), err)
		return
	}

	s.writeJSON(w, http.StatusCreated, tokenResponseFrom(token))
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	includeDeleted := false
	if raw := r.URL.Query().Get("include_deleted"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeErrorReq(w, r, http.StatusBadRequest,
				badRequest(fmt.Errorf("include_deleted must be a boolean")))
			return
		}
		includeDeleted = parsed
	}

	tokens, err := s.store.ListTokens(r.Context(), includeDeleted)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError, storeFailure(err))
		return
	}

	resp := tokenListResponse{Tokens: make([]tokenResponse, 0, len(tokens))}
	for i := range tokens {
		resp.Tokens = append(resp.Tokens, tokenResponseFrom(&tokens[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDeleteToken soft-deletes a token. Its content stops being served
// immediately; the stored bytes are reclaimed by the next sweep.
func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.store.SoftDelete(r.Context(), id, time.Now().UTC())
	if err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError, storeFailure(err))
		return
	}
	if !deleted {
		s.writeErrorReq(w, r, http.StatusNotFound,
			notFoundCode(fmt.Errorf("token %s not found", id), ErrCodeTokenNotFound))
		return
	}
	s.writeJSON(w, http.StatusOK, deleteTokenResponse{ID: id, Deleted: true})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError,
			internalError(fmt.Errorf("sweeper is not configured")))
		return
	}
	result, err := s.sweeper.Run(r.Context(), time.Now().UTC())
	if err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError, internalError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func tokenSpecFromRequest(req createTokenRequest, now time.Time) (*store.TokenSpec, error) {
	if err := models.ValidateTokenPath(req.Path); err != nil {
		return nil, badRequestCode(err, ErrCodeInvalidTokenPath)
	}

	policy, err := models.ParseUsePolicy(req.UsePolicy)
	if err != nil {
		return nil, badRequestCode(err, ErrCodeInvalidUsePolicy)
	}

	var validUntil time.Time
	switch {
	case req.ValidUntil != "" && req.ValidForMinutes > 0:
		return nil, badRequestCode(fmt.Errorf("valid_until and valid_for_minutes are mutually exclusive"), ErrCodeInvalidDeadline)
	case req.ValidUntil != "":
		parsed, err := time.Parse(time.RFC3339, req.ValidUntil)
		if err != nil {
			return nil, badRequestCode(fmt.Errorf("valid_until must be RFC 3339"), ErrCodeInvalidDeadline)
		}
		validUntil = parsed.UTC()
	case req.ValidForMinutes > 0:
		validUntil = now.Add(time.Duration(req.ValidForMinutes) * time.Minute)
	default:
		return nil, badRequestCode(fmt.Errorf("valid_until or valid_for_minutes is required"), ErrCodeMissingRequired)
	}
	if !now.Before(validUntil) {
		return nil, badRequestCode(fmt.Errorf("valid_until must be in the future"), ErrCodeInvalidDeadline)
	}

	if req.MaxSizeBytes < 0 {
		return nil, badRequest(fmt.Errorf("max_size_bytes must be >= 0"))
	}
	if req.ContentExpiresAfterHours < 0 {
		return nil, badRequest(fmt.Errorf("content_expires_after_hours must be >= 0"))
	}

	return &store.TokenSpec{
		Path:                     req.Path,
		MaxSizeBytes:             req.MaxSizeBytes,
		ValidUntil:               validUntil,
		ContentExpiresAfterHours: req.ContentExpiresAfterHours,
		UsePolicy:                policy,
	}, nil
}

func tokenResponseFrom(token *models.Token) tokenResponse {
	return tokenResponse{
		ID:                       token.ID,
		Path:                     token.Path,
		MaxSizeBytes:             token.MaxSizeBytes,
		ValidUntil:               token.ValidUntil,
		ContentExpiresAfterHours: token.ContentExpiresAfterHours,
		UsePolicy:                token.UsePolicy,
		AttemptCounter:           token.AttemptCounter,
		UsedAt:                   token.UsedAt,
		ContentExpiresAt:         token.ContentExpiresAt,
		CreatedAt:                token.CreatedAt,
		DeletedAt:                token.DeletedAt,
	}
}
