package server

import (
	"net/http"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /health", s.handleHealth)

	// Public token-scoped surface.
	mux.HandleFunc("POST /f/{path}", s.handleUpload)
	mux.HandleFunc("GET /f/{path}", s.handleListing)
	mux.HandleFunc("GET /f/{path}/{blob}", s.handleDownload)

	// Admin surface, behind basic auth.
	mux.HandleFunc("POST /v1/tokens", s.requireAdmin(s.handleCreateToken))
	mux.HandleFunc("GET /v1/tokens", s.requireAdmin(s.handleListTokens))
	mux.HandleFunc("DELETE /v1/tokens/{id}", s.requireAdmin(s.handleDeleteToken))
	mux.HandleFunc("POST /v1/admin/sweep", s.requireAdmin(s.handleSweep))

	return s.withRequestLogging(mux)
}
