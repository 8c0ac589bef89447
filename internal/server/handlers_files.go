package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"vrac/internal/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleUpload accepts a multipart POST against a token path. The body is
// consumed part by part; a rejected token costs the client nothing but the
// headers already sent.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.acquireLimiter(s.uploadLimiter, w, r, "upload") {
		return
	}
	defer s.releaseLimiter(s.uploadLimiter)

	path := r.PathValue("path")
	if err := models.ValidateTokenPath(path); err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(err, ErrCodeInvalidTokenPath))
		return
	}

	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	form, err := r.MultipartReader()
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest,
			badRequestCode(fmt.Errorf("expected a multipart request: %w", err), ErrCodeInvalidMultipart))
		return
	}

	result, err := s.uploads.Upload(r.Context(), path, form, time.Now().UTC())
	if err != nil {
		s.writeErrorReq(w, r, httpStatusFromError(err), err)
		return
	}

	resp := uploadResponse{
		Token:   result.TokenID,
		Path:    result.Path,
		Attempt: result.Attempt,
		Files:   make([]uploadedFileResponse, 0, len(result.Files)),
	}
	for _, file := range result.Files {
		resp.Files = append(resp.Files, uploadedFileResponse{
			ID:        file.BlobID,
			Name:      file.Name,
			SizeBytes: file.SizeBytes,
			MimeType:  file.MimeType,
		})
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

// handleListing serves the file list of a path, or with ?zip the whole
// share as one archive.
func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	listing, err := s.downloads.Listing(r.Context(), path, time.Now().UTC())
	if err != nil {
		s.writeErrorReq(w, r, httpStatusFromError(err), err)
		return
	}

	if wantsArchive(r) {
		s.serveArchive(w, r, listing)
		return
	}

	resp := listingResponse{
		Path:      listing.Token.Path,
		ExpiresAt: listing.Token.ContentExpiresAt,
		Files:     make([]uploadedFileResponse, 0, len(listing.Files)),
	}
	for _, file := range listing.Files {
		resp.Files = append(resp.Files, uploadedFileResponse{
			ID:        file.ID,
			Name:      file.Name,
			SizeBytes: file.SizeBytes,
			MimeType:  file.MimeType,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// serveArchive streams the zip after the listing already validated the
// path. Once bytes are on the wire the only honest failure mode is
// killing the connection; a half-written zip must not look complete.
func (s *Server) serveArchive(w http.ResponseWriter, r *http.Request, listing *Listing) {
	if !s.acquireLimiter(s.archiveLimiter, w, r, "archive") {
		return
	}
	defer s.releaseLimiter(s.archiveLimiter)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": listing.Token.Path + ".zip"}))
	w.WriteHeader(http.StatusOK)

	if err := s.downloads.WriteArchive(r.Context(), w, listing); err != nil {
		s.log().Error("archive stream failed", "path", listing.Token.Path, "error", err)
		panic(http.ErrAbortHandler)
	}
}

// handleDownload streams one file. ?dl forces an attachment disposition,
// otherwise the browser may render the file inline.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	blobID := r.PathValue("blob")

	info, rc, err := s.downloads.OpenFile(r.Context(), path, blobID, time.Now().UTC())
	if err != nil {
		s.writeErrorReq(w, r, httpStatusFromError(err), err)
		return
	}
	defer rc.Close()

	if info.MimeType != "" {
		w.Header().Set("Content-Type", info.MimeType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if info.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.SizeBytes, 10))
	}
	disposition := "inline"
	if wantsAttachment(r) {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition,
		map[string]string{"filename": info.Name}))

	if _, err := io.Copy(w, rc); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return
		}
		s.log().Error("download stream failed", "path", path, "blob", blobID, "error", err)
		panic(http.ErrAbortHandler)
	}
}

func wantsArchive(r *http.Request) bool {
	return queryFlag(r, "zip")
}

func wantsAttachment(r *http.Request) bool {
	return queryFlag(r, "dl")
}

// queryFlag treats a bare query key as true; ?zip and ?zip=1 both count.
func queryFlag(r *http.Request, name string) bool {
	if !r.URL.Query().Has(name) {
		return false
	}
	value := r.URL.Query().Get(name)
	if value == "" {
		return true
	}
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}
