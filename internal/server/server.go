package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"vrac/internal/blobstore"
	"vrac/internal/store"
	"vrac/internal/sweep"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second

	uploadConcurrencyLimit  = 8
	archiveConcurrencyLimit = 2
)

// Server wraps the HTTP handlers for the vrac API: the public upload and
// download surface under /f/ and the admin surface under /v1/.
type Server struct {
	addr           string
	store          *store.Store
	uploads        *UploadService
	downloads      *DownloadService
	sweeper        *sweep.Sweeper
	maxUploadBytes int64
	logger         *slog.Logger
	uploadLimiter  chan struct{}
	archiveLimiter chan struct{}
}

// Options carries the server's collaborators.
type Options struct {
	Addr string
	// Store is the token and blob registry.
	Store *store.Store
	// Backend receives new uploads.
	Backend blobstore.Backend
	// Backends resolves locators of every configured kind, including
	// backends that no longer accept new uploads.
	Backends map[string]blobstore.Backend
	// Sweeper runs on demand via the admin API.
	Sweeper *sweep.Sweeper
	// MaxUploadBytes caps whole request bodies before any token-level
	// limit applies. Zero means no global cap.
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// New creates a new server instance.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backends := opts.Backends
	if backends == nil && opts.Backend != nil {
		backends = map[string]blobstore.Backend{opts.Backend.Kind(): opts.Backend}
	}

	return &Server{
		addr:           opts.Addr,
		store:          opts.Store,
		uploads:        NewUploadService(opts.Store, opts.Backend, logger),
		downloads:      NewDownloadService(opts.Store, backends, logger),
		sweeper:        opts.Sweeper,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         logger,
		uploadLimiter:  make(chan struct{}, uploadConcurrencyLimit),
		archiveLimiter: make(chan struct{}, archiveConcurrencyLimit),
	}
}

// ListenAndServe starts the HTTP server. Write timeouts are left open
// because uploads and archive downloads legitimately run long; the
// header and idle timeouts still bound dead connections.
func (s *Server) ListenAndServe() error {
	s.log().Info("starting server", "addr", s.addr)
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	return server.ListenAndServe()
}

func (s *Server) acquireLimiter(limiter chan struct{}, w http.ResponseWriter, r *http.Request, name string) bool {
	if limiter == nil {
		return true
	}
	select {
	case limiter <- struct{}{}:
		return true
	default:
		err := apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("too many concurrent %s requests", name),
		}
		s.writeErrorReq(w, r, http.StatusTooManyRequests, err)
		return false
	}
}

func (s *Server) releaseLimiter(limiter chan struct{}) {
	if limiter == nil {
		return
	}
	select {
	case <-limiter:
	default:
	}
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
