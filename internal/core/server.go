package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"cabinet/internal/auth"
	"cabinet/internal/storage"
	"cabinet/internal/vfs"

	"github.com/go-http-utils/headers"
)

// maxMemory bounds how much of a multipart form is held in memory; larger
// file parts are spooled to temporary files by net/http.
const maxMemory = 32 << 20

// Server exposes a vfs.Browser over a JSON HTTP API.
type Server struct {
	cfg        Config
	store      storage.ObjectStore
	closer     io.Closer
	browser    *vfs.Browser
	authorizer auth.Authorizer
	metrics    *Metrics
}

// NewServer opens the configured store and returns a new Server.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, closer, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &Server{
		cfg:        cfg,
		store:      store,
		closer:     closer,
		browser:    vfs.NewBrowser(store, vfs.WithChunkSize(cfg.Upload.ChunkSize)),
		authorizer: cfg.NewAuthorizer(),
		metrics:    NewMetrics(),
	}, nil
}

// Close closes any resources held by the Server.
func (s *Server) Close() error {
	return s.closer.Close()
}

func (s *Server) Browser() *vfs.Browser {
	return s.browser
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	guard := func(permission auth.Permission, h http.HandlerFunc) http.Handler {
		return RequirePermission(s.authorizer, permission, h)
	}

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.Handle("GET /list", guard(auth.PermissionView, s.handleList))

	mux.Handle("POST /upload", guard(auth.PermissionAdd, s.handleUpload))
	mux.Handle("POST /upload/init", guard(auth.PermissionAdd, s.handleUploadInit))
	mux.Handle("POST /upload/complete", guard(auth.PermissionAdd, s.handleUploadComplete))
	mux.Handle("POST /folder", guard(auth.PermissionAdd, s.handleCreateFolder))

	mux.Handle("GET /info/{key...}", guard(auth.PermissionView, func(w http.ResponseWriter, r *http.Request) {
		s.handleInfo(w, r, pathKey(r, "/info/"))
	}))
	mux.Handle("GET /proxy/{key...}", guard(auth.PermissionView, func(w http.ResponseWriter, r *http.Request) {
		s.handleProxy(w, r, pathKey(r, "/proxy/"))
	}))
	mux.Handle("GET /preview/{key...}", guard(auth.PermissionView, func(w http.ResponseWriter, r *http.Request) {
		s.handlePreview(w, r, pathKey(r, "/preview/"))
	}))

	mux.Handle("PUT /move", guard(auth.PermissionEdit, s.handleMove))
	mux.Handle("DELETE /{key...}", guard(auth.PermissionDelete, func(w http.ResponseWriter, r *http.Request) {
		s.handleDelete(w, r, pathKey(r, "/"))
	}))

	// DELETE /{key...} claims every path, so unknown reads need their own 404.
	mux.HandleFunc("GET /{path...}", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})

	return LogRequest(Recoverer(s.metrics.Middleware(mux)))
}

// pathKey returns the object key following prefix in the escaped request
// path, decoded exactly once. r.PathValue is already unescaped.
func pathKey(r *http.Request, prefix string) string {
	return vfs.DecodeKey(strings.TrimPrefix(r.URL.EscapedPath(), prefix))
}

// writeJSON encodes v as JSON and writes it to w with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(headers.ContentType, "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}

// writeVFSError maps a Browser error onto its HTTP status.
func writeVFSError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, vfs.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vfs.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled):
		slog.Debug("Request canceled", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// readJSON decodes the request body into v, writing a 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// quoteETag wraps etag in double quotes unless it already is.
func quoteETag(etag string) string {
	if etag == "" || strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return `"` + etag + `"`
}
