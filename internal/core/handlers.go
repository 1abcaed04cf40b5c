package core

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cabinet/internal/auth"
	"cabinet/internal/storage"
	"cabinet/internal/vfs"

	"github.com/go-http-utils/headers"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(headers.ContentType, "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK")
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := s.cfg.ListLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	listing, err := s.browser.List(r.Context(), query.Get("prefix"), query.Get("cursor"), limit)
	if err != nil {
		writeVFSError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listing)
}

// handleUpload accepts a multipart form carrying either a whole file or one
// part of a multipart upload (when uploadId and partNumber are set).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "File is required")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid file: "+err.Error())
		return
	}
	defer file.Close()

	key := r.FormValue("key")
	uploadID := r.FormValue("uploadId")
	partNumber := r.FormValue("partNumber")

	if uploadID != "" && partNumber != "" {
		if key == "" {
			writeError(w, http.StatusBadRequest, "Key is required for multipart upload")
			return
		}
		s.handleUploadPart(w, r, key, uploadID, partNumber, file, fileHeader)
		return
	}

	now := s.browser.Now()
	if key == "" {
		key = vfs.AutoKey(now, fileHeader.Filename)
	}
	contentType := fileHeader.Header.Get(headers.ContentType)

	info, err := s.browser.UploadSmall(r.Context(), key, file, fileHeader.Size, contentType, storage.CustomMetadata{
		OriginalName: fileHeader.Filename,
		UploadedBy:   auth.UserFromContext(r.Context()),
		UploadedAt:   now.Format(time.RFC3339),
	})
	if err != nil {
		writeVFSError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.HTTPMetadata.ContentType,
	})
}

func (s *Server) handleUploadPart(w http.ResponseWriter, r *http.Request, key string, uploadID string, rawPart string, file multipart.File, fileHeader *multipart.FileHeader) {
	partNumber, err := strconv.Atoi(rawPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid partNumber")
		return
	}

	part, err := s.browser.UploadPart(r.Context(), key, uploadID, partNumber, file, fileHeader.Size)
	if err != nil {
		writeVFSError(w, r, err)
		return
	}
	s.metrics.ObservePart()

	writeJSON(w, http.StatusOK, PartResponse{
		UploadID:   uploadID,
		PartNumber: part.PartNumber,
		ETag:       part.ETag,
	})
}

func (s *Server) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	var req InitUploadRequest
	if !readJSON(w, r, &req) {
		return
	}

	uploadID, err := s.browser.InitUpload(r.Context(), req.Key, req.ContentType)
	if err != nil {
		writeVFSError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, InitUploadResponse{UploadID: uploadID, Key: req.Key})
}

func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	var req CompleteUploadRequest
	if !readJSON(w, r, &req) {
		return
	}

	info, err := s.browser.CompleteUpload(r.Context(), req.Key, req.UploadID, req.Parts)
	if err != nil {
		writeVFSError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CompleteUploadResponse{
		Key:  req.Key,
		Size: info.Size,
		ETag: info.ETag,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request, key string) {
	info, err := s.browser.Info(r.Context(), key)
	if err != nil {
		writeVFSError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, infoResponse(info))
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request, key string) {
	obj, err := s.browser.Read(r.Context(), key)
	if err != nil {
		writeVFSError(w, r, err)
		return
	}
	defer obj.Body.Close()

	h := w.Header()
	h.Set(headers.ContentType, obj.ContentType)
	h.Set(headers.ContentLength, strconv.FormatInt(obj.Size, 10))
	h.Set(headers.ContentDisposition, fmt.Sprintf("inline; filename=%q", url.PathEscape(obj.Filename)))
	if obj.ETag != "" {
		h.Set(headers.ETag, quoteETag(obj.ETag))
	}
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	if _, err := io.Copy(w, obj.Body); err != nil {
		slog.Warn("Proxy stream interrupted", "key", key, "error", err)
	}
}

// handlePreview returns the proxy URL of key, rooted at the configured public
// URL or, without one, at the request's own scheme and host.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, key string) {
	if key == "" {
		writeError(w, http.StatusBadRequest, "Key is required")
		return
	}

	writeJSON(w, http.StatusOK, PreviewResponse{
		URL: s.baseURL(r) + "/proxy/" + url.PathEscape(key),
	})
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !readJSON(w, r, &req) {
		return
	}

	result, err := s.browser.Move(r.Context(), req.From, req.To)
	if err != nil {
		writeVFSError(w, r, err)
		return
	}
	s.metrics.ObserveCascade("move", result.Moved)

	writeJSON(w, http.StatusOK, MoveResponse{Message: "moved", Key: result.Key})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, key string) {
	result, err := s.browser.Remove(r.Context(), key)
	if err != nil {
		writeVFSError(w, r, err)
		return
	}
	s.metrics.ObserveCascade("delete", result.Removed)

	writeJSON(w, http.StatusOK, DeleteResponse{Message: "deleted"})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req FolderRequest
	if !readJSON(w, r, &req) {
		return
	}

	key, err := s.browser.CreateFolder(r.Context(), req.Path, auth.UserFromContext(r.Context()))
	if err != nil {
		writeVFSError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, FolderResponse{Key: key, IsFolder: true})
}
