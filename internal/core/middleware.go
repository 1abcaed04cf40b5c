package core

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"cabinet/internal/auth"
)

// ResponseWriterWrapper is a wrapper around the default http.ResponseWriter.
// It intercepts the WriteHeader call and saves the response status code.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

// WriteHeader intercepts the status code and stores it, then calls the original WriteHeader.
func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write calls the underlying ResponseWriter's Write method.
func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// StatusCode is the written status, or 200 when the handler wrote nothing.
func (w *ResponseWriterWrapper) StatusCode() int {
	if w.WrittenResponseCode == 0 {
		return http.StatusOK
	}
	return w.WrittenResponseCode
}

func (w *ResponseWriterWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type LogEntry struct {
	IP         string
	UserID     string
	Method     string
	URL        string
	Proto      string
	DurationMS float64
	StatusCode int
}

func (e LogEntry) User() slog.Attr {
	return slog.Group("user", "ip", e.IP, "id", e.UserID)
}

func (e LogEntry) Request() slog.Attr {
	return slog.Group("request",
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// userSlot lets handlers deeper in the chain report the authenticated user
// back to LogRequest.
type userSlot struct {
	id string
}

type userSlotKey struct{}

func withUserSlot(ctx context.Context, slot *userSlot) context.Context {
	return context.WithValue(ctx, userSlotKey{}, slot)
}

func userSlotFromContext(ctx context.Context) *userSlot {
	slot, _ := ctx.Value(userSlotKey{}).(*userSlot)
	return slot
}

// LogRequest is middleware that logs incoming HTTP requests.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := LogEntry{
			IP:     r.RemoteAddr,
			Method: r.Method,
			URL:    r.URL.String(),
			Proto:  r.Proto,
		}

		slot := &userSlot{}
		r = r.WithContext(withUserSlot(r.Context(), slot))

		writer := ResponseWriterWrapper{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start).Nanoseconds()

		entry.DurationMS = float64(elapsed) / float64(time.Millisecond)
		entry.StatusCode = writer.StatusCode()
		entry.UserID = slot.id

		switch {
		case entry.StatusCode >= 500:
			slog.Error("Request", entry.User(), entry.Request())
		case entry.StatusCode >= 400:
			slog.Warn("Request", entry.User(), entry.Request())
		default:
			slog.Info("Request", entry.User(), entry.Request())
		}
	})
}

// RequirePermission wraps next so that it only runs when authorizer grants
// permission. The authenticated user is stored in the request context.
func RequirePermission(authorizer auth.Authorizer, permission auth.Permission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, err := authorizer.Authorize(r.Context(), r, permission)
		if err != nil {
			slog.Error("Authorization failed", "permission", permission, "error", err)
			writeError(w, http.StatusInternalServerError, "Authorization failed")
			return
		}

		if slot := userSlotFromContext(r.Context()); slot != nil {
			slot.id = decision.User
		}

		if !decision.Allowed {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), decision.User)))
	})
}

func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					// we don't recover http.ErrAbortHandler so the response
					// to the client is aborted, this should not be logged
					panic(rvr)
				}

				slog.Error("Internal Error in HTTP handler", "error", rvr)

				if r.Header.Get("Connection") != "Upgrade" {
					writeError(w, http.StatusInternalServerError, "Internal Server Error")
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}
