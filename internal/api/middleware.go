package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nerrad567/deviceguard/internal/auth"
)

// AdminPasswordHeader carries the admin password on mutating requests.
const AdminPasswordHeader = "X-Admin-Password"

// maxRequestBodySize caps request bodies. The largest legitimate body is a
// registration request of a few hundred bytes.
const maxRequestBodySize = 64 << 10

const (
	defaultAllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	defaultAllowedHeaders = "Content-Type, " + AdminPasswordHeader + ", X-Request-ID"
)

type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// requestIDMiddleware tags each request with the client's X-Request-ID or a
// fresh uuid, and echoes it back.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// loggingMiddleware logs each request. Server errors log at error level,
// health probes at debug so they do not drown everything else.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("http request", args...)
		case strings.HasSuffix(r.URL.Path, "/health"):
			s.logger.Debug("http request", args...)
		default:
			s.logger.Info("http request", args...)
		}
	})
}

// recoveryMiddleware turns a handler panic into a 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for allowed origins and answers
// preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.isAllowedOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", joinOr(s.cfg.CORS.AllowedMethods, defaultAllowedMethods))
			h.Set("Access-Control-Allow-Headers", joinOr(s.cfg.CORS.AllowedHeaders, defaultAllowedHeaders))
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin reports whether origin may call the API. An empty list
// allows any origin; the API is expected to listen on loopback.
func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}

// credentialFrom builds the credential for r. The remote address is kept as
// the origin recorded in the audit log.
func credentialFrom(r *http.Request) auth.Credential {
	return auth.Credential{
		Password: r.Header.Get(AdminPasswordHeader),
		Origin:   r.RemoteAddr,
	}
}
