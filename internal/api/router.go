package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each component check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Read-only views. Mutations carry the admin password in
		// X-Admin-Password and are authorised by the registry itself.
		r.Get("/devices", s.handleListDevices)

		r.Route("/whitelist", func(r chi.Router) {
			r.Get("/", s.handleListWhitelist)
			r.Post("/", s.handleRegister)
			r.Delete("/", s.handleClearWhitelist)
			r.Get("/state", s.handleDeviceState)
			r.Post("/verify", s.handleVerify)
			r.Post("/remove", s.handleRemove)
			r.Get("/export", s.handleExport)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", s.handleGetLogs)
			r.Delete("/", s.handleClearLogs)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.handleGetSettings)
			r.Put("/", s.handleUpdateSettings)
		})

		r.Post("/ws-ticket", s.handleWSTicket)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server and every configured component.
// Any failing component makes the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	components := make(map[string]string, len(s.health))
	for name, hc := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.HealthCheck(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"version":    s.version,
		"components": components,
	})
}
