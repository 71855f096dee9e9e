package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nerrad567/deviceguard/internal/audit"
	"github.com/nerrad567/deviceguard/internal/registry"
	"github.com/nerrad567/deviceguard/internal/settings"
)

// maxLogLimit caps ?limit= on GET /logs.
const maxLogLimit = 10000

// handleGetLogs returns audit entries, oldest first.
//
// Query parameters:
//   - min_level: INFO, WARNING or ERROR; can only narrow the configured level
//   - limit: newest N entries
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	var q registry.LogQuery

	if v := r.URL.Query().Get("min_level"); v != "" {
		level, err := audit.ParseLevel(v)
		if err != nil {
			writeBadRequest(w, "min_level must be INFO, WARNING or ERROR")
			return
		}
		q.MinLevel = level
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxLogLimit {
			writeBadRequest(w, "limit must be between 0 and "+strconv.Itoa(maxLogLimit))
			return
		}
		q.Limit = n
	}

	entries, err := s.registry.GetLogs(r.Context(), q)
	if err != nil {
		s.logger.Error("reading audit log failed", "error", err)
		writeStoreError(w)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// handleClearLogs empties the audit log.
func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.ClearLogs(r.Context(), credentialFrom(r))
	if err != nil {
		s.logger.Error("clearing audit log failed", "error", err)
		writeStoreError(w)
		return
	}
	writeResult(w, http.StatusOK, res)
}

// handleGetSettings returns the current settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Settings())
}

// handleUpdateSettings replaces the settings. Fields missing from the body
// keep their current values.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	next := s.registry.Settings()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	res, err := s.registry.UpdateSettings(r.Context(), credentialFrom(r), next)
	if err != nil {
		s.logger.Error("updating settings failed", "error", err)
		writeStoreError(w)
		return
	}
	if !res.Success {
		writeResult(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		registry.Result
		Settings settings.Settings `json:"settings"`
	}{res, next})
}
