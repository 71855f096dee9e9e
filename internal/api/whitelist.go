package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/deviceguard/internal/registry"
)

// registerRequest is the body of POST /whitelist.
type registerRequest struct {
	CanonicalID        string `json:"canonical_id"`
	FriendlyName       string `json:"friendly_name"`
	Secure             bool   `json:"secure"`
	AllowBasicFallback bool   `json:"allow_basic_fallback"`
	Update             bool   `json:"update"`
}

// deviceRequest is the body of verify and remove.
type deviceRequest struct {
	CanonicalID string `json:"canonical_id"`
}

// handleListDevices returns the attached devices with their whitelist state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	list, err := s.registry.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeStoreError(w)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleListWhitelist returns every whitelist record.
func (s *Server) handleListWhitelist(w http.ResponseWriter, r *http.Request) {
	records, err := s.registry.ListRegistered(r.Context())
	if err != nil {
		s.logger.Error("listing whitelist failed", "error", err)
		writeStoreError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

// handleDeviceState returns the state of ?canonical_id=.
func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("canonical_id")
	if id == "" {
		writeBadRequest(w, "canonical_id query parameter is required")
		return
	}
	state, err := s.registry.State(r.Context(), id)
	if err != nil {
		s.logger.Error("reading device state failed", "error", err)
		writeStoreError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canonical_id": id, "state": state})
}

// handleRegister registers an attached device.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	res, err := s.registry.Register(r.Context(), registry.RegisterRequest{
		CanonicalID:        req.CanonicalID,
		FriendlyName:       req.FriendlyName,
		Secure:             req.Secure,
		AllowBasicFallback: req.AllowBasicFallback,
		Update:             req.Update,
		Credential:         credentialFrom(r),
	})
	if err != nil {
		s.logger.Error("register failed", "error", err)
		writeStoreError(w)
		return
	}
	writeResult(w, http.StatusCreated, res)
}

// handleVerify checks an attached device against its stored fingerprint.
// A mismatch is a successful call with is_valid false.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	res, err := s.registry.Verify(r.Context(), req.CanonicalID, credentialFrom(r))
	if err != nil {
		s.logger.Error("verify failed", "error", err)
		writeStoreError(w)
		return
	}
	if res.Error != nil {
		writeJSON(w, statusFor(res.Error.Code), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRemove removes a device from the whitelist.
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	res, err := s.registry.Remove(r.Context(), req.CanonicalID, credentialFrom(r))
	if err != nil {
		s.logger.Error("remove failed", "error", err)
		writeStoreError(w)
		return
	}
	writeResult(w, http.StatusOK, res)
}

// handleClearWhitelist removes every whitelist record.
func (s *Server) handleClearWhitelist(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.ClearAll(r.Context(), credentialFrom(r))
	if err != nil {
		s.logger.Error("clear whitelist failed", "error", err)
		writeStoreError(w)
		return
	}
	writeResult(w, http.StatusOK, res)
}

// handleExport returns the whitelist for backup.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	exp, err := s.registry.Export(r.Context(), credentialFrom(r))
	if err != nil {
		s.logger.Error("export failed", "error", err)
		writeStoreError(w)
		return
	}
	if !exp.Success && exp.Error != nil {
		writeJSON(w, statusFor(exp.Error.Code), exp.Result)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="deviceguard-whitelist.json"`)
	writeJSON(w, http.StatusOK, exp)
}
