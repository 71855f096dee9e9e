package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/deviceguard/internal/registry"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes. Refusals from the registry keep the registry's own
// codes (malformed_identity, not_securable, ...).
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeInternal         = "internal_error"
	ErrCodeStoreUnavailable = "store_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeStoreError reports a storage failure. Details stay in the server log.
func writeStoreError(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "storage unavailable")
}

// statusFor maps a registry refusal to an HTTP status.
func statusFor(code registry.ErrorCode) int {
	switch code {
	case registry.CodeUnauthorized:
		return http.StatusUnauthorized
	case registry.CodeNotFound, registry.CodeDeviceNotPresent:
		return http.StatusNotFound
	case registry.CodeAlreadyRegistered, registry.CodeNotSecurable, registry.CodeAmbiguousDevice:
		return http.StatusConflict
	case registry.CodeMalformedIdentity, registry.CodeInvalidRequest:
		return http.StatusBadRequest
	case registry.CodeInsufficientDescriptorData:
		return http.StatusUnprocessableEntity
	case registry.CodeLockfileFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes a registry Result with okStatus on success or the
// refusal's status otherwise.
func writeResult(w http.ResponseWriter, okStatus int, res registry.Result) {
	if res.Success || res.Error == nil {
		writeJSON(w, okStatus, res)
		return
	}
	writeJSON(w, statusFor(res.Error.Code), res)
}
