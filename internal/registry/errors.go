package registry

import "errors"

// ErrorCode identifies why an operation was refused.
type ErrorCode string

// Error codes returned in Result.Error.
const (
	CodeMalformedIdentity          ErrorCode = "malformed_identity"
	CodeInsufficientDescriptorData ErrorCode = "insufficient_descriptor_data"
	CodeAlreadyRegistered          ErrorCode = "already_registered"
	CodeNotFound                   ErrorCode = "not_found"
	CodeNotSecurable               ErrorCode = "not_securable"
	CodeUnauthorized               ErrorCode = "unauthorized"
	CodeDeviceNotPresent           ErrorCode = "device_not_present"
	CodeInvalidRequest             ErrorCode = "invalid_request"
	CodeLockfileFailed             ErrorCode = "lockfile_failed"
	CodeAmbiguousDevice            ErrorCode = "ambiguous_device"
)

// ErrNotSecurable is the cause behind CodeNotSecurable: the record has no
// fingerprint to verify against, or the identity is low-confidence.
var ErrNotSecurable = errors.New("registry: device not securable")

// Error is a refusal reported to the caller.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}
