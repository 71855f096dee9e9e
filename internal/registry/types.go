package registry

import (
	"time"

	"github.com/nerrad567/deviceguard/internal/audit"
	"github.com/nerrad567/deviceguard/internal/auth"
	"github.com/nerrad567/deviceguard/internal/device"
	"github.com/nerrad567/deviceguard/internal/whitelist"
)

// Result is the outcome of a mutating operation.
type Result struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error,omitempty"`
}

// VerifyResult is the outcome of Verify. IsValid is only meaningful when
// Success is true.
type VerifyResult struct {
	Success bool   `json:"success"`
	IsValid bool   `json:"is_valid"`
	Error   *Error `json:"error,omitempty"`
}

// DeviceView is one attached device, annotated with its whitelist state.
type DeviceView struct {
	CanonicalID     string       `json:"canonical_id"`
	FriendlyName    string       `json:"friendly_name"`
	IsRegistered    bool         `json:"is_registered"`
	IsFingerprinted bool         `json:"is_fingerprinted"`
	VID             string       `json:"vid"`
	PID             string       `json:"pid"`
	SerialNumber    string       `json:"serial_number"`
	DeviceType      device.Class `json:"device_type"`
	DriveLetter     string       `json:"drive_letter,omitempty"`
	LowConfidence   bool         `json:"low_confidence"`

	// Instances counts attached devices deriving this id. More than one
	// means a clone is attached next to the original.
	Instances int `json:"instances"`
}

// Duplicate reports whether more than one attached device shares the id.
func (v DeviceView) Duplicate() bool { return v.Instances > 1 }

// State returns the whitelist state shown by the view.
func (v DeviceView) State() whitelist.State {
	switch {
	case v.IsFingerprinted:
		return whitelist.StateSecured
	case v.IsRegistered:
		return whitelist.StateRegistered
	default:
		return whitelist.StateUnknown
	}
}

// DeviceList is the result of ListDevices.
type DeviceList struct {
	StorageDevices []DeviceView `json:"storage_devices"`
	OtherDevices   []DeviceView `json:"other_devices"`

	// Degraded is set when enumeration failed or timed out; the lists are
	// then empty.
	Degraded bool `json:"degraded,omitempty"`
}

// RecordView is a whitelist record as shown to callers. The fingerprint
// itself is never exposed, only whether one exists.
type RecordView struct {
	CanonicalID           string          `json:"canonical_id"`
	FriendlyName          string          `json:"friendly_name"`
	DeviceType            device.Class    `json:"device_type"`
	StructuralFingerprint bool            `json:"structural_fingerprint"`
	State                 whitelist.State `json:"state"`
	LowConfidence         bool            `json:"low_confidence"`
	AddedOn               time.Time       `json:"added_on"`
}

// RegisterRequest asks for a device to be whitelisted.
type RegisterRequest struct {
	CanonicalID  string
	FriendlyName string

	// Secure requests fingerprinting.
	Secure bool

	// AllowBasicFallback lets a secure request that cannot be fingerprinted
	// complete as a basic registration. The downgrade is audited.
	AllowBasicFallback bool

	// Update replaces an existing record instead of failing with
	// already_registered.
	Update bool

	Credential auth.Credential
}

// LogQuery selects audit entries for GetLogs.
type LogQuery struct {
	// MinLevel narrows the configured log level further; it can never
	// widen it.
	MinLevel audit.Level
	Limit    int
}

// ExportResult is the outcome of Export.
type ExportResult struct {
	Result
	ExportedAt time.Time    `json:"exported_at,omitempty"`
	Records    []RecordView `json:"records,omitempty"`
}

func refused(code ErrorCode, msg string) Result {
	return Result{Error: &Error{Code: code, Message: msg}}
}

func ok() Result {
	return Result{Success: true}
}

func viewOf(rec whitelist.Record) RecordView {
	return RecordView{
		CanonicalID:           string(rec.CanonicalID),
		FriendlyName:          rec.FriendlyName,
		DeviceType:            rec.DeviceType,
		StructuralFingerprint: rec.IsFingerprinted(),
		State:                 whitelist.StateOf(&rec),
		LowConfidence:         rec.LowConfidence,
		AddedOn:               rec.AddedOn,
	}
}
