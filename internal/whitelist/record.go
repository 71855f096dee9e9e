package whitelist

import (
	"time"

	"github.com/nerrad567/deviceguard/internal/device"
	"github.com/nerrad567/deviceguard/internal/fingerprint"
	"github.com/nerrad567/deviceguard/internal/identity"
)

// State is the registration state of a canonical id.
type State string

// Registration states.
const (
	StateUnknown    State = "unknown"
	StateRegistered State = "registered"
	StateSecured    State = "secured"
)

// Record is an admin-approved device.
type Record struct {
	CanonicalID  identity.CanonicalID
	FriendlyName string
	DeviceType   device.Class

	// DriveLetter is where the volume was mounted at registration time.
	// Informational only: mount points move between sessions.
	DriveLetter string

	// Fingerprint is nil for a basic registration.
	Fingerprint *fingerprint.Fingerprint

	// LockfileSignature is the signature of the lockfile written to the
	// volume when it was secured, if one was written.
	LockfileSignature string

	LowConfidence bool
	AddedOn       time.Time
}

// IsFingerprinted reports whether the record carries a fingerprint.
func (r *Record) IsFingerprinted() bool {
	return r != nil && r.Fingerprint != nil
}

// StateOf maps a lookup result to a registration state. A nil record is
// Unknown.
func StateOf(r *Record) State {
	switch {
	case r == nil:
		return StateUnknown
	case r.Fingerprint != nil:
		return StateSecured
	default:
		return StateRegistered
	}
}
