package audit

import "errors"

var (
	// ErrStoreUnavailable wraps every audit storage failure.
	ErrStoreUnavailable = errors.New("audit: store unavailable")

	// ErrInvalidLevel is returned for an unknown severity.
	ErrInvalidLevel = errors.New("audit: invalid level")

	// ErrInvalidMaxSize is returned for a non-positive log bound.
	ErrInvalidMaxSize = errors.New("audit: max size must be positive")
)
