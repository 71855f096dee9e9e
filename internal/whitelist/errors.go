package whitelist

import "errors"

var (
	// ErrNotFound is returned when no record exists for the id.
	ErrNotFound = errors.New("whitelist: not found")

	// ErrAlreadyRegistered is returned by a non-update insert for an id that
	// already has a record.
	ErrAlreadyRegistered = errors.New("whitelist: already registered")

	// ErrStoreUnavailable wraps every storage backend failure.
	ErrStoreUnavailable = errors.New("whitelist: store unavailable")
)
