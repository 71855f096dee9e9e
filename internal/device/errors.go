package device

import "errors"

// Errors returned while parsing raw USB descriptors.
var (
	// ErrDescriptorTooShort is returned when a descriptor is truncated or
	// declares a length that overruns the buffer.
	ErrDescriptorTooShort = errors.New("device: descriptor too short")

	// ErrDescriptorTypeMismatch is returned when a descriptor is not of the
	// type its position requires (e.g. the blob does not start with a
	// device descriptor, or an endpoint precedes any interface).
	ErrDescriptorTypeMismatch = errors.New("device: descriptor type mismatch")

	// ErrInvalidClass is returned for an unknown device class string.
	ErrInvalidClass = errors.New("device: invalid class")
)
