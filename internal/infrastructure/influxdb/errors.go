package influxdb

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps async batch failures passed to the SetOnError
	// callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
