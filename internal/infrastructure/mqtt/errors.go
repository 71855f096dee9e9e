package mqtt

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrInvalidTopic     = errors.New("mqtt: topic cannot be empty")
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)
