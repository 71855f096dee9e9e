// Package logging provides structured operational logging for deviceguard.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text for development, with service and version attached to
// every record.
//
// Operational logs are not the security audit trail. Registration,
// verification and authentication outcomes are recorded by the audit
// package; this package is for diagnostics.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Security
//
// Never log credentials or fingerprint digests. Canonical ids are fine.
package logging
