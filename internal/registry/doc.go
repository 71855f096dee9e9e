// Package registry is the device registry service: the operations a
// presentation layer calls to list devices, register them, verify them and
// manage the whitelist and audit log.
//
// States per canonical id:
//
//	Unknown ──Register(basic)──▶ Registered
//	Unknown ──Register(secure)─▶ Secured ──Verify──▶ Secured
//	Registered|Secured ──Remove──▶ Unknown
//	any ──ClearAll──▶ Unknown
//
// ListDevices annotates attached devices with their state but never
// verifies; Verify only runs when an operator asks for it.
package registry
