// Package audit is the security audit trail.
//
// Every authentication attempt and every whitelist change produces exactly
// one entry. Entries carry a sequence number assigned by SQLite
// AUTOINCREMENT, so the order is total and survives restarts and clears.
// The log is bounded: once it holds more than its configured maximum, the
// oldest entries are evicted in the same transaction as the insert.
//
// Listeners registered with Subscribe receive entries as they are
// appended; the API websocket hub and the MQTT publisher use this.
package audit
