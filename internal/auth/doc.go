// Package auth is the authentication gate in front of every whitelist
// change.
//
// The admin password is stored as an Argon2id PHC string (OWASP 2025
// parameters). Gate.Authorize checks it on every call and writes one audit
// entry per call. There are no sessions, no token cache and no lockout:
// rate limiting, if wanted, belongs in front of the service.
package auth
