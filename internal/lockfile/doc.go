// Package lockfile writes a host-signed token onto secured storage devices.
//
// When a storage device is secured, the host signs an ES256 JWT binding the
// device's canonical id to its structural fingerprint and stores it on the
// volume. The whitelist record keeps the token's signature, so a later
// verification can tell the issued lockfile apart from a copy, a forgery or
// an older lockfile from a previous registration.
//
// The host key is a P-256 private key in PEM form, created on first use.
package lockfile
