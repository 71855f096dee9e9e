// Package whitelist stores admin-approved devices keyed by canonical id.
//
// A Record without a fingerprint is a basic registration; one with a
// fingerprint is secured. StateOf maps a lookup result to the
// Unknown / Registered / Secured state the registry service drives.
//
// Store layers the locking rules on top of a Repository: per-id mutual
// exclusion for Insert, Remove and View, and an exclusive store-wide lock
// for ClearAll.
package whitelist
