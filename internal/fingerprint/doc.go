// Package fingerprint computes the structural digest used to tell a
// registered device apart from a clone that copies its vendor, product and
// serial.
//
// The digest is SHA-256 over a tagged, length-prefixed encoding of the
// descriptor tree. Two fingerprints are compared with Compare, which runs
// in constant time.
package fingerprint
