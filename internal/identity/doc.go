// Package identity converts raw device descriptors to and from the
// canonical id used as the whitelist primary key.
//
// Derive is total. A device with no usable serial gets a placeholder token
// derived from its class and name, and the result is flagged LowConfidence.
// Parse accepts exactly the strings Derive can produce.
package identity
