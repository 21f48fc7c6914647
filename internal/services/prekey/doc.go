// Package prekey manages signed pre-keys and one-time pre-keys for the X3DH
// handshake.
//
// Signed pre-keys are kept for a grace period after being replaced so that
// handshakes built on a recently published bundle still complete. One-time
// pre-keys are handed out at most once and deleted when consumed.
package prekey
