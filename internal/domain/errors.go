package domain

import "errors"

// Failure kinds surfaced by the crypto core. Callers wrap them with context
// and test with errors.Is.
var (
	// ErrHandshakeFailure covers a bad signed pre-key signature, a missing
	// local identity, or an unknown signed pre-key. No session is persisted.
	ErrHandshakeFailure = errors.New("handshake failure")
	// ErrRatchetOverflow is returned when a message index is further ahead of
	// the receiving chain than the skip bound allows.
	ErrRatchetOverflow = errors.New("ratchet overflow")
	// ErrDecryptionFailure covers unknown keys, authentication failures and
	// replays of an already consumed message index.
	ErrDecryptionFailure = errors.New("decryption failure")
	// ErrUnknownKeyVersion is returned when a group message pins a key
	// version that is not (or no longer) held locally.
	ErrUnknownKeyVersion = errors.New("unknown key version")
)

// ErrNoBundle is returned by a Directory that holds no bundle for a user.
var ErrNoBundle = errors.New("no pre-key bundle published")
