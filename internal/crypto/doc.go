// Package crypto exposes the minimal primitives used by pulse.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519,
//     PublicX25519, DH)
//   - Ed25519 identity signing keys and signed pre-key signatures
//     (GenerateEd25519, SignPreKey, VerifyPreKey)
//   - Human-comparable public-key fingerprints (Fingerprint)
//   - Random bytes (RandomBytes)
//
// # Notes
//
// All functions return fixed-size array types defined in internal/domain to
// avoid accidental reallocations. Callers should treat returned secrets as
// sensitive and wipe them with memzero.Zero when practical.
package crypto
