// Package cipher turns payload bytes into ciphertext plus EncryptionMetadata
// and back.
//
// Pairwise messages use ChaCha20-Poly1305 keyed by the session's ratchet;
// group messages use XChaCha20-Poly1305 keyed by the conversation key version
// pinned in the metadata. IVs are random per message and the Poly1305 tag is
// carried separately as authTag. Every failure to open a ciphertext wraps
// domain.ErrDecryptionFailure; ratchet overflow surfaces as
// domain.ErrRatchetOverflow.
package cipher
