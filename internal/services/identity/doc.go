// Package identity manages creation, sealing and loading of the local identity.
//
// It enforces the passphrase policy, generates X25519 and Ed25519 key pairs,
// and persists them via the domain.IdentityStore.
package identity
