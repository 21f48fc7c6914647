package types

// Identity holds the long-term key pairs of the local account: an X25519 pair
// for Diffie-Hellman agreement and an Ed25519 pair for signing pre-keys.
type Identity struct {
	XPub   X25519Public   `json:"xpub"`
	XPriv  X25519Private  `json:"xpriv"`
	EdPub  Ed25519Public  `json:"edpub"`
	EdPriv Ed25519Private `json:"edpriv"`
}

// IsZero reports whether the identity carries no key material.
func (id Identity) IsZero() bool {
	return id.XPub == (X25519Public{}) && id.EdPub == (Ed25519Public{})
}
