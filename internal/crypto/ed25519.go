package crypto

import (
	"crypto/ed25519"

	"pulse/internal/domain"
	"pulse/internal/util/memzero"
)

// GenerateEd25519 returns a fresh identity signing key pair.
func GenerateEd25519() (domain.Ed25519Private, domain.Ed25519Public, error) {
	var priv domain.Ed25519Private
	var pub domain.Ed25519Public
	seed, err := RandomBytes(ed25519.SeedSize)
	if err != nil {
		return priv, pub, err
	}
	sk := ed25519.NewKeyFromSeed(seed)
	copy(priv[:], sk)
	copy(pub[:], sk.Public().(ed25519.PublicKey))
	memzero.ZeroAll(seed, sk)
	return priv, pub, nil
}

// SignEd25519 signs msg with priv.
func SignEd25519(priv domain.Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(priv[:], msg)
}

// VerifyEd25519 reports whether sig is pub's signature over msg.
func VerifyEd25519(pub domain.Ed25519Public, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub[:], msg, sig)
}

// SignPreKey signs the public half of a signed pre-key with the identity
// signing key.
func SignPreKey(priv domain.Ed25519Private, spk domain.X25519Public) []byte {
	return SignEd25519(priv, spk.Slice())
}

// VerifyPreKey checks a bundle's signed pre-key against the owner's identity
// signing key.
func VerifyPreKey(pub domain.Ed25519Public, spk domain.X25519Public, sig []byte) bool {
	return VerifyEd25519(pub, spk.Slice(), sig)
}
