package x3dh

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"pulse/internal/crypto"
	"pulse/internal/domain"
	"pulse/internal/util/memzero"
)

const (
	rootKeySize = 32
	rootInfo    = "pulse-x3dh-root"
)

// ErrBadSignedPreKey is returned when a bundle's signed pre-key does not
// verify under the bundle's signing key.
var ErrBadSignedPreKey = fmt.Errorf("%w: signed pre-key signature invalid", domain.ErrHandshakeFailure)

// InitiatorRoot verifies bundle, generates an ephemeral key and derives the
// root key shared with the bundle's owner. It returns the identifiers of the
// pre-keys used and the ephemeral public key so the responder can repeat the
// agreement.
func InitiatorRoot(
	id domain.Identity,
	bundle domain.PreKeyBundle,
) (root []byte, spkID domain.PreKeyID, opkID *domain.PreKeyID, ephPub domain.X25519Public, err error) {
	if !VerifySignedPreKey(bundle.SigningKey, bundle.SignedPreKey) {
		return nil, 0, nil, ephPub, ErrBadSignedPreKey
	}

	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, 0, nil, ephPub, err
	}
	defer memzero.Zero(ephPriv[:])

	var opk *domain.X25519Public
	if bundle.OneTimePreKey != nil {
		opk = &bundle.OneTimePreKey.Pub
		oid := bundle.OneTimePreKey.ID
		opkID = &oid
	}

	root, err = InitiatorRootKey(id.XPriv, ephPriv, bundle.IdentityKey, bundle.SignedPreKey.Pub, opk)
	if err != nil {
		return nil, 0, nil, ephPub, fmt.Errorf("%w: %w", domain.ErrHandshakeFailure, err)
	}
	return root, bundle.SignedPreKey.ID, opkID, ephPub, nil
}

// InitiatorRootKey derives the root key for the initiator using X3DH.
func InitiatorRootKey(
	ourIDPriv domain.X25519Private,
	ourEphPriv domain.X25519Private,
	peerIDPub domain.X25519Public,
	peerSPK domain.X25519Public,
	peerOPK *domain.X25519Public,
) ([]byte, error) {
	privs := []domain.X25519Private{ourIDPriv, ourEphPriv, ourEphPriv}
	pubs := []domain.X25519Public{peerSPK, peerIDPub, peerSPK}
	if peerOPK != nil {
		privs = append(privs, ourEphPriv)
		pubs = append(pubs, *peerOPK)
	}
	transcript, err := dhTranscript(privs, pubs)
	if err != nil {
		return nil, err
	}
	return deriveRoot(transcript)
}

// ResponderRoot recomputes the initiator's root key from the handshake, the
// responder's signed pre-key private half and, if the initiator used one,
// the consumed one-time pre-key.
func ResponderRoot(
	id domain.Identity,
	spkPriv domain.X25519Private,
	opkPriv *domain.X25519Private,
	pm domain.PreKeyMessage,
) ([]byte, error) {
	if (pm.OneTimePreKeyID != nil) != (opkPriv != nil) {
		return nil, fmt.Errorf("%w: one-time pre-key mismatch", domain.ErrHandshakeFailure)
	}
	privs := []domain.X25519Private{spkPriv, id.XPriv, spkPriv}
	pubs := []domain.X25519Public{pm.InitiatorIdentityKey, pm.EphemeralKey, pm.EphemeralKey}
	if opkPriv != nil {
		privs = append(privs, *opkPriv)
		pubs = append(pubs, pm.EphemeralKey)
	}

	transcript, err := dhTranscript(privs, pubs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrHandshakeFailure, err)
	}
	return deriveRoot(transcript)
}

// VerifySignedPreKey checks the signed pre-key signature.
func VerifySignedPreKey(edPub domain.Ed25519Public, spk domain.SignedPreKeyPublic) bool {
	return crypto.VerifyPreKey(edPub, spk.Pub, spk.Signature)
}

// dhTranscript concatenates DH(privs[i], pubs[i]) in order.
func dhTranscript(privs []domain.X25519Private, pubs []domain.X25519Public) ([]byte, error) {
	transcript := make([]byte, 0, 32*len(privs))
	for i := range privs {
		out, err := crypto.DH(privs[i], pubs[i])
		if err != nil {
			memzero.Zero(transcript)
			return nil, err
		}
		transcript = append(transcript, out[:]...)
		memzero.Zero(out[:])
	}
	return transcript, nil
}

// deriveRoot runs HKDF-SHA256 over F || transcript, where F is 32 0xFF bytes
// separating the output from any X25519 shared secret.
func deriveRoot(transcript []byte) ([]byte, error) {
	ikm := make([]byte, 32, 32+len(transcript))
	for i := range ikm {
		ikm[i] = 0xFF
	}
	ikm = append(ikm, transcript...)
	memzero.Zero(transcript)
	defer memzero.Zero(ikm)

	root := make([]byte, rootKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, make([]byte, sha256.Size), []byte(rootInfo)), root); err != nil {
		return nil, err
	}
	return root, nil
}
