package cipher

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"pulse/internal/domain"
	"pulse/internal/protocol/ratchet"
	"pulse/internal/util/memzero"
)

// PairwiseVersion is the metadata version stamped on pairwise messages.
// Pairwise keys never rotate in place; a new session gets a new SessionID.
const PairwiseVersion = 1

const (
	tagSize = chacha20poly1305.Overhead
	adLabel = "pulse-msg-v1"
)

// KeyLookup resolves the group key version pinned by a message.
type KeyLookup interface {
	KeyForVersion(conversation domain.ConversationID, version int) (domain.ConversationKey, error)
}

// Cipher seals and opens message payloads with either a pairwise session or
// a group ConversationKey, producing the EncryptionMetadata that travels next
// to each ciphertext.
type Cipher struct {
	engine ratchet.Engine
	now    func() time.Time
	rand   io.Reader
}

// New returns a Cipher that advances sessions with engine.
func New(engine ratchet.Engine) *Cipher {
	return &Cipher{engine: engine, now: time.Now, rand: rand.Reader}
}

// WithClock replaces the clock used for metadata timestamps.
func (c *Cipher) WithClock(now func() time.Time) *Cipher {
	c.now = now
	return c
}

// EncryptPairwise seals plaintext under the next sending key of st. The
// session is advanced even if the caller later fails to deliver the result.
func (c *Cipher) EncryptPairwise(
	st *domain.SessionState,
	plaintext, ad []byte,
) ([]byte, domain.EncryptionMetadata, error) {
	mk, index, err := c.engine.NextSendingKey(st)
	if err != nil {
		return nil, domain.EncryptionMetadata{}, err
	}
	defer memzero.Zero(mk)

	meta := domain.EncryptionMetadata{
		KeyID:         string(st.SessionID),
		Algorithm:     domain.AlgorithmChaCha20Poly1305,
		Version:       PairwiseVersion,
		SessionID:     st.SessionID,
		MessageNumber: uint64(index),
		Timestamp:     c.now().UTC(),
	}
	ct, err := c.seal(mk, &meta, plaintext, ad)
	if err != nil {
		return nil, domain.EncryptionMetadata{}, err
	}
	st.LastUsed = meta.Timestamp
	return ct, meta, nil
}

// DecryptPairwise opens a pairwise ciphertext. The receiving chain of st only
// advances when authentication succeeds.
func (c *Cipher) DecryptPairwise(
	st *domain.SessionState,
	ciphertext []byte,
	meta domain.EncryptionMetadata,
	ad []byte,
) ([]byte, error) {
	if meta.SessionID != st.SessionID || meta.KeyID != string(st.SessionID) {
		return nil, fmt.Errorf("%w: session %q does not match %q", domain.ErrDecryptionFailure, meta.SessionID, st.SessionID)
	}
	if meta.Algorithm != domain.AlgorithmChaCha20Poly1305 || meta.Version != PairwiseVersion {
		return nil, fmt.Errorf("%w: unsupported pairwise algorithm %q v%d", domain.ErrDecryptionFailure, meta.Algorithm, meta.Version)
	}
	if meta.MessageNumber > math.MaxUint32 {
		return nil, fmt.Errorf("%w: message number %d out of range", domain.ErrDecryptionFailure, meta.MessageNumber)
	}

	step, err := c.engine.ReceivingKey(st, uint32(meta.MessageNumber))
	if err != nil {
		return nil, err
	}
	pt, err := open(step.MessageKey, meta, ciphertext, ad)
	if err != nil {
		step.Discard()
		return nil, err
	}
	step.Commit()
	st.LastUsed = c.now().UTC()
	return pt, nil
}

// EncryptGroup seals plaintext under key. number is the per-key send counter.
func (c *Cipher) EncryptGroup(
	key domain.ConversationKey,
	number uint64,
	plaintext, ad []byte,
) ([]byte, domain.EncryptionMetadata, error) {
	if !key.Active {
		return nil, domain.EncryptionMetadata{}, fmt.Errorf("conversation key v%d is not active", key.Version)
	}
	meta := domain.EncryptionMetadata{
		KeyID:         string(key.KeyID),
		Algorithm:     domain.AlgorithmXChaCha20Poly1305,
		Version:       key.Version,
		MessageNumber: number,
		Timestamp:     c.now().UTC(),
	}
	ct, err := c.seal(key.SymmetricKey, &meta, plaintext, ad)
	if err != nil {
		return nil, domain.EncryptionMetadata{}, err
	}
	return ct, meta, nil
}

// DecryptGroup opens a group ciphertext with the key version it pins.
// Unknown versions fail as both ErrUnknownKeyVersion and ErrDecryptionFailure.
func (c *Cipher) DecryptGroup(
	keys KeyLookup,
	conversation domain.ConversationID,
	ciphertext []byte,
	meta domain.EncryptionMetadata,
	ad []byte,
) ([]byte, error) {
	if meta.Algorithm != domain.AlgorithmXChaCha20Poly1305 {
		return nil, fmt.Errorf("%w: unsupported group algorithm %q", domain.ErrDecryptionFailure, meta.Algorithm)
	}
	key, err := keys.KeyForVersion(conversation, meta.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecryptionFailure, err)
	}
	if string(key.KeyID) != meta.KeyID {
		return nil, fmt.Errorf("%w: key id mismatch for v%d", domain.ErrDecryptionFailure, meta.Version)
	}
	return open(key.SymmetricKey, meta, ciphertext, ad)
}

// seal encrypts with a fresh random IV and moves the tag into meta.
func (c *Cipher) seal(key []byte, meta *domain.EncryptionMetadata, plaintext, ad []byte) ([]byte, error) {
	aead, err := newAEAD(meta.Algorithm, key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return nil, err
	}
	meta.IV = iv
	sealed := aead.Seal(nil, iv, plaintext, associatedData(*meta, ad))
	split := len(sealed) - tagSize
	meta.AuthTag = append([]byte(nil), sealed[split:]...)
	return sealed[:split], nil
}

func open(key []byte, meta domain.EncryptionMetadata, ciphertext, ad []byte) ([]byte, error) {
	aead, err := newAEAD(meta.Algorithm, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecryptionFailure, err)
	}
	if len(meta.IV) != aead.NonceSize() || len(meta.AuthTag) != tagSize {
		return nil, fmt.Errorf("%w: malformed iv or tag", domain.ErrDecryptionFailure)
	}
	sealed := make([]byte, 0, len(ciphertext)+tagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, meta.AuthTag...)
	pt, err := aead.Open(nil, meta.IV, sealed, associatedData(meta, ad))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", domain.ErrDecryptionFailure)
	}
	return pt, nil
}

func newAEAD(alg domain.Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case domain.AlgorithmChaCha20Poly1305:
		return chacha20poly1305.New(key)
	case domain.AlgorithmXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("unknown algorithm %q", alg)
	}
}

// associatedData binds the metadata fields that select the key and position
// plus the caller's own context.
func associatedData(meta domain.EncryptionMetadata, ad []byte) []byte {
	var b bytes.Buffer
	b.WriteString(adLabel)
	writeField(&b, []byte(meta.Algorithm))
	writeField(&b, []byte(meta.KeyID))
	writeField(&b, []byte(meta.SessionID))
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(meta.Version))
	b.Write(n[:])
	binary.BigEndian.PutUint64(n[:], meta.MessageNumber)
	b.Write(n[:])
	writeField(&b, ad)
	return b.Bytes()
}

func writeField(b *bytes.Buffer, f []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(f)))
	b.Write(n[:])
	b.Write(f)
}
