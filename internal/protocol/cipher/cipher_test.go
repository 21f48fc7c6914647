package cipher_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulse/internal/domain"
	"pulse/internal/protocol/cipher"
	"pulse/internal/protocol/ratchet"
)

func sessions(t *testing.T) (*domain.SessionState, *domain.SessionState) {
	t.Helper()
	root := bytes.Repeat([]byte{7}, 32)
	aSend, aRecv, err := ratchet.InitChains(root, true)
	require.NoError(t, err)
	bSend, bRecv, err := ratchet.InitChains(root, false)
	require.NoError(t, err)
	return &domain.SessionState{SessionID: "sess-1", SendingChain: aSend, ReceivingChain: aRecv},
		&domain.SessionState{SessionID: "sess-1", SendingChain: bSend, ReceivingChain: bRecv}
}

type keyMap map[int]domain.ConversationKey

func (m keyMap) KeyForVersion(_ domain.ConversationID, v int) (domain.ConversationKey, error) {
	k, ok := m[v]
	if !ok {
		return domain.ConversationKey{}, fmt.Errorf("%w: v%d", domain.ErrUnknownKeyVersion, v)
	}
	return k, nil
}

func TestPairwise_RoundTrip(t *testing.T) {
	require := require.New(t)
	alice, bob := sessions(t)
	c := cipher.New(ratchet.New(0))

	ct, meta, err := c.EncryptPairwise(alice, []byte("hi"), []byte("ad"))
	require.NoError(err)
	require.Equal(domain.AlgorithmChaCha20Poly1305, meta.Algorithm)
	require.Len(meta.IV, 12)
	require.Len(meta.AuthTag, 16)
	require.Equal(uint64(0), meta.MessageNumber)
	require.Equal(domain.SessionID("sess-1"), meta.SessionID)

	pt, err := c.DecryptPairwise(bob, ct, meta, []byte("ad"))
	require.NoError(err)
	require.Equal("hi", string(pt))

	// Replaying the same ciphertext must fail: the key is gone.
	_, err = c.DecryptPairwise(bob, ct, meta, []byte("ad"))
	require.ErrorIs(err, domain.ErrDecryptionFailure)
}

func TestPairwise_TamperDoesNotAdvance(t *testing.T) {
	require := require.New(t)
	alice, bob := sessions(t)
	c := cipher.New(ratchet.New(0))

	ct, meta, err := c.EncryptPairwise(alice, []byte("payload"), nil)
	require.NoError(err)

	bad := append([]byte(nil), ct...)
	bad[0] ^= 0xff
	_, err = c.DecryptPairwise(bob, bad, meta, nil)
	require.ErrorIs(err, domain.ErrDecryptionFailure)
	require.Equal(uint32(0), bob.ReceivingChain.Index)

	_, err = c.DecryptPairwise(bob, ct, meta, []byte("other context"))
	require.ErrorIs(err, domain.ErrDecryptionFailure)

	pt, err := c.DecryptPairwise(bob, ct, meta, nil)
	require.NoError(err)
	require.Equal("payload", string(pt))
}

func TestPairwise_OutOfOrder(t *testing.T) {
	require := require.New(t)
	alice, bob := sessions(t)
	c := cipher.New(ratchet.New(0))

	type sealed struct {
		ct   []byte
		meta domain.EncryptionMetadata
	}
	var msgs []sealed
	for i := 0; i < 3; i++ {
		ct, meta, err := c.EncryptPairwise(alice, []byte{byte('a' + i)}, nil)
		require.NoError(err)
		msgs = append(msgs, sealed{ct, meta})
	}
	for _, i := range []int{2, 0, 1} {
		pt, err := c.DecryptPairwise(bob, msgs[i].ct, msgs[i].meta, nil)
		require.NoError(err)
		require.Equal([]byte{byte('a' + i)}, pt)
	}
	for _, m := range msgs {
		_, err := c.DecryptPairwise(bob, m.ct, m.meta, nil)
		require.ErrorIs(err, domain.ErrDecryptionFailure)
	}
}

func TestPairwise_Overflow(t *testing.T) {
	require := require.New(t)
	alice, bob := sessions(t)
	c := cipher.New(ratchet.New(2))

	var ct []byte
	var meta domain.EncryptionMetadata
	for i := 0; i < 4; i++ {
		var err error
		ct, meta, err = c.EncryptPairwise(alice, []byte("x"), nil)
		require.NoError(err)
	}
	_, err := c.DecryptPairwise(bob, ct, meta, nil)
	require.ErrorIs(err, domain.ErrRatchetOverflow)
}

func TestPairwise_WrongSession(t *testing.T) {
	require := require.New(t)
	alice, bob := sessions(t)
	bob.SessionID = "sess-2"
	c := cipher.New(ratchet.New(0))

	ct, meta, err := c.EncryptPairwise(alice, []byte("x"), nil)
	require.NoError(err)
	_, err = c.DecryptPairwise(bob, ct, meta, nil)
	require.ErrorIs(err, domain.ErrDecryptionFailure)
}

func TestGroup_RotationKeepsOldVersionsReadable(t *testing.T) {
	require := require.New(t)
	c := cipher.New(ratchet.New(0))

	v1 := domain.ConversationKey{KeyID: "k1", ConversationID: "g", SymmetricKey: bytes.Repeat([]byte{1}, 32), Version: 1, Active: true}
	m1, meta1, err := c.EncryptGroup(v1, 0, []byte("before"), nil)
	require.NoError(err)
	require.Equal(1, meta1.Version)
	require.Len(meta1.IV, 24)

	v1.Active = false
	v2 := domain.ConversationKey{KeyID: "k2", ConversationID: "g", SymmetricKey: bytes.Repeat([]byte{2}, 32), Version: 2, Active: true}
	m2, meta2, err := c.EncryptGroup(v2, 0, []byte("after"), nil)
	require.NoError(err)
	require.Equal(2, meta2.Version)

	_, _, err = c.EncryptGroup(v1, 1, []byte("stale"), nil)
	require.Error(err)

	keys := keyMap{1: v1, 2: v2}
	pt, err := c.DecryptGroup(keys, "g", m1, meta1, nil)
	require.NoError(err)
	require.Equal("before", string(pt))
	pt, err = c.DecryptGroup(keys, "g", m2, meta2, nil)
	require.NoError(err)
	require.Equal("after", string(pt))

	delete(keys, 1)
	_, err = c.DecryptGroup(keys, "g", m1, meta1, nil)
	require.ErrorIs(err, domain.ErrUnknownKeyVersion)
	require.ErrorIs(err, domain.ErrDecryptionFailure)
}

func TestMetadata_WireFields(t *testing.T) {
	require := require.New(t)
	alice, _ := sessions(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := cipher.New(ratchet.New(0)).WithClock(func() time.Time { return fixed })

	_, meta, err := c.EncryptPairwise(alice, []byte("x"), nil)
	require.NoError(err)
	raw, err := json.Marshal(meta)
	require.NoError(err)

	var fields map[string]any
	require.NoError(json.Unmarshal(raw, &fields))
	for _, k := range []string{"keyId", "algorithm", "iv", "authTag", "version", "sessionId", "messageNumber", "timestamp"} {
		require.Contains(fields, k)
	}
	require.Equal("2026-03-01T12:00:00Z", fields["timestamp"])
	require.IsType("", fields["iv"])
}
