package keyring

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pulse/internal/domain"
	"pulse/internal/log"
	"pulse/internal/store"
)

func newTestKeyring(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db.ConversationKeys(), log.Discard().GetLogger("keyring"))
}

func TestCreateIsIdempotent(t *testing.T) {
	require := require.New(t)
	k := newTestKeyring(t)

	first, err := k.Create("g", domain.ConversationGroupChat)
	require.NoError(err)
	require.Equal(1, first.Version)
	require.True(first.Active)
	require.Len(first.SymmetricKey, 32)

	again, err := k.Create("g", domain.ConversationGroupChat)
	require.NoError(err)
	require.Equal(first.KeyID, again.KeyID)

	_, err = k.Create("g", "bogus")
	require.Error(err)
}

func TestRotateKeepsOldVersions(t *testing.T) {
	require := require.New(t)
	k := newTestKeyring(t)

	_, err := k.Rotate("g")
	require.ErrorIs(err, ErrNoConversationKey)

	v1, err := k.Create("g", domain.ConversationPulseGroup)
	require.NoError(err)
	v2, err := k.Rotate("g")
	require.NoError(err)
	require.Equal(2, v2.Version)
	require.NotEqual(v1.SymmetricKey, v2.SymmetricKey)

	active, err := k.Active("g")
	require.NoError(err)
	require.Equal(2, active.Version)

	old, err := k.KeyForVersion("g", 1)
	require.NoError(err)
	require.False(old.Active)
	require.Equal(v1.SymmetricKey, old.SymmetricKey)

	_, err = k.KeyForVersion("g", 9)
	require.ErrorIs(err, domain.ErrUnknownKeyVersion)
}

func TestNextSendNumberIsMonotonicPerKey(t *testing.T) {
	require := require.New(t)
	k := newTestKeyring(t)
	_, err := k.Create("g", domain.ConversationGroupChat)
	require.NoError(err)

	for want := uint64(0); want < 3; want++ {
		_, n, err := k.NextSendNumber("g")
		require.NoError(err)
		require.Equal(want, n)
	}
	_, err = k.Rotate("g")
	require.NoError(err)
	key, n, err := k.NextSendNumber("g")
	require.NoError(err)
	require.Equal(2, key.Version)
	require.Equal(uint64(0), n)
}

func TestImport(t *testing.T) {
	require := require.New(t)
	sender := newTestKeyring(t)
	receiver := newTestKeyring(t)

	v1, err := sender.Create("g", domain.ConversationGroupChat)
	require.NoError(err)
	v2, err := sender.Rotate("g")
	require.NoError(err)

	require.NoError(receiver.Import(v2))
	// A late share of an older version is kept but stays inactive.
	v1.Active = true
	require.NoError(receiver.Import(v1))
	active, err := receiver.Active("g")
	require.NoError(err)
	require.Equal(2, active.Version)

	old, err := receiver.KeyForVersion("g", 1)
	require.NoError(err)
	require.False(old.Active)

	// Duplicate shares are ignored.
	require.NoError(receiver.Import(v2))

	require.ErrorIs(receiver.Import(domain.ConversationKey{ConversationID: "g", Version: 3}), ErrInvalidKey)
}

func TestPurge(t *testing.T) {
	require := require.New(t)
	k := newTestKeyring(t)
	_, err := k.Create("g", domain.ConversationGroupChat)
	require.NoError(err)
	for i := 0; i < 3; i++ {
		_, err = k.Rotate("g")
		require.NoError(err)
	}

	n, err := k.Purge("g", 3)
	require.NoError(err)
	require.Equal(2, n)

	_, err = k.KeyForVersion("g", 1)
	require.ErrorIs(err, domain.ErrUnknownKeyVersion)
	_, err = k.KeyForVersion("g", 3)
	require.NoError(err)

	n, err = k.Purge("g", 100)
	require.NoError(err)
	require.Equal(1, n, "the active version is never purged")
}
