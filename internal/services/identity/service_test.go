package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pulse/internal/crypto"
	"pulse/internal/log"
	"pulse/internal/store"
)

const testPass = "Correct-Horse-9"

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "id.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db.Identities(), log.Discard().GetLogger("identity"))
}

func TestCreateIdentityIsIdempotent(t *testing.T) {
	require := require.New(t)
	s := newTestService(t)

	id, fp, err := s.CreateIdentity(testPass)
	require.NoError(err)
	require.False(id.IsZero())
	require.Equal(crypto.FingerprintIdentity(id.XPub), fp)

	again, fp2, err := s.CreateIdentity(testPass)
	require.NoError(err)
	require.Equal(id, again)
	require.Equal(fp, fp2)

	got, err := s.FingerprintIdentity(testPass)
	require.NoError(err)
	require.Equal(fp, got)

	_, err = s.LoadIdentity("Wrong-Horse-99")
	require.ErrorIs(err, store.ErrWrongPassphrase)
}

func TestWeakPassphraseRejected(t *testing.T) {
	s := newTestService(t)
	for _, p := range []string{"short", "alllowercase-123", "NoDigitsHere!!", "NoSymbols12345"} {
		_, _, err := s.CreateIdentity(p)
		require.ErrorIs(t, err, ErrWeakPassphrase, p)
	}

	_, _, err := s.CreateIdentity("NoSymbols12345")
	require.ErrorContains(t, err, "needs a symbol")
	ok, err := s.store.HasIdentity()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDistinctIdentitiesHaveDistinctFingerprints(t *testing.T) {
	a, fa, err := newTestService(t).CreateIdentity(testPass)
	require.NoError(t, err)
	b, fb, err := newTestService(t).CreateIdentity(testPass)
	require.NoError(t, err)
	require.NotEqual(t, a.XPub, b.XPub)
	require.NotEqual(t, fa, fb)
}
