package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulse/internal/domain"
	"pulse/internal/log"
)

func newTestHub() *Hub {
	return NewHub(log.Discard().GetLogger("relay"))
}

func bundle(user domain.UserID, opk domain.PreKeyID) domain.PreKeyBundle {
	b := domain.PreKeyBundle{UserID: user, SignedPreKey: domain.SignedPreKeyPublic{ID: 1}}
	if opk != 0 {
		b.OneTimePreKey = &domain.OneTimePreKeyPublic{ID: opk}
	}
	return b
}

func TestHubSequencesEnvelopes(t *testing.T) {
	require := require.New(t)
	h := newTestHub()
	ctx := context.Background()

	for _, id := range []domain.MessageID{"a", "b", "c"} {
		require.NoError(h.Send(ctx, "c1", domain.Envelope{ConversationID: "c1", MessageID: id, Kind: domain.EnvelopeMessage}))
	}
	require.Error(h.Send(ctx, "c1", domain.Envelope{ConversationID: "c2"}))

	envs, _ := h.Since("c1", 1)
	require.Len(envs, 2)
	require.Equal(uint64(2), envs[0].Seq)
	require.Equal(domain.MessageID("c"), envs[1].MessageID)
	require.False(envs[0].CreatedAt.IsZero())

	envs, _ = h.Since("c1", 3)
	require.Empty(envs)
}

func TestHubSubscribeReplaysAndFollows(t *testing.T) {
	require := require.New(t)
	h := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(h.Send(ctx, "c", domain.Envelope{ConversationID: "c", MessageID: "old"}))
	ch, err := h.Subscribe(ctx, "c")
	require.NoError(err)

	next := func() domain.Envelope {
		select {
		case env := <-ch:
			return env
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for envelope")
		}
		return domain.Envelope{}
	}
	require.Equal(domain.MessageID("old"), next().MessageID)

	require.NoError(h.Send(ctx, "c", domain.Envelope{ConversationID: "c", MessageID: "new"}))
	require.Equal(domain.MessageID("new"), next().MessageID)

	cancel()
	select {
	case _, ok := <-ch:
		require.False(ok)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestHubBundleQueue(t *testing.T) {
	require := require.New(t)
	h := newTestHub()
	ctx := context.Background()

	_, err := h.FetchBundle(ctx, "alice")
	require.ErrorIs(err, domain.ErrNoBundle)

	require.Error(h.PublishBundles(ctx, "alice", []domain.PreKeyBundle{bundle("bob", 1)}))
	require.NoError(h.PublishBundles(ctx, "alice", []domain.PreKeyBundle{
		bundle("alice", 1), bundle("alice", 2), bundle("alice", 0),
	}))
	require.Equal(2, h.Remaining("alice"))

	b, err := h.FetchBundle(ctx, "alice")
	require.NoError(err)
	require.Equal(domain.PreKeyID(1), b.OneTimePreKey.ID)
	b, err = h.FetchBundle(ctx, "alice")
	require.NoError(err)
	require.Equal(domain.PreKeyID(2), b.OneTimePreKey.ID)

	for i := 0; i < 2; i++ {
		b, err = h.FetchBundle(ctx, "alice")
		require.NoError(err)
		require.Nil(b.OneTimePreKey, "last resort is served repeatedly")
	}
}
