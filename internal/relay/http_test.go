package relay

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulse/internal/domain"
	"pulse/internal/log"
)

func newTestClient(t *testing.T) (*Client, *Hub) {
	t.Helper()
	logs := log.Discard()
	hub := NewHub(logs.GetLogger("hub"))
	srv := httptest.NewServer(NewServer(hub, logs.GetLogger("server")))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, 50*time.Millisecond, logs.GetLogger("client")), hub
}

func TestClientBundles(t *testing.T) {
	require := require.New(t)
	c, hub := newTestClient(t)
	ctx := context.Background()

	_, err := c.FetchBundle(ctx, "bob")
	require.ErrorIs(err, domain.ErrNoBundle)

	require.NoError(c.PublishBundles(ctx, "bob", []domain.PreKeyBundle{bundle("bob", 9)}))
	require.Equal(1, hub.Remaining("bob"))

	b, err := c.FetchBundle(ctx, "bob")
	require.NoError(err)
	require.Equal(domain.UserID("bob"), b.UserID)
	require.Equal(domain.PreKeyID(9), b.OneTimePreKey.ID)

	err = c.PublishBundles(ctx, "bob", []domain.PreKeyBundle{bundle("eve", 1)})
	var se *StatusError
	require.ErrorAs(err, &se)
	require.Equal(400, se.Code)
}

func TestClientSendSubscribe(t *testing.T) {
	require := require.New(t)
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conv := domain.ConversationID("dm:alice:bob")
	meta := &domain.EncryptionMetadata{KeyID: "s", Algorithm: domain.AlgorithmChaCha20Poly1305, IV: []byte{1, 2}}
	require.NoError(c.Send(ctx, conv, domain.Envelope{
		Kind: domain.EnvelopeMessage, ConversationID: conv, MessageID: "m1", SenderID: "alice",
		Metadata: meta, Ciphertext: []byte("ct"),
	}))

	ch, err := c.Subscribe(ctx, conv)
	require.NoError(err)

	recv := func() domain.Envelope {
		select {
		case env := <-ch:
			return env
		case <-time.After(5 * time.Second):
			t.Fatal("timed out")
		}
		return domain.Envelope{}
	}
	env := recv()
	require.Equal(domain.MessageID("m1"), env.MessageID)
	require.Equal(uint64(1), env.Seq)
	require.Equal(meta.IV, env.Metadata.IV)
	require.Equal([]byte("ct"), env.Ciphertext)

	require.NoError(c.Send(ctx, conv, domain.Envelope{Kind: domain.EnvelopeReceipt, ConversationID: conv, SenderID: "bob"}))
	env = recv()
	require.Equal(domain.EnvelopeReceipt, env.Kind)
	require.Equal(uint64(2), env.Seq)
}
