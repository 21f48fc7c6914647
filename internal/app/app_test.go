package app

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulse/internal/config"
	"pulse/internal/domain"
	"pulse/internal/log"
	"pulse/internal/relay"
)

const testPass = "Correct-Horse-9"

func newApp(t *testing.T, user, relayURL string) *App {
	t.Helper()
	require := require.New(t)

	body := fmt.Sprintf(`
[Account]
  User = %q
  RegistrationID = 7

[Logging]
  Disable = true

[Relay]
  URL = %q
  PollIntervalMs = 20
  RequestTimeoutMs = 5000

[Retry]
  MaxAttempts = 2
  BaseDelayMs = 10
  MaxDelayMs = 20

[PreKeys]
  BatchSize = 4
  BundleBatch = 2
`, user, relayURL)
	cfg, err := config.Load([]byte(body), t.TempDir())
	require.NoError(err)

	a, err := NewWithLog(cfg, log.Discard())
	require.NoError(err)
	t.Cleanup(func() { _ = a.Close() })

	_, _, err = a.Identity.CreateIdentity(testPass)
	require.NoError(err)
	return a
}

func TestRegisterPublishesBundles(t *testing.T) {
	require := require.New(t)
	hub := relay.NewHub(log.Discard().GetLogger("hub"))
	srv := httptest.NewServer(relay.NewServer(hub, log.Discard().GetLogger("relay")))
	defer srv.Close()

	alice := newApp(t, "alice", srv.URL)
	n, err := alice.Register(context.Background(), testPass)
	require.NoError(err)
	require.Equal(2, n)
	require.Equal(2, hub.Remaining("alice"))

	b, err := alice.Relay.FetchBundle(context.Background(), "alice")
	require.NoError(err)
	require.Equal(uint32(7), b.RegistrationID)
	require.NotNil(b.OneTimePreKey)
}

func TestMessagesOverRelay(t *testing.T) {
	require := require.New(t)
	hub := relay.NewHub(log.Discard().GetLogger("hub"))
	srv := httptest.NewServer(relay.NewServer(hub, log.Discard().GetLogger("relay")))
	defer srv.Close()

	alice := newApp(t, "alice", srv.URL)
	bob := newApp(t, "bob", srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := bob.Register(ctx, testPass)
	require.NoError(err)

	conv, err := alice.Messenger.OpenDirect("bob")
	require.NoError(err)
	_, err = bob.Messenger.OpenDirect("alice")
	require.NoError(err)

	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = bob.Messenger.Run(runCtx, testPass)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	id, err := alice.Messenger.Send(ctx, testPass, conv, domain.Text{Body: "over the wire"}, nil)
	require.NoError(err)

	require.Eventually(func() bool {
		msgs, err := bob.Messenger.Timeline(conv)
		return err == nil && len(msgs) == 1 && msgs[0].ID == id
	}, 5*time.Second, 20*time.Millisecond)

	msgs, err := bob.Messenger.Timeline(conv)
	require.NoError(err)
	require.Equal(domain.Text{Body: "over the wire"}, msgs[0].Payload)
	require.Equal(domain.StatusDelivered, msgs[0].Status)

	st, err := bob.Messenger.SecurityStatus(conv)
	require.NoError(err)
	require.Equal(domain.ProtectionEndToEnd, st.Level)
	require.True(st.IsEncrypted)
}
