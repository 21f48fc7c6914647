package message

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulse/internal/domain"
	"pulse/internal/lane"
	"pulse/internal/log"
	"pulse/internal/presence"
	"pulse/internal/protocol/cipher"
	"pulse/internal/protocol/ratchet"
	"pulse/internal/relay"
	"pulse/internal/retry"
	"pulse/internal/services/identity"
	"pulse/internal/services/keyring"
	"pulse/internal/services/prekey"
	"pulse/internal/services/session"
	"pulse/internal/store"
)

const testPass = "Correct-Horse-9"

// flaky is a transport that can be switched off.
type flaky struct {
	domain.Transport

	mu    sync.Mutex
	fail  bool
	stall bool
}

func (f *flaky) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

// setStall makes Send hang until its context ends and return late.
func (f *flaky) setStall(v bool) {
	f.mu.Lock()
	f.stall = v
	f.mu.Unlock()
}

func (f *flaky) Send(ctx context.Context, conv domain.ConversationID, env domain.Envelope) error {
	f.mu.Lock()
	fail, stall := f.fail, f.stall
	f.mu.Unlock()
	if fail {
		return errors.New("relay unreachable")
	}
	if stall {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return ctx.Err()
	}
	return f.Transport.Send(ctx, conv, env)
}

type client struct {
	user      domain.UserID
	db        *store.DB
	hub       *relay.Hub
	transport *flaky
	sessions  *session.Service
	msgr      *Service
	cursor    map[domain.ConversationID]uint64
}

func newClient(t *testing.T, user domain.UserID, hub *relay.Hub, publish bool) *client {
	t.Helper()
	require := require.New(t)
	db, err := store.Open(filepath.Join(t.TempDir(), string(user)+".db"))
	require.NoError(err)
	t.Cleanup(func() { db.Close() })

	logs := log.Discard()
	_, _, err = identity.New(db.Identities(), logs.GetLogger("identity")).CreateIdentity(testPass)
	require.NoError(err)
	pks := prekey.New(db.Identities(), db.PreKeys(), logs.GetLogger("prekey"))
	if publish {
		_, err = pks.GenerateSignedPreKey(testPass)
		require.NoError(err)
		_, err = pks.GeneratePreKeys(4)
		require.NoError(err)
		bundles, err := pks.BuildBundles(testPass, user, 1, 5)
		require.NoError(err)
		require.NoError(hub.PublishBundles(context.Background(), user, bundles))
	}

	c := &client{
		user:      user,
		db:        db,
		hub:       hub,
		transport: &flaky{Transport: hub},
		sessions: session.New(db.Identities(), pks, db.Sessions(), hub,
			retry.Policy{MaxAttempts: 1}, time.Hour, logs.GetLogger("session")),
		cursor: make(map[domain.ConversationID]uint64),
	}
	c.msgr = c.messenger(t)
	return c
}

// messenger builds a fresh Service over the client's stores.
func (c *client) messenger(t *testing.T) *Service {
	lanes := lane.New(0)
	t.Cleanup(lanes.Halt)
	logs := log.Discard()
	return New(Deps{
		Local:         c.user,
		Sessions:      c.sessions,
		Keyring:       keyring.New(c.db.ConversationKeys(), logs.GetLogger("keyring")),
		Transport:     c.transport,
		Conversations: c.db.Conversations(),
		Messages:      c.db.Messages(),
		Verifications: c.db.Verifications(),
		Cipher:        cipher.New(ratchet.New(0)),
		Presence:      presence.New(0),
		Lanes:         lanes,
		Retry:         retry.Policy{MaxAttempts: 1},
		Log:           logs.GetLogger("message"),
		SecurityLog:   logs.GetLogger("security"),
	})
}

// sync ingests everything the hub holds for conv past the client's cursor.
func (c *client) sync(t *testing.T, conv domain.ConversationID) {
	t.Helper()
	for {
		envs, _ := c.hub.Since(conv, c.cursor[conv])
		if len(envs) == 0 {
			return
		}
		for _, env := range envs {
			require.NoError(t, c.msgr.Ingest(context.Background(), testPass, env))
			c.cursor[conv] = env.Seq
		}
	}
}

func (c *client) timeline(t *testing.T, conv domain.ConversationID) []domain.Message {
	t.Helper()
	msgs, err := c.msgr.Timeline(conv)
	require.NoError(t, err)
	return msgs
}

func newHub() *relay.Hub { return relay.NewHub(log.Discard().GetLogger("relay")) }

func newPair(t *testing.T) (*client, *client, domain.ConversationID) {
	t.Helper()
	hub := newHub()
	alice := newClient(t, "alice", hub, true)
	bob := newClient(t, "bob", hub, true)
	conv, err := alice.msgr.OpenDirect("bob")
	require.NoError(t, err)
	_, err = bob.msgr.OpenDirect("alice")
	require.NoError(t, err)
	return alice, bob, conv
}

func TestDirectConversationLifecycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob, conv := newPair(t)

	id, err := alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "hi"}, nil)
	require.NoError(err)
	mine := alice.timeline(t, conv)
	require.Len(mine, 1)
	require.Equal(id, mine[0].ID)
	require.Equal(domain.StatusSent, mine[0].Status)

	bob.sync(t, conv)
	got := bob.timeline(t, conv)
	require.Len(got, 1)
	require.Equal(id, got[0].ID)
	require.Equal(domain.UserID("alice"), got[0].SenderID)
	require.Equal(domain.Text{Body: "hi"}, got[0].Payload)
	require.Equal(domain.StatusDelivered, got[0].Status)

	alice.sync(t, conv)
	mine = alice.timeline(t, conv)
	require.Len(mine, 1)
	require.Equal(domain.StatusDelivered, mine[0].Status)

	n, err := bob.msgr.MarkRead(ctx, conv)
	require.NoError(err)
	require.Equal(1, n)
	alice.sync(t, conv)
	require.Equal(domain.StatusRead, alice.timeline(t, conv)[0].Status)

	_, err = bob.msgr.Send(ctx, testPass, conv, domain.Text{Body: "hello"}, []domain.UserID{"alice"})
	require.NoError(err)
	alice.sync(t, conv)
	mine = alice.timeline(t, conv)
	require.Len(mine, 2)
	require.Equal(domain.Text{Body: "hello"}, mine[1].Payload)
	require.Equal([]domain.UserID{"alice"}, mine[1].Mentions)

	// The reply confirmed the session; no handshake rides along any more.
	active, ok, err := alice.sessions.ActiveSession("bob")
	require.NoError(err)
	require.True(ok)
	require.Nil(active.Handshake)
	require.Empty(active.InFlight)
}

func TestDuplicateEnvelopesAreIgnored(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob, conv := newPair(t)

	_, err := alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "once"}, nil)
	require.NoError(err)
	envs, _ := bob.hub.Since(conv, 0)
	require.Len(envs, 1)

	for i := 0; i < 3; i++ {
		require.NoError(bob.msgr.Ingest(ctx, testPass, envs[0]))
	}
	got := bob.timeline(t, conv)
	require.Len(got, 1)
	require.Equal(domain.Text{Body: "once"}, got[0].Payload)
}

func TestTamperedMessageBecomesUnavailable(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob, conv := newPair(t)

	first, err := alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "one"}, nil)
	require.NoError(err)
	second, err := alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "two"}, nil)
	require.NoError(err)

	envs, _ := bob.hub.Since(conv, 0)
	require.Len(envs, 2)
	bad := envs[0]
	bad.Ciphertext = append([]byte(nil), bad.Ciphertext...)
	bad.Ciphertext[0] ^= 0x01

	require.NoError(bob.msgr.Ingest(ctx, testPass, bad))
	require.NoError(bob.msgr.Ingest(ctx, testPass, envs[1]))

	got := bob.timeline(t, conv)
	require.Len(got, 2)
	byID := map[domain.MessageID]domain.Message{got[0].ID: got[0], got[1].ID: got[1]}
	require.IsType(domain.Unavailable{}, byID[first].Payload)
	require.Equal(domain.Text{Body: "two"}, byID[second].Payload)
}

func TestSendFailureAndResend(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob, conv := newPair(t)

	alice.transport.setFail(true)
	id, err := alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "later"}, nil)
	require.Error(err)
	require.NotEmpty(id)
	require.Equal(domain.StatusFailed, alice.timeline(t, conv)[0].Status)

	alice.transport.setFail(false)
	require.NoError(alice.msgr.Resend(ctx, testPass, conv, id))
	mine := alice.timeline(t, conv)
	require.Len(mine, 1)
	require.Equal(id, mine[0].ID)
	require.Equal(domain.StatusSent, mine[0].Status)
	require.ErrorIs(alice.msgr.Resend(ctx, testPass, conv, id), ErrNotFailed)

	bob.sync(t, conv)
	got := bob.timeline(t, conv)
	require.Len(got, 1)
	require.Equal(domain.Text{Body: "later"}, got[0].Payload)
}

func TestSendCancelledWhileDelivering(t *testing.T) {
	require := require.New(t)
	alice, bob, conv := newPair(t)

	alice.transport.setStall(true)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	id, err := alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "stuck"}, nil)
	require.ErrorIs(err, context.DeadlineExceeded)
	require.NotEmpty(id)

	mine := alice.timeline(t, conv)
	require.Len(mine, 1)
	require.Equal(domain.StatusFailed, mine[0].Status)

	alice.transport.setStall(false)
	require.NoError(alice.msgr.Resend(context.Background(), testPass, conv, id))
	require.Equal(domain.StatusSent, alice.timeline(t, conv)[0].Status)

	bob.sync(t, conv)
	got := bob.timeline(t, conv)
	require.Len(got, 1)
	require.Equal(domain.Text{Body: "stuck"}, got[0].Payload)
}

func TestConcurrentSendsUseDistinctChainIndices(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob, conv := newPair(t)

	_, err := alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "first"}, nil)
	require.NoError(err)

	const n = 20
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: fmt.Sprintf("m%d", i)}, nil)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(err)
	}

	envs, _ := bob.hub.Since(conv, 0)
	require.Len(envs, n+1)
	seen := make(map[uint64]bool)
	for _, env := range envs {
		require.NotNil(env.Metadata)
		require.False(seen[env.Metadata.MessageNumber], "index %d reused", env.Metadata.MessageNumber)
		seen[env.Metadata.MessageNumber] = true
	}

	bob.sync(t, conv)
	got := bob.timeline(t, conv)
	require.Len(got, n+1)
	for _, m := range got {
		require.IsType(domain.Text{}, m.Payload, "message %s", m.ID)
	}
}

func TestSendWithoutPeerBundleFails(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	hub := newHub()
	alice := newClient(t, "alice", hub, true)
	newClient(t, "carol", hub, false)

	conv, err := alice.msgr.OpenDirect("carol")
	require.NoError(err)
	_, err = alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "secret"}, nil)
	require.ErrorIs(err, domain.ErrNoBundle)
	require.Equal(domain.StatusFailed, alice.timeline(t, conv)[0].Status)

	envs, _ := hub.Since(conv, 0)
	require.Empty(envs, "nothing may leave unencrypted")
}

func TestReservedPayloadsRejected(t *testing.T) {
	require := require.New(t)
	alice, _, conv := newPair(t)

	_, err := alice.msgr.Send(context.Background(), testPass, conv, domain.Unavailable{Reason: "x"}, nil)
	require.ErrorIs(err, ErrReservedPayload)
	_, err = alice.msgr.Send(context.Background(), testPass, conv, domain.KeyShare{}, nil)
	require.ErrorIs(err, ErrReservedPayload)
	_, err = alice.msgr.Send(context.Background(), testPass, "dm:nobody:else", domain.Text{Body: "x"}, nil)
	require.ErrorIs(err, ErrUnknownConversation)
}

func openGroup(t *testing.T, clients ...*client) domain.ConversationID {
	t.Helper()
	g := domain.Conversation{
		ID:   "group:team",
		Type: domain.ConversationGroupChat,
	}
	for _, c := range clients {
		g.Participants = append(g.Participants, c.user)
	}
	for _, c := range clients {
		require.NoError(t, c.msgr.OpenConversation(g))
	}
	return g.ID
}

func TestGroupKeyRotationKeepsOldMessagesReadable(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob, dm := newPair(t)
	group := openGroup(t, alice, bob)

	v1, err := alice.msgr.RotateGroupKey(ctx, testPass, group)
	require.NoError(err)
	require.Equal(1, v1.Version)
	_, err = alice.msgr.Send(ctx, testPass, group, domain.Text{Body: "under v1"}, nil)
	require.NoError(err)

	v2, err := alice.msgr.RotateGroupKey(ctx, testPass, group)
	require.NoError(err)
	require.Equal(2, v2.Version)
	_, err = alice.msgr.Send(ctx, testPass, group, domain.Text{Body: "under v2"}, nil)
	require.NoError(err)

	envs, _ := alice.hub.Since(group, 0)
	require.Len(envs, 2)
	require.Equal(1, envs[0].Metadata.Version)
	require.Equal(2, envs[1].Metadata.Version)

	bob.sync(t, dm)
	bob.sync(t, group)
	got := bob.timeline(t, group)
	require.Len(got, 2)
	require.Equal(domain.Text{Body: "under v1"}, got[0].Payload)
	require.Equal(domain.Text{Body: "under v2"}, got[1].Payload)

	// Key shares are control traffic and never reach the timeline.
	require.Empty(bob.timeline(t, dm))
}

func TestGroupMessageWaitsForKeyShare(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob, dm := newPair(t)
	group := openGroup(t, alice, bob)

	_, err := alice.msgr.RotateGroupKey(ctx, testPass, group)
	require.NoError(err)
	id, err := alice.msgr.Send(ctx, testPass, group, domain.Text{Body: "early"}, nil)
	require.NoError(err)

	bob.sync(t, group)
	got := bob.timeline(t, group)
	require.Len(got, 1)
	require.Equal(domain.Unavailable{Reason: "unknown_key_version"}, got[0].Payload)

	bob.sync(t, dm)
	got = bob.timeline(t, group)
	require.Len(got, 1)
	require.Equal(id, got[0].ID)
	require.Equal(domain.Text{Body: "early"}, got[0].Payload)

	status, err := bob.msgr.SecurityStatus(group)
	require.NoError(err)
	require.Equal(domain.ProtectionEndToEnd, status.Level)
}

func TestSecurityStatusAndVerification(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob, conv := newPair(t)

	status, err := alice.msgr.SecurityStatus(conv)
	require.NoError(err)
	require.False(status.IsEncrypted)
	require.Equal(0, status.Score)

	_, err = alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "hi"}, nil)
	require.NoError(err)
	status, err = alice.msgr.SecurityStatus(conv)
	require.NoError(err)
	require.True(status.IsEncrypted)
	require.Equal(1, status.ParticipantCount)
	require.Equal(80, status.Score)
	require.Equal("Good", status.Description)

	fp, err := identity.New(bob.db.Identities(), log.Discard().GetLogger("identity")).FingerprintIdentity(testPass)
	require.NoError(err)
	require.ErrorIs(alice.msgr.VerifyPeer("bob", "not-it"), ErrFingerprintMismatch)
	require.NoError(alice.msgr.VerifyPeer("bob", fp))

	status, err = alice.msgr.SecurityStatus(conv)
	require.NoError(err)
	require.Equal(1, status.VerifiedParticipants)
	require.Equal(100, status.Score)
	require.Equal("Excellent", status.Description)
}

func TestTypingAndLocation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob, conv := newPair(t)

	require.NoError(bob.msgr.SetTyping(ctx, conv, true))
	alice.sync(t, conv)
	require.Equal([]domain.UserID{"bob"}, alice.msgr.TypingUsers(conv))

	require.NoError(bob.msgr.SetTyping(ctx, conv, false))
	alice.sync(t, conv)
	require.Empty(alice.msgr.TypingUsers(conv))

	_, err := bob.msgr.ShareLocation(ctx, testPass, conv, domain.Location{Latitude: 1.5, Longitude: 2.5}, time.Hour)
	require.NoError(err)
	alice.sync(t, conv)
	shares := alice.msgr.Locations(conv)
	require.Len(shares, 1)
	require.Equal(domain.UserID("bob"), shares[0].User)
	require.Equal(1.5, shares[0].Location.Latitude)
}

func TestTimelineSurvivesRestart(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	alice, bob, conv := newPair(t)

	_, err := alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "persist me"}, nil)
	require.NoError(err)
	bob.sync(t, conv)
	before := bob.timeline(t, conv)

	restarted := bob.messenger(t)
	require.NoError(restarted.Restore())
	after, err := restarted.Timeline(conv)
	require.NoError(err)
	require.Len(after, 1)
	require.Equal(before[0].ID, after[0].ID)
	require.Equal(before[0].Payload, after[0].Payload)
	require.Equal(before[0].Status, after[0].Status)

	// The relay replays from the start; nothing is decrypted twice.
	envs, _ := bob.hub.Since(conv, 0)
	for _, env := range envs {
		require.NoError(restarted.Ingest(ctx, testPass, env))
	}
	after, err = restarted.Timeline(conv)
	require.NoError(err)
	require.Len(after, 1)
	require.Equal(domain.Text{Body: "persist me"}, after[0].Payload)
}

func TestRunFollowsOpenedConversations(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	alice, bob, conv := newPair(t)

	done := make(chan error, 1)
	go func() { done <- bob.msgr.Run(ctx, testPass) }()

	id, err := alice.msgr.Send(ctx, testPass, conv, domain.Text{Body: "live"}, nil)
	require.NoError(err)
	require.Eventually(func() bool {
		msgs, err := bob.msgr.Timeline(conv)
		return err == nil && len(msgs) == 1 && msgs[0].ID == id
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
