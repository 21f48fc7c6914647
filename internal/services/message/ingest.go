package message

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"pulse/internal/domain"
	"pulse/internal/instrument"
	"pulse/internal/protocol/ratchet"
	"pulse/internal/wire"
)

// PruneInterval is how often Run drops superseded sessions.
const PruneInterval = time.Minute

// Run subscribes to every open conversation, including ones opened while it
// runs, and ingests what arrives until ctx is done.
func (s *Service) Run(ctx context.Context, passphrase string) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	prune := time.NewTicker(PruneInterval)
	defer prune.Stop()

	subscribed := make(map[domain.ConversationID]bool)
	for {
		for _, id := range s.openIDs() {
			if subscribed[id] {
				continue
			}
			ch, err := s.transport.Subscribe(ctx, id)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", id, err)
			}
			subscribed[id] = true
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.pump(ctx, passphrase, ch)
			}()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.opened:
		case now := <-prune.C:
			if n, err := s.sessions.PruneSuperseded(now); err != nil {
				s.log.Warningf("Pruning sessions: %v", err)
			} else if n > 0 {
				s.log.Infof("Pruned %d superseded sessions", n)
			}
		}
	}
}

func (s *Service) pump(ctx context.Context, passphrase string, ch <-chan domain.Envelope) {
	for env := range ch {
		if err := s.Ingest(ctx, passphrase, env); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Errorf("Ingest %s #%d: %v", env.ConversationID, env.Seq, err)
		}
	}
}

// Ingest applies one inbound envelope. Envelopes may repeat and arrive out
// of order. Errors are only returned for local failures such as storage;
// undecryptable messages become unavailable placeholders instead.
func (s *Service) Ingest(ctx context.Context, passphrase string, env domain.Envelope) error {
	c, err := s.conversation(env.ConversationID)
	if err != nil {
		return err
	}
	var imported []domain.ConversationID
	err = s.lanes.Do(ctx, c.meta.ID, func() error {
		var err error
		imported, err = s.ingest(ctx, passphrase, c, env)
		return err
	})
	if err != nil {
		return err
	}
	for _, g := range imported {
		if err := s.retryPending(ctx, passphrase, g); err != nil {
			return err
		}
	}
	return nil
}

// ingest runs on the lane of c. It returns the group conversations whose
// keys were imported.
func (s *Service) ingest(
	ctx context.Context,
	passphrase string,
	c *conversation,
	env domain.Envelope,
) ([]domain.ConversationID, error) {
	if env.SenderID == s.local {
		if env.Kind == domain.EnvelopeMessage && c.rec.ApplyReceipts([]domain.Receipt{{
			MessageID: env.MessageID,
			Status:    domain.StatusSent,
			From:      s.local,
			At:        env.CreatedAt,
		}}) {
			return nil, s.persist(c)
		}
		return nil, nil
	}
	if !slices.Contains(s.members(c), env.SenderID) {
		s.secLog.Warningf("%s: dropping %s from non-member %s", c.meta.ID, env.Kind, env.SenderID)
		return nil, nil
	}

	switch env.Kind {
	case domain.EnvelopeReceipt:
		return nil, s.ingestReceipts(c, env)
	case domain.EnvelopeTyping:
		if s.now().Sub(env.CreatedAt) < s.presence.TypingTimeout() {
			s.presence.SetTyping(c.meta.ID, env.SenderID, env.Typing)
		}
		return nil, nil
	case domain.EnvelopeMessage:
		return s.ingestMessage(ctx, passphrase, c, env)
	default:
		s.log.Debugf("%s: ignoring envelope kind %q", c.meta.ID, env.Kind)
		return nil, nil
	}
}

func (s *Service) ingestReceipts(c *conversation, env domain.Envelope) error {
	var mine []domain.Receipt
	for _, rc := range env.Receipts {
		if rc.From != env.SenderID {
			continue
		}
		if rc.Status == domain.StatusDelivered || rc.Status == domain.StatusRead {
			s.acknowledge(rc.MessageID)
		}
		if m, ok := c.rec.Get(rc.MessageID); ok && m.SenderID == s.local {
			mine = append(mine, rc)
		}
	}
	if !c.rec.ApplyReceipts(mine) {
		return nil
	}
	return s.persist(c)
}

// acknowledge drops id from the in-flight set of the session it was sent on.
func (s *Service) acknowledge(id domain.MessageID) {
	s.mu.Lock()
	sid, ok := s.inflight[id]
	delete(s.inflight, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.sessions.Acknowledge(sid, id); err != nil {
		s.log.Warningf("Acknowledge %s on %s: %v", id, sid, err)
	}
}

func (s *Service) ingestMessage(
	ctx context.Context,
	passphrase string,
	c *conversation,
	env domain.Envelope,
) ([]domain.ConversationID, error) {
	group := c.meta.Type.IsGroup()
	if cur, ok := c.rec.Get(env.MessageID); ok {
		if cur.SenderID != env.SenderID {
			s.secLog.Warningf("%s: %s reused message id %s of %s", c.meta.ID, env.SenderID, env.MessageID, cur.SenderID)
			return nil, nil
		}
		// A group message the key was missing for can still be opened.
		if _, unavailable := cur.Payload.(domain.Unavailable); !unavailable || !group {
			return nil, nil
		}
	}
	s.mu.Lock()
	_, done := s.consumed[env.MessageID]
	s.mu.Unlock()
	if done {
		return nil, nil
	}

	if env.Metadata == nil || len(env.Ciphertext) == 0 {
		return nil, s.unavailable(c, env, fmt.Errorf("%w: envelope without ciphertext", domain.ErrDecryptionFailure))
	}
	ad := wire.AssociatedData(c.meta.ID, env.MessageID, env.SenderID)
	var plain []byte
	var err error
	if group {
		plain, err = s.cipher.DecryptGroup(s.keyring, c.meta.ID, env.Ciphertext, *env.Metadata, ad)
	} else {
		plain, err = s.openPairwise(ctx, passphrase, env, ad)
	}
	if err != nil {
		return nil, s.unavailable(c, env, err)
	}
	payload, mentions, err := wire.DecodePayload(plain)
	if err != nil {
		return nil, s.unavailable(c, env, fmt.Errorf("%w: %w", domain.ErrDecryptionFailure, err))
	}
	instrument.MessageReceived()

	var imported []domain.ConversationID
	if ks, ok := payload.(domain.KeyShare); ok {
		s.mu.Lock()
		s.consumed[env.MessageID] = struct{}{}
		s.mu.Unlock()
		imported = s.importKey(env.SenderID, ks.Key)
	} else {
		if loc, ok := payload.(domain.Location); ok {
			s.presence.ObserveLocation(c.meta.ID, env.SenderID, loc)
		}
		c.rec.ApplyAuthoritative([]domain.Message{{
			ID:             env.MessageID,
			ConversationID: c.meta.ID,
			SenderID:       env.SenderID,
			Payload:        payload,
			Mentions:       mentions,
			Status:         domain.StatusDelivered,
			CreatedAt:      env.CreatedAt,
		}})
		if err := s.persist(c); err != nil {
			return nil, err
		}
	}

	receipt := domain.Receipt{MessageID: env.MessageID, Status: domain.StatusDelivered, From: s.local, At: s.now().UTC()}
	if err := s.sendReceipts(ctx, c.meta.ID, []domain.Receipt{receipt}); err != nil {
		s.log.Warningf("%s: delivery receipt for %s: %v", c.meta.ID, env.MessageID, err)
	}
	return imported, nil
}

// openPairwise decrypts env on the session it names, accepting the attached
// handshake first when the session is new.
func (s *Service) openPairwise(
	ctx context.Context,
	passphrase string,
	env domain.Envelope,
	ad []byte,
) ([]byte, error) {
	meta := *env.Metadata
	var st domain.SessionState
	if hs := env.Handshake; hs != nil && hs.SessionID == meta.SessionID {
		var err error
		if st, err = s.sessions.AcceptSession(ctx, passphrase, s.local, env.SenderID, *hs); err != nil {
			return nil, err
		}
	} else {
		var ok bool
		var err error
		if st, ok, err = s.sessions.SessionByID(meta.SessionID); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("%w: unknown session %s", domain.ErrDecryptionFailure, meta.SessionID)
		}
	}
	if st.PeerUser != env.SenderID {
		return nil, fmt.Errorf("%w: session %s belongs to %s", domain.ErrDecryptionFailure, st.SessionID, st.PeerUser)
	}

	plain, err := s.cipher.DecryptPairwise(&st, env.Ciphertext, meta, ad)
	if err != nil {
		if errors.Is(err, domain.ErrRatchetOverflow) {
			s.mu.Lock()
			s.rehandshake[env.SenderID] = true
			s.mu.Unlock()
		}
		return nil, err
	}
	// The peer evidently holds the session now.
	st.Handshake = nil
	if err := s.sessions.SaveSession(st); err != nil {
		return nil, err
	}
	return plain, nil
}

// importKey stores a key shared by sender for a group both belong to.
func (s *Service) importKey(sender domain.UserID, key domain.ConversationKey) []domain.ConversationID {
	g, err := s.conversation(key.ConversationID)
	if err != nil || !g.meta.Type.IsGroup() || !slices.Contains(s.members(g), sender) {
		s.secLog.Warningf("Rejected key share for %s from %s", key.ConversationID, sender)
		return nil
	}
	if err := s.keyring.Import(key); err != nil {
		s.secLog.Warningf("Key share for %s v%d from %s: %v", key.ConversationID, key.Version, sender, err)
		return nil
	}
	return []domain.ConversationID{key.ConversationID}
}

// unavailable records a message that could not be opened. Replays of an
// already consumed key are dropped; everything else is shown as a
// placeholder. Group messages waiting for their key version are queued for
// another attempt.
func (s *Service) unavailable(c *conversation, env domain.Envelope, cause error) error {
	reason := failureReason(cause)
	instrument.DecryptFailure(reason)
	s.secLog.Warningf("%s: message %s from %s unavailable (%s): %v", c.meta.ID, env.MessageID, env.SenderID, reason, cause)

	if errors.Is(cause, ratchet.ErrReplay) {
		return nil
	}
	if c.meta.Type.IsGroup() && errors.Is(cause, domain.ErrUnknownKeyVersion) && len(c.pending) < maxPending {
		c.pending = append(c.pending, env)
	}
	if !c.rec.ApplyAuthoritative([]domain.Message{{
		ID:             env.MessageID,
		ConversationID: c.meta.ID,
		SenderID:       env.SenderID,
		Payload:        domain.Unavailable{Reason: reason},
		Status:         domain.StatusDelivered,
		CreatedAt:      env.CreatedAt,
	}}) {
		return nil
	}
	return s.persist(c)
}

// retryPending re-ingests group envelopes that waited for a key.
func (s *Service) retryPending(ctx context.Context, passphrase string, conv domain.ConversationID) error {
	c, err := s.conversation(conv)
	if err != nil {
		return err
	}
	return s.lanes.Do(ctx, conv, func() error {
		pending := c.pending
		c.pending = nil
		for _, env := range pending {
			if _, err := s.ingestMessage(ctx, passphrase, c, env); err != nil {
				return err
			}
		}
		return nil
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ratchet.ErrReplay):
		return "replay"
	case errors.Is(err, domain.ErrHandshakeFailure):
		return "handshake"
	case errors.Is(err, domain.ErrRatchetOverflow):
		return "overflow"
	case errors.Is(err, domain.ErrUnknownKeyVersion):
		return "unknown_key_version"
	default:
		return "decrypt"
	}
}
