package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulse/internal/domain"
	"pulse/internal/instrument"
	"pulse/internal/lane"
	"pulse/internal/presence"
	"pulse/internal/services/keyring"
	"pulse/internal/services/session"
	"pulse/internal/wire"
)

// Send shows payload in conv at once with status sending, then encrypts and
// delivers it. The returned id is valid even when delivery fails, in which
// case the message is left failed for Resend.
func (s *Service) Send(
	ctx context.Context,
	passphrase string,
	conv domain.ConversationID,
	payload domain.Payload,
	mentions []domain.UserID,
) (domain.MessageID, error) {
	c, err := s.conversation(conv)
	if err != nil {
		return "", err
	}
	if payload == nil {
		return "", fmt.Errorf("%w: empty payload", ErrReservedPayload)
	}
	switch payload.Kind() {
	case domain.KindKeyShare, domain.KindUnavailable:
		return "", fmt.Errorf("%w: %s", ErrReservedPayload, payload.Kind())
	}

	msg := domain.Message{
		ID:             newMessageID(),
		ConversationID: conv,
		SenderID:       s.local,
		Payload:        payload,
		Mentions:       mentions,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.lanes.Do(ctx, conv, func() error {
		if _, err := c.rec.ApplyLocalEcho(msg); err != nil {
			return err
		}
		return s.persist(c)
	}); err != nil {
		return "", err
	}
	return msg.ID, s.deliver(ctx, passphrase, c, msg.ID)
}

// Resend retries a failed message under its original id.
func (s *Service) Resend(
	ctx context.Context,
	passphrase string,
	conv domain.ConversationID,
	id domain.MessageID,
) error {
	c, err := s.conversation(conv)
	if err != nil {
		return err
	}
	if err := s.lanes.Do(ctx, conv, func() error {
		msg, ok := c.rec.Get(id)
		if !ok || msg.SenderID != s.local || msg.Status != domain.StatusFailed {
			return fmt.Errorf("%w: %s", ErrNotFailed, id)
		}
		if _, err := c.rec.ApplyLocalEcho(msg); err != nil {
			return err
		}
		return s.persist(c)
	}); err != nil {
		return err
	}
	return s.deliver(ctx, passphrase, c, id)
}

// deliveryError carries a failed seal or send out of the lane, after the
// message was already marked failed there.
type deliveryError struct{ err error }

func (e *deliveryError) Error() string { return e.err.Error() }
func (e *deliveryError) Unwrap() error { return e.err }

// deliver seals the message with id and hands it to the transport, moving
// it to sent or failed. Only the lane of c touches the timeline.
func (s *Service) deliver(ctx context.Context, passphrase string, c *conversation, id domain.MessageID) error {
	err := s.lanes.Do(ctx, c.meta.ID, func() error {
		msg, ok := c.rec.Get(id)
		if !ok {
			return fmt.Errorf("message %s vanished from %s", id, c.meta.ID)
		}
		env, err := s.seal(ctx, passphrase, c, msg)
		if err == nil {
			err = s.send(ctx, c.meta.ID, env)
		}
		if err != nil {
			c.rec.MarkFailed(id)
			if perr := s.persist(c); perr != nil {
				return perr
			}
			return &deliveryError{err: err}
		}
		c.rec.ApplyReceipts([]domain.Receipt{{MessageID: id, Status: domain.StatusSent, From: s.local, At: s.now().UTC()}})
		return s.persist(c)
	})
	if err == nil {
		instrument.MessageSent("ok")
		return nil
	}

	var derr *deliveryError
	switch {
	case errors.As(err, &derr):
		err = derr.err
	case !errors.Is(err, lane.ErrHalted):
		// The delivery op may still be queued or running.
		s.failIfSending(context.WithoutCancel(ctx), c, id)
	}
	instrument.MessageSent("failed")
	s.log.Warningf("Send of %s in %s failed: %v", id, c.meta.ID, err)
	return err
}

// failIfSending queues an op behind any pending delivery of id that marks it
// failed unless that delivery settled it.
func (s *Service) failIfSending(ctx context.Context, c *conversation, id domain.MessageID) {
	err := s.lanes.Do(ctx, c.meta.ID, func() error {
		if st, ok := c.rec.Status(id); !ok || st != domain.StatusSending {
			return nil
		}
		c.rec.MarkFailed(id)
		return s.persist(c)
	})
	if err != nil && !errors.Is(err, lane.ErrHalted) {
		s.log.Errorf("Marking %s failed in %s: %v", id, c.meta.ID, err)
	}
}

// send posts env with the retry policy.
func (s *Service) send(ctx context.Context, conv domain.ConversationID, env domain.Envelope) error {
	return s.retry.Do(ctx, func(ctx context.Context) error {
		return s.transport.Send(ctx, conv, env)
	})
}

// seal encrypts msg for c: with the active group key, or with the pairwise
// session of the direct peer.
func (s *Service) seal(ctx context.Context, passphrase string, c *conversation, msg domain.Message) (domain.Envelope, error) {
	plain, err := wire.EncodePayload(msg.Payload, msg.Mentions)
	if err != nil {
		return domain.Envelope{}, err
	}
	env := domain.Envelope{
		Kind:           domain.EnvelopeMessage,
		ConversationID: c.meta.ID,
		MessageID:      msg.ID,
		SenderID:       s.local,
	}
	ad := wire.AssociatedData(c.meta.ID, msg.ID, s.local)

	if c.meta.Type.IsGroup() {
		key, n, err := s.keyring.NextSendNumber(c.meta.ID)
		if err != nil {
			return domain.Envelope{}, err
		}
		ct, meta, err := s.cipher.EncryptGroup(key, n, plain, ad)
		if err != nil {
			return domain.Envelope{}, err
		}
		env.Metadata = &meta
		env.Ciphertext = ct
		return env, nil
	}

	peer, _ := c.meta.Peer(s.local)
	return s.sealPairwise(ctx, passphrase, peer, env, plain, ad)
}

// sealPairwise encrypts plain on the sending session with peer, starting
// one when none is active. The advanced session is saved before returning.
// Callers hold the lane of the direct conversation with peer.
func (s *Service) sealPairwise(
	ctx context.Context,
	passphrase string,
	peer domain.UserID,
	env domain.Envelope,
	plain, ad []byte,
) (domain.Envelope, error) {
	st, err := s.sendingSession(ctx, passphrase, peer)
	if err != nil {
		return domain.Envelope{}, err
	}
	ct, meta, err := s.cipher.EncryptPairwise(&st, plain, ad)
	if err != nil {
		return domain.Envelope{}, err
	}
	session.TrackInFlight(&st, env.MessageID)
	if err := s.sessions.SaveSession(st); err != nil {
		return domain.Envelope{}, err
	}
	s.mu.Lock()
	s.inflight[env.MessageID] = st.SessionID
	s.mu.Unlock()

	env.RecipientID = peer
	env.Metadata = &meta
	env.Ciphertext = ct
	env.Handshake = st.Handshake
	return env, nil
}

func (s *Service) sendingSession(ctx context.Context, passphrase string, peer domain.UserID) (domain.SessionState, error) {
	s.mu.Lock()
	stale := s.rehandshake[peer]
	delete(s.rehandshake, peer)
	s.mu.Unlock()

	if !stale {
		st, ok, err := s.sessions.ActiveSession(peer)
		if err != nil {
			return domain.SessionState{}, err
		}
		if ok {
			return st, nil
		}
	}
	return s.sessions.InitiateSession(ctx, passphrase, s.local, peer)
}

// StartSession runs a fresh handshake with peer, superseding any active
// session.
func (s *Service) StartSession(ctx context.Context, passphrase string, peer domain.UserID) (domain.SessionState, error) {
	conv, err := s.OpenDirect(peer)
	if err != nil {
		return domain.SessionState{}, err
	}
	var st domain.SessionState
	err = s.lanes.Do(ctx, conv, func() error {
		var err error
		st, err = s.sessions.InitiateSession(ctx, passphrase, s.local, peer)
		return err
	})
	return st, err
}

// RotateGroupKey installs a new key version for the group conv (version 1
// when it has none) and shares it with every other member over their
// direct sessions. The key is returned even if some shares failed.
func (s *Service) RotateGroupKey(
	ctx context.Context,
	passphrase string,
	conv domain.ConversationID,
) (domain.ConversationKey, error) {
	c, err := s.conversation(conv)
	if err != nil {
		return domain.ConversationKey{}, err
	}
	if !c.meta.Type.IsGroup() {
		return domain.ConversationKey{}, fmt.Errorf("%s is not a group conversation", conv)
	}

	var key domain.ConversationKey
	if err := s.lanes.Do(ctx, conv, func() error {
		var err error
		if _, aerr := s.keyring.Active(conv); errors.Is(aerr, keyring.ErrNoConversationKey) {
			key, err = s.keyring.Create(conv, c.meta.Type)
		} else {
			key, err = s.keyring.Rotate(conv)
		}
		return err
	}); err != nil {
		return domain.ConversationKey{}, err
	}

	var errs []error
	for _, member := range s.members(c) {
		if err := s.shareKey(ctx, passphrase, member, key); err != nil {
			errs = append(errs, fmt.Errorf("share with %s: %w", member, err))
		}
	}
	return key, errors.Join(errs...)
}

// shareKey sends key to member as a control message on their direct
// conversation.
func (s *Service) shareKey(ctx context.Context, passphrase string, member domain.UserID, key domain.ConversationKey) error {
	dm, err := s.OpenDirect(member)
	if err != nil {
		return err
	}
	plain, err := wire.EncodePayload(domain.KeyShare{Key: key}, nil)
	if err != nil {
		return err
	}
	return s.lanes.Do(ctx, dm, func() error {
		env := domain.Envelope{
			Kind:           domain.EnvelopeMessage,
			ConversationID: dm,
			MessageID:      newMessageID(),
			SenderID:       s.local,
		}
		env, err := s.sealPairwise(ctx, passphrase, member, env, plain, wire.AssociatedData(dm, env.MessageID, s.local))
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.consumed[env.MessageID] = struct{}{}
		s.mu.Unlock()
		return s.send(ctx, dm, env)
	})
}

// MarkRead marks every delivered message from others in conv as read and
// tells the senders. It returns how many messages changed.
func (s *Service) MarkRead(ctx context.Context, conv domain.ConversationID) (int, error) {
	c, err := s.conversation(conv)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.lanes.Do(ctx, conv, func() error {
		now := s.now().UTC()
		var receipts []domain.Receipt
		for _, m := range c.rec.Messages() {
			if m.SenderID == s.local || m.Status != domain.StatusDelivered {
				continue
			}
			if _, ok := m.Payload.(domain.Unavailable); ok {
				continue
			}
			receipts = append(receipts, domain.Receipt{MessageID: m.ID, Status: domain.StatusRead, From: s.local, At: now})
		}
		if len(receipts) == 0 {
			return nil
		}
		c.rec.ApplyReceipts(receipts)
		n = len(receipts)
		if err := s.persist(c); err != nil {
			return err
		}
		return s.sendReceipts(ctx, conv, receipts)
	})
	return n, err
}

func (s *Service) sendReceipts(ctx context.Context, conv domain.ConversationID, receipts []domain.Receipt) error {
	return s.send(ctx, conv, domain.Envelope{
		Kind:           domain.EnvelopeReceipt,
		ConversationID: conv,
		SenderID:       s.local,
		Receipts:       receipts,
	})
}

// SetTyping announces that the local user started or stopped typing.
func (s *Service) SetTyping(ctx context.Context, conv domain.ConversationID, typing bool) error {
	if _, err := s.conversation(conv); err != nil {
		return err
	}
	return s.transport.Send(ctx, conv, domain.Envelope{
		Kind:           domain.EnvelopeTyping,
		ConversationID: conv,
		SenderID:       s.local,
		Typing:         typing,
	})
}

// TypingUsers lists the other members currently typing in conv.
func (s *Service) TypingUsers(conv domain.ConversationID) []domain.UserID {
	var out []domain.UserID
	for _, u := range s.presence.Typing(conv) {
		if u != s.local {
			out = append(out, u)
		}
	}
	return out
}

// ShareLocation sends loc as a live location valid for d.
func (s *Service) ShareLocation(
	ctx context.Context,
	passphrase string,
	conv domain.ConversationID,
	loc domain.Location,
	d time.Duration,
) (domain.MessageID, error) {
	if d <= 0 {
		return "", fmt.Errorf("live location needs a positive duration, got %v", d)
	}
	until := s.now().UTC().Add(d)
	loc.LiveUntil = &until
	s.presence.ObserveLocation(conv, s.local, loc)
	return s.Send(ctx, passphrase, conv, loc, nil)
}

// Locations returns the live location shares in conv.
func (s *Service) Locations(conv domain.ConversationID) []presence.LocationShare {
	return s.presence.Locations(conv)
}
