package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"pulse/internal/domain"
	"pulse/internal/instrument"
	"pulse/internal/protocol/ratchet"
	"pulse/internal/protocol/x3dh"
	"pulse/internal/retry"
	"pulse/internal/util/memzero"
)

// DefaultSupersededGrace is how long a superseded session is kept when its
// replacement has not been confirmed by the peer.
const DefaultSupersededGrace = 24 * time.Hour

// maxInFlight bounds the unacknowledged message ids kept per session.
const maxInFlight = 512

// Service performs the X3DH handshake in both roles and owns the session
// lifecycle: activation, supersession and pruning.
type Service struct {
	ids      domain.IdentityStore
	prekeys  domain.PreKeyService
	sessions domain.SessionStore
	dir      domain.Directory
	retry    retry.Policy
	grace    time.Duration
	log      *logging.Logger
	now      func() time.Time
}

// New constructs a session service. dir may be nil for a client that only
// accepts sessions.
func New(
	ids domain.IdentityStore,
	prekeys domain.PreKeyService,
	sessions domain.SessionStore,
	dir domain.Directory,
	policy retry.Policy,
	grace time.Duration,
	log *logging.Logger,
) *Service {
	if grace <= 0 {
		grace = DefaultSupersededGrace
	}
	return &Service{
		ids:      ids,
		prekeys:  prekeys,
		sessions: sessions,
		dir:      dir,
		retry:    policy,
		grace:    grace,
		log:      log,
		now:      time.Now,
	}
}

// InitiateSession runs X3DH against a freshly fetched bundle of peer and
// stores the result as the active session, superseding any previous one.
// The returned session carries the handshake to attach to outgoing
// envelopes until the peer replies.
func (s *Service) InitiateSession(
	ctx context.Context,
	passphrase string,
	local domain.UserID,
	peer domain.UserID,
) (domain.SessionState, error) {
	st, err := s.initiate(ctx, passphrase, local, peer)
	if err != nil {
		instrument.Handshake("initiator", "failure")
		s.log.Warningf("Handshake with %s failed: %v", peer, err)
		return domain.SessionState{}, err
	}
	instrument.Handshake("initiator", "ok")
	s.log.Noticef("Started session %s with %s", st.SessionID, peer)
	return st, nil
}

func (s *Service) initiate(
	ctx context.Context,
	passphrase string,
	local domain.UserID,
	peer domain.UserID,
) (domain.SessionState, error) {
	if s.dir == nil {
		return domain.SessionState{}, errors.New("session: no directory configured")
	}
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("%w: load identity: %w", domain.ErrHandshakeFailure, err)
	}

	var bundle domain.PreKeyBundle
	if err := s.retry.Do(ctx, func(ctx context.Context) error {
		b, err := s.dir.FetchBundle(ctx, peer)
		if errors.Is(err, domain.ErrNoBundle) {
			return retry.Permanent(err)
		}
		bundle = b
		return err
	}); err != nil {
		return domain.SessionState{}, fmt.Errorf("fetch bundle for %s: %w", peer, err)
	}
	if bundle.UserID != peer {
		return domain.SessionState{}, fmt.Errorf("%w: bundle for %q returned for %q", domain.ErrHandshakeFailure, bundle.UserID, peer)
	}

	root, spkID, opkID, ephPub, err := x3dh.InitiatorRoot(id, bundle)
	if err != nil {
		return domain.SessionState{}, err
	}
	send, recv, err := ratchet.InitChains(root, true)
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("%w: %w", domain.ErrHandshakeFailure, err)
	}

	now := s.now().UTC()
	sid := domain.SessionID(uuid.New().String())
	st := domain.SessionState{
		SessionID:       sid,
		ConversationID:  domain.DirectConversationID(local, peer),
		LocalUser:       local,
		PeerUser:        peer,
		Initiator:       true,
		RootKey:         root,
		SendingChain:    send,
		ReceivingChain:  recv,
		PeerIdentityKey: bundle.IdentityKey,
		Handshake: &domain.PreKeyMessage{
			SessionID:            sid,
			InitiatorIdentityKey: id.XPub,
			EphemeralKey:         ephPub,
			SignedPreKeyID:       spkID,
			OneTimePreKeyID:      opkID,
		},
		CreatedAt: now,
		LastUsed:  now,
	}
	if err := s.sessions.ActivateSession(st, now); err != nil {
		return domain.SessionState{}, err
	}
	st.Active = true
	return st, nil
}

// AcceptSession completes the responder side of a handshake received from
// peer. Accepting the same handshake twice returns the stored session.
func (s *Service) AcceptSession(
	_ context.Context,
	passphrase string,
	local domain.UserID,
	peer domain.UserID,
	hs domain.PreKeyMessage,
) (domain.SessionState, error) {
	if existing, ok, err := s.sessions.LoadSessionByID(hs.SessionID); err != nil {
		return domain.SessionState{}, err
	} else if ok {
		return existing, nil
	}

	st, err := s.accept(passphrase, local, peer, hs)
	if err != nil {
		instrument.Handshake("responder", "failure")
		s.log.Warningf("Rejected handshake %s from %s: %v", hs.SessionID, peer, err)
		return domain.SessionState{}, err
	}
	instrument.Handshake("responder", "ok")
	s.log.Noticef("Accepted session %s from %s", st.SessionID, peer)
	return st, nil
}

func (s *Service) accept(
	passphrase string,
	local domain.UserID,
	peer domain.UserID,
	hs domain.PreKeyMessage,
) (domain.SessionState, error) {
	if hs.SessionID == "" {
		return domain.SessionState{}, fmt.Errorf("%w: handshake without session id", domain.ErrHandshakeFailure)
	}
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("%w: load identity: %w", domain.ErrHandshakeFailure, err)
	}
	spk, ok, err := s.prekeys.LoadSignedPreKey(hs.SignedPreKeyID)
	if err != nil {
		return domain.SessionState{}, err
	}
	if !ok {
		return domain.SessionState{}, fmt.Errorf("%w: unknown signed pre-key %d", domain.ErrHandshakeFailure, hs.SignedPreKeyID)
	}

	var opkPriv *domain.X25519Private
	if hs.OneTimePreKeyID != nil {
		opk, ok, err := s.prekeys.ConsumePreKey(*hs.OneTimePreKeyID)
		if err != nil {
			return domain.SessionState{}, err
		}
		if !ok {
			return domain.SessionState{}, fmt.Errorf("%w: unknown one-time pre-key %d", domain.ErrHandshakeFailure, *hs.OneTimePreKeyID)
		}
		opkPriv = &opk.Priv
		defer memzero.Zero(opk.Priv[:])
	}

	root, err := x3dh.ResponderRoot(id, spk.Priv, opkPriv, hs)
	if err != nil {
		return domain.SessionState{}, err
	}
	send, recv, err := ratchet.InitChains(root, false)
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("%w: %w", domain.ErrHandshakeFailure, err)
	}

	now := s.now().UTC()
	st := domain.SessionState{
		SessionID:       hs.SessionID,
		ConversationID:  domain.DirectConversationID(local, peer),
		LocalUser:       local,
		PeerUser:        peer,
		RootKey:         root,
		SendingChain:    send,
		ReceivingChain:  recv,
		PeerIdentityKey: hs.InitiatorIdentityKey,
		CreatedAt:       now,
		LastUsed:        now,
	}

	// Both sides initiated at once: each keeps the session with the smaller
	// id active so they converge on the same one.
	cur, ok, err := s.sessions.LoadSession(peer)
	if err != nil {
		return domain.SessionState{}, err
	}
	if ok && cur.Handshake != nil && cur.SessionID < st.SessionID {
		st.SupersededAt = now
		if err := s.sessions.SaveSession(st); err != nil {
			return domain.SessionState{}, err
		}
		return st, nil
	}
	if err := s.sessions.ActivateSession(st, now); err != nil {
		return domain.SessionState{}, err
	}
	st.Active = true
	return st, nil
}

// ActiveSession returns the session used to send to peer.
func (s *Service) ActiveSession(peer domain.UserID) (domain.SessionState, bool, error) {
	return s.sessions.LoadSession(peer)
}

// SessionByID returns any retained session, active or superseded.
func (s *Service) SessionByID(id domain.SessionID) (domain.SessionState, bool, error) {
	return s.sessions.LoadSessionByID(id)
}

// SaveSession persists ratchet progress of st.
func (s *Service) SaveSession(st domain.SessionState) error {
	return s.sessions.SaveSession(st)
}

// Acknowledge drops msg from the in-flight set of session id.
func (s *Service) Acknowledge(id domain.SessionID, msg domain.MessageID) error {
	st, ok, err := s.sessions.LoadSessionByID(id)
	if err != nil || !ok {
		return err
	}
	for i, m := range st.InFlight {
		if m == msg {
			st.InFlight = append(st.InFlight[:i], st.InFlight[i+1:]...)
			return s.sessions.SaveSession(st)
		}
	}
	return nil
}

// PruneSuperseded deletes superseded sessions that are no longer needed:
// those past the grace window, and those whose messages were all
// acknowledged once the peer has confirmed the replacement session.
func (s *Service) PruneSuperseded(now time.Time) (int, error) {
	all, err := s.sessions.ListSessions("")
	if err != nil {
		return 0, err
	}
	confirmed := make(map[domain.UserID]bool)
	for _, st := range all {
		if st.Active {
			confirmed[st.PeerUser] = st.Handshake == nil
		}
	}
	n := 0
	for _, st := range all {
		if st.Active || st.SupersededAt.IsZero() {
			continue
		}
		expired := now.Sub(st.SupersededAt) >= s.grace
		settled := len(st.InFlight) == 0 && confirmed[st.PeerUser]
		if !expired && !settled {
			continue
		}
		if err := s.sessions.DeleteSession(st.SessionID); err != nil {
			return n, err
		}
		s.log.Debugf("Pruned superseded session %s with %s", st.SessionID, st.PeerUser)
		n++
	}
	return n, nil
}

// TrackInFlight records msg as sent on st and not yet acknowledged.
func TrackInFlight(st *domain.SessionState, msg domain.MessageID) {
	st.InFlight = append(st.InFlight, msg)
	if over := len(st.InFlight) - maxInFlight; over > 0 {
		st.InFlight = append([]domain.MessageID(nil), st.InFlight[over:]...)
	}
}

// Compile-time assertion that Service implements domain.SessionService.
var _ domain.SessionService = (*Service)(nil)
