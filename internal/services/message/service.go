package message

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"pulse/internal/domain"
	"pulse/internal/lane"
	"pulse/internal/presence"
	"pulse/internal/protocol/cipher"
	"pulse/internal/reconcile"
	"pulse/internal/retry"
)

// maxPending bounds the group envelopes kept per conversation while they
// wait for the key version they pin.
const maxPending = 256

var (
	// ErrUnknownConversation is returned for conversations that were never
	// opened on this client.
	ErrUnknownConversation = errors.New("conversation not opened")
	// ErrInvalidConversation is returned by OpenConversation for malformed
	// membership.
	ErrInvalidConversation = errors.New("invalid conversation")
	// ErrReservedPayload is returned when a caller tries to send a payload
	// kind only the messenger itself produces.
	ErrReservedPayload = errors.New("payload kind cannot be sent directly")
	// ErrNotFailed is returned by Resend for a message that has not failed.
	ErrNotFailed = errors.New("message has not failed")
	// ErrNoSession is returned when a peer has no active session yet.
	ErrNoSession = errors.New("no session with peer")
	// ErrFingerprintMismatch is returned by VerifyPeer when the compared
	// fingerprint is not the peer's current one.
	ErrFingerprintMismatch = errors.New("fingerprint does not match peer identity")
)

// Deps are the collaborators of a Service.
type Deps struct {
	// Local is the user this client acts for.
	Local domain.UserID

	Sessions      domain.SessionService
	Keyring       domain.ConversationKeyring
	Transport     domain.Transport
	Conversations domain.ConversationStore
	Messages      domain.MessageStore
	Verifications domain.VerificationStore

	Cipher   *cipher.Cipher
	Presence *presence.Tracker
	Lanes    *lane.Lanes
	Retry    retry.Policy

	Log *logging.Logger
	// SecurityLog receives decryption failures and other security events.
	SecurityLog *logging.Logger
}

type conversation struct {
	meta domain.Conversation
	rec  *reconcile.Reconciler
	// pending holds group envelopes pinned to a key version not held yet.
	pending []domain.Envelope
}

// Service is the messenger of one local user.
type Service struct {
	local         domain.UserID
	sessions      domain.SessionService
	keyring       domain.ConversationKeyring
	transport     domain.Transport
	conversations domain.ConversationStore
	messages      domain.MessageStore
	verifications domain.VerificationStore
	cipher        *cipher.Cipher
	presence      *presence.Tracker
	lanes         *lane.Lanes
	retry         retry.Policy
	log           *logging.Logger
	secLog        *logging.Logger
	now           func() time.Time

	mu    sync.Mutex
	convs map[domain.ConversationID]*conversation
	// inflight maps an unacknowledged pairwise message to its session.
	inflight map[domain.MessageID]domain.SessionID
	// consumed holds ids of control messages already applied.
	consumed map[domain.MessageID]struct{}
	// rehandshake marks peers whose session overflowed.
	rehandshake map[domain.UserID]bool
	opened      chan struct{}
}

// New returns a messenger for d.Local.
func New(d Deps) *Service {
	secLog := d.SecurityLog
	if secLog == nil {
		secLog = d.Log
	}
	return &Service{
		local:         d.Local,
		sessions:      d.Sessions,
		keyring:       d.Keyring,
		transport:     d.Transport,
		conversations: d.Conversations,
		messages:      d.Messages,
		verifications: d.Verifications,
		cipher:        d.Cipher,
		presence:      d.Presence,
		lanes:         d.Lanes,
		retry:         d.Retry,
		log:           d.Log,
		secLog:        secLog,
		now:           time.Now,
		convs:         make(map[domain.ConversationID]*conversation),
		inflight:      make(map[domain.MessageID]domain.SessionID),
		consumed:      make(map[domain.MessageID]struct{}),
		rehandshake:   make(map[domain.UserID]bool),
		opened:        make(chan struct{}, 1),
	}
}

// Local returns the user this messenger acts for.
func (s *Service) Local() domain.UserID { return s.local }

// OpenConversation registers c, persisting it and restoring its stored
// timeline. Opening a conversation again updates its membership.
func (s *Service) OpenConversation(c domain.Conversation) error {
	if err := s.validate(c); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	if cur, ok := s.convs[c.ID]; ok {
		cur.meta.Participants = slices.Clone(c.Participants)
		s.mu.Unlock()
		return s.conversations.SaveConversation(cur.meta)
	}
	s.mu.Unlock()

	if err := s.conversations.SaveConversation(c); err != nil {
		return err
	}
	msgs, err := s.messages.LoadMessages(c.ID)
	if err != nil {
		return fmt.Errorf("load timeline of %s: %w", c.ID, err)
	}
	rec := reconcile.New(c.ID, s.local, s.log)
	rec.Restore(msgs)

	s.mu.Lock()
	if _, ok := s.convs[c.ID]; !ok {
		s.convs[c.ID] = &conversation{meta: c, rec: rec}
	}
	s.mu.Unlock()

	select {
	case s.opened <- struct{}{}:
	default:
	}
	s.log.Debugf("Opened %s %s with %d messages", c.Type, c.ID, len(msgs))
	return nil
}

// OpenDirect opens the direct conversation with peer.
func (s *Service) OpenDirect(peer domain.UserID) (domain.ConversationID, error) {
	id := domain.DirectConversationID(s.local, peer)
	if _, err := s.conversation(id); err == nil {
		return id, nil
	}
	c, ok, err := s.conversations.LoadConversation(id)
	if err != nil {
		return "", err
	}
	if !ok {
		c = domain.Conversation{
			ID:           id,
			Type:         domain.ConversationDirect,
			Participants: []domain.UserID{s.local, peer},
		}
	}
	return id, s.OpenConversation(c)
}

// Restore opens every stored conversation.
func (s *Service) Restore() error {
	all, err := s.conversations.ListConversations()
	if err != nil {
		return err
	}
	for _, c := range all {
		if err := s.OpenConversation(c); err != nil {
			return fmt.Errorf("restore %s: %w", c.ID, err)
		}
	}
	return nil
}

// Conversations lists the opened conversations.
func (s *Service) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.meta)
	}
	slices.SortFunc(out, func(a, b domain.Conversation) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Timeline returns the ordered messages of conv.
func (s *Service) Timeline(conv domain.ConversationID) ([]domain.Message, error) {
	c, err := s.conversation(conv)
	if err != nil {
		return nil, err
	}
	return c.rec.Messages(), nil
}

func (s *Service) validate(c domain.Conversation) error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidConversation)
	case !c.Type.Valid():
		return fmt.Errorf("%w: type %q", ErrInvalidConversation, c.Type)
	case !slices.Contains(c.Participants, s.local):
		return fmt.Errorf("%w: %s is not a participant of %s", ErrInvalidConversation, s.local, c.ID)
	}
	if c.Type == domain.ConversationDirect {
		peer, ok := c.Peer(s.local)
		if len(c.Participants) != 2 || !ok {
			return fmt.Errorf("%w: direct conversation needs exactly two users", ErrInvalidConversation)
		}
		if c.ID != domain.DirectConversationID(s.local, peer) {
			return fmt.Errorf("%w: direct conversation id %s", ErrInvalidConversation, c.ID)
		}
	}
	return nil
}

func (s *Service) conversation(id domain.ConversationID) (*conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	return c, nil
}

// members returns the participants of c other than the local user.
func (s *Service) members(c *conversation) []domain.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserID, 0, len(c.meta.Participants))
	for _, p := range c.meta.Participants {
		if p != s.local {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) openIDs() []domain.ConversationID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.ConversationID, 0, len(s.convs))
	for id := range s.convs {
		ids = append(ids, id)
	}
	return ids
}

// persist writes the timeline of c. Callers hold c's lane.
func (s *Service) persist(c *conversation) error {
	if err := s.messages.SaveMessages(c.meta.ID, c.rec.Messages()); err != nil {
		return fmt.Errorf("save timeline of %s: %w", c.meta.ID, err)
	}
	return nil
}

func newMessageID() domain.MessageID { return domain.MessageID(uuid.New().String()) }
