package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"pulse/internal/domain"
	"pulse/internal/instrument"
)

type conversationLog struct {
	envs []domain.Envelope
	// notify is closed and replaced on every append.
	notify chan struct{}
}

type bundleQueue struct {
	oneTime    []domain.PreKeyBundle
	lastResort *domain.PreKeyBundle
}

// Hub is an in-memory relay.
type Hub struct {
	sync.Mutex

	log  *logging.Logger
	now  func() time.Time
	logs map[domain.ConversationID]*conversationLog
	keys map[domain.UserID]*bundleQueue
}

// NewHub returns an empty Hub.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:  log,
		now:  time.Now,
		logs: make(map[domain.ConversationID]*conversationLog),
		keys: make(map[domain.UserID]*bundleQueue),
	}
}

func (h *Hub) logFor(conv domain.ConversationID) *conversationLog {
	l, ok := h.logs[conv]
	if !ok {
		l = &conversationLog{notify: make(chan struct{})}
		h.logs[conv] = l
	}
	return l
}

// Send appends env to the log of conversation and assigns its sequence
// number.
func (h *Hub) Send(_ context.Context, conversation domain.ConversationID, env domain.Envelope) error {
	if env.ConversationID != conversation {
		return fmt.Errorf("relay: envelope for %q posted to %q", env.ConversationID, conversation)
	}
	h.Lock()
	defer h.Unlock()

	l := h.logFor(conversation)
	env.Seq = uint64(len(l.envs)) + 1
	if env.CreatedAt.IsZero() {
		env.CreatedAt = h.now().UTC()
	}
	l.envs = append(l.envs, env)
	close(l.notify)
	l.notify = make(chan struct{})

	instrument.RelayEnvelope(string(env.Kind))
	h.log.Debugf("%s: accepted %s #%d from %s", conversation, env.Kind, env.Seq, env.SenderID)
	return nil
}

// Since returns the envelopes of conversation with Seq > after, and a
// channel closed on the next append.
func (h *Hub) Since(conversation domain.ConversationID, after uint64) ([]domain.Envelope, <-chan struct{}) {
	h.Lock()
	defer h.Unlock()
	l := h.logFor(conversation)
	if after >= uint64(len(l.envs)) {
		return nil, l.notify
	}
	return append([]domain.Envelope(nil), l.envs[after:]...), l.notify
}

// Subscribe replays the conversation log from the start and then follows
// it until ctx is done.
func (h *Hub) Subscribe(ctx context.Context, conversation domain.ConversationID) (<-chan domain.Envelope, error) {
	out := make(chan domain.Envelope)
	go func() {
		defer close(out)
		var cursor uint64
		for {
			envs, wait := h.Since(conversation, cursor)
			for _, env := range envs {
				select {
				case out <- env:
					cursor = env.Seq
				case <-ctx.Done():
					return
				}
			}
			if len(envs) > 0 {
				continue
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PublishBundles queues bundles for user. Bundles with a one-time pre-key
// are handed out once each; a bundle without one replaces the last-resort
// bundle served when the queue is empty.
func (h *Hub) PublishBundles(_ context.Context, user domain.UserID, bundles []domain.PreKeyBundle) error {
	for _, b := range bundles {
		if b.UserID != user {
			return fmt.Errorf("relay: bundle for %q published as %q", b.UserID, user)
		}
	}
	h.Lock()
	defer h.Unlock()

	q, ok := h.keys[user]
	if !ok {
		q = new(bundleQueue)
		h.keys[user] = q
	}
	for _, b := range bundles {
		if b.OneTimePreKey == nil {
			lr := b
			q.lastResort = &lr
			continue
		}
		q.oneTime = append(q.oneTime, b)
	}
	instrument.RelayBundle("publish")
	h.log.Infof("%s published %d bundles (%d queued)", user, len(bundles), len(q.oneTime))
	return nil
}

// FetchBundle hands out the oldest queued bundle of user, or the
// last-resort bundle when the queue is empty.
func (h *Hub) FetchBundle(_ context.Context, user domain.UserID) (domain.PreKeyBundle, error) {
	h.Lock()
	defer h.Unlock()

	q, ok := h.keys[user]
	switch {
	case !ok:
	case len(q.oneTime) > 0:
		b := q.oneTime[0]
		q.oneTime = q.oneTime[1:]
		instrument.RelayBundle("fetch")
		return b, nil
	case q.lastResort != nil:
		instrument.RelayBundle("fetch_last_resort")
		return *q.lastResort, nil
	}
	instrument.RelayBundle("miss")
	return domain.PreKeyBundle{}, fmt.Errorf("%w: %s", domain.ErrNoBundle, user)
}

// Remaining reports how many one-time bundles are queued for user.
func (h *Hub) Remaining(user domain.UserID) int {
	h.Lock()
	defer h.Unlock()
	if q, ok := h.keys[user]; ok {
		return len(q.oneTime)
	}
	return 0
}

var (
	_ domain.Transport = (*Hub)(nil)
	_ domain.Directory = (*Hub)(nil)
)
