package reconcile

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"pulse/internal/domain"
)

var (
	// ErrNotLocal is returned when a local echo names another sender.
	ErrNotLocal = errors.New("reconcile: local echo from another sender")
	// ErrWrongConversation is returned for messages of another conversation.
	ErrWrongConversation = errors.New("reconcile: message belongs to another conversation")
)

// Reconciler is the timeline state of one conversation. It is safe for
// concurrent use, though callers normally drive it from the conversation's
// lane.
type Reconciler struct {
	sync.Mutex

	conversation domain.ConversationID
	local        domain.UserID
	log          *logging.Logger

	msgs  []domain.Message
	index map[domain.MessageID]int
}

// New returns an empty Reconciler for conversation as seen by local.
func New(conversation domain.ConversationID, local domain.UserID, log *logging.Logger) *Reconciler {
	return &Reconciler{
		conversation: conversation,
		local:        local,
		log:          log,
		index:        make(map[domain.MessageID]int),
	}
}

// timeline implements sort.Interface; it is only ever sorted stably.
type timeline struct {
	msgs  []domain.Message
	local domain.UserID
}

func (t timeline) Len() int      { return len(t.msgs) }
func (t timeline) Swap(i, j int) { t.msgs[i], t.msgs[j] = t.msgs[j], t.msgs[i] }
func (t timeline) Less(i, j int) bool {
	a, b := t.msgs[i], t.msgs[j]
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.SenderID != t.local && b.SenderID == t.local
}

// Restore seeds the timeline from persisted messages, replacing any state.
func (r *Reconciler) Restore(msgs []domain.Message) {
	r.Lock()
	defer r.Unlock()
	r.msgs = make([]domain.Message, 0, len(msgs))
	r.index = make(map[domain.MessageID]int, len(msgs))
	for _, m := range msgs {
		if _, dup := r.index[m.ID]; dup {
			continue
		}
		r.index[m.ID] = len(r.msgs)
		r.msgs = append(r.msgs, m)
	}
	r.resort()
}

// ApplyAuthoritative merges a full or partial batch from the remote stream
// and reports whether the visible timeline changed. Re-applying the same
// batch is a no-op.
func (r *Reconciler) ApplyAuthoritative(batch []domain.Message) bool {
	r.Lock()
	defer r.Unlock()

	changed := false
	for _, in := range batch {
		if in.ConversationID != "" && in.ConversationID != r.conversation {
			r.log.Debugf("Dropping %s: conversation %s != %s", in.ID, in.ConversationID, r.conversation)
			continue
		}
		in.ConversationID = r.conversation
		if i, ok := r.index[in.ID]; ok {
			if r.merge(i, in) {
				changed = true
			}
			continue
		}
		r.index[in.ID] = len(r.msgs)
		r.msgs = append(r.msgs, in)
		changed = true
	}
	if changed {
		r.resort()
	}
	return changed
}

// merge updates the entry at i with a remote copy. The local user's own
// messages keep their displayed CreatedAt so they never move once shown.
func (r *Reconciler) merge(i int, in domain.Message) bool {
	cur := r.msgs[i]
	next := cur

	if CanTransition(cur.Status, in.Status) {
		next.Status = in.Status
	} else if in.Status != cur.Status {
		r.log.Debugf("Ignoring status %s -> %s for %s", cur.Status, in.Status, in.ID)
	}
	if in.Payload != nil {
		next.Payload = in.Payload
	}
	if in.Reactions != nil {
		next.Reactions = in.Reactions
	}
	if in.Mentions != nil {
		next.Mentions = in.Mentions
	}
	if cur.SenderID != r.local && !in.CreatedAt.IsZero() {
		next.CreatedAt = in.CreatedAt
	}

	if reflect.DeepEqual(cur, next) {
		return false
	}
	r.msgs[i] = next
	return true
}

// ApplyLocalEcho shows a message the local device just originated, with
// status sending, at the tail of the timeline. Echoing an id that failed
// earlier is a retry: the entry goes back to sending in place.
func (r *Reconciler) ApplyLocalEcho(msg domain.Message) (bool, error) {
	if msg.SenderID != r.local {
		return false, fmt.Errorf("%w: %s", ErrNotLocal, msg.SenderID)
	}
	if msg.ConversationID != "" && msg.ConversationID != r.conversation {
		return false, fmt.Errorf("%w: %s", ErrWrongConversation, msg.ConversationID)
	}

	r.Lock()
	defer r.Unlock()

	if i, ok := r.index[msg.ID]; ok {
		cur := r.msgs[i]
		if !CanTransition(cur.Status, domain.StatusSending) {
			return false, nil
		}
		cur.Status = domain.StatusSending
		if msg.Payload != nil {
			cur.Payload = msg.Payload
		}
		r.msgs[i] = cur
		return true, nil
	}

	msg.ConversationID = r.conversation
	msg.Status = domain.StatusSending
	if n := len(r.msgs); n > 0 && msg.CreatedAt.Before(r.msgs[n-1].CreatedAt) {
		msg.CreatedAt = r.msgs[n-1].CreatedAt
	}
	r.index[msg.ID] = len(r.msgs)
	r.msgs = append(r.msgs, msg)
	return true, nil
}

// ApplyReceipts advances statuses and reports whether anything changed.
// Receipts for unknown ids or that would regress are ignored.
func (r *Reconciler) ApplyReceipts(receipts []domain.Receipt) bool {
	r.Lock()
	defer r.Unlock()

	changed := false
	for _, rc := range receipts {
		i, ok := r.index[rc.MessageID]
		if !ok || !CanTransition(r.msgs[i].Status, rc.Status) {
			continue
		}
		r.msgs[i].Status = rc.Status
		changed = true
	}
	return changed
}

// MarkFailed moves a sending message to failed.
func (r *Reconciler) MarkFailed(id domain.MessageID) bool {
	return r.ApplyReceipts([]domain.Receipt{{MessageID: id, Status: domain.StatusFailed}})
}

// Messages returns a copy of the ordered timeline.
func (r *Reconciler) Messages() []domain.Message {
	r.Lock()
	defer r.Unlock()
	return append([]domain.Message(nil), r.msgs...)
}

// Get returns a copy of the message with the given id.
func (r *Reconciler) Get(id domain.MessageID) (domain.Message, bool) {
	r.Lock()
	defer r.Unlock()
	i, ok := r.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return r.msgs[i], true
}

// Status reports the current delivery status of id.
func (r *Reconciler) Status(id domain.MessageID) (domain.MessageStatus, bool) {
	m, ok := r.Get(id)
	return m.Status, ok
}

// Len is the number of messages in the timeline.
func (r *Reconciler) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.msgs)
}

// resort stably sorts the timeline and rebuilds the index.
func (r *Reconciler) resort() {
	sort.Stable(timeline{msgs: r.msgs, local: r.local})
	for i, m := range r.msgs {
		r.index[m.ID] = i
	}
}
