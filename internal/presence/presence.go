package presence

import (
	"sort"
	"sync"
	"time"

	"pulse/internal/domain"
	domaintypes "pulse/internal/domain/types"
)

// DefaultTypingTimeout is how long a typing flag lasts without activity.
const DefaultTypingTimeout = 5 * time.Second

type key struct {
	conversation domain.ConversationID
	user         domain.UserID
}

// Tracker holds typing flags and live-location shares.
type Tracker struct {
	sync.Mutex

	typingTimeout time.Duration
	now           func() time.Time

	typing    map[key]time.Time
	locations map[key]LocationShare
}

// LocationShare is the latest live location of one user.
type LocationShare struct {
	User     domain.UserID
	Location domaintypes.Location
	Until    time.Time
}

// New returns a Tracker whose typing flags clear after typingTimeout.
func New(typingTimeout time.Duration) *Tracker {
	if typingTimeout <= 0 {
		typingTimeout = DefaultTypingTimeout
	}
	return &Tracker{
		typingTimeout: typingTimeout,
		now:           time.Now,
		typing:        make(map[key]time.Time),
		locations:     make(map[key]LocationShare),
	}
}

// WithClock replaces the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// TypingTimeout is how long a typing flag lasts without activity.
func (t *Tracker) TypingTimeout() time.Duration { return t.typingTimeout }

// SetTyping records activity by user. Each call while typing pushes the
// expiry out again; typing=false clears the flag immediately.
func (t *Tracker) SetTyping(conv domain.ConversationID, user domain.UserID, typing bool) {
	t.Lock()
	defer t.Unlock()
	k := key{conv, user}
	if !typing {
		delete(t.typing, k)
		return
	}
	t.typing[k] = t.now().Add(t.typingTimeout)
}

// Typing lists users currently typing in conv, sorted.
func (t *Tracker) Typing(conv domain.ConversationID) []domain.UserID {
	t.Lock()
	defer t.Unlock()
	now := t.now()
	var out []domain.UserID
	for k, until := range t.typing {
		if !now.Before(until) {
			delete(t.typing, k)
			continue
		}
		if k.conversation == conv {
			out = append(out, k.user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ObserveLocation records a location payload from user. Pinned locations
// and shares that already ended are ignored; a share replaces the user's
// previous one.
func (t *Tracker) ObserveLocation(conv domain.ConversationID, user domain.UserID, loc domaintypes.Location) bool {
	if loc.LiveUntil == nil {
		return false
	}
	t.Lock()
	defer t.Unlock()
	if !t.now().Before(*loc.LiveUntil) {
		return false
	}
	t.locations[key{conv, user}] = LocationShare{User: user, Location: loc, Until: *loc.LiveUntil}
	return true
}

// StopLocation ends user's share in conv.
func (t *Tracker) StopLocation(conv domain.ConversationID, user domain.UserID) {
	t.Lock()
	defer t.Unlock()
	delete(t.locations, key{conv, user})
}

// Locations returns the live shares in conv ordered by user.
func (t *Tracker) Locations(conv domain.ConversationID) []LocationShare {
	t.Lock()
	defer t.Unlock()
	now := t.now()
	var out []LocationShare
	for k, s := range t.locations {
		if !now.Before(s.Until) {
			delete(t.locations, k)
			continue
		}
		if k.conversation == conv {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}
