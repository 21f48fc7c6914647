package types

import (
	"sort"
	"strings"
)

// UserID identifies an account known to the directory.
type UserID string

// String returns the string form of the user identifier.
func (u UserID) String() string { return string(u) }

// Fingerprint is the human-comparable rendering of an identity public key.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// PreKeyID identifies a one-time or signed pre-key. Identifiers are allocated
// from a monotonic sequence and never reused.
type PreKeyID uint32

// SessionID identifies one established pairwise session.
type SessionID string

// String returns the string form of the session identifier.
func (id SessionID) String() string { return string(id) }

// ConversationID identifies a conversation (direct or group).
type ConversationID string

// String returns the string form of the conversation identifier.
func (id ConversationID) String() string { return string(id) }

// MessageID is the globally stable identifier of a message. It is assigned
// by the sender before the first send attempt and reused on every retry.
type MessageID string

// String returns the string form of the message identifier.
func (id MessageID) String() string { return string(id) }

// KeyID identifies a ConversationKey independent of its version.
type KeyID string

// DirectConversationID returns the conversation identifier shared by two
// users, independent of argument order.
func DirectConversationID(a, b UserID) ConversationID {
	ids := []string{string(a), string(b)}
	sort.Strings(ids)
	return ConversationID("dm:" + strings.Join(ids, ":"))
}
