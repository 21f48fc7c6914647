package interfaces

import (
	"time"

	domaintypes "pulse/internal/domain/types"
)

// IdentityStore persists the local identity, sealed under a passphrase.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.Identity) error
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	HasIdentity() (bool, error)
}

// PreKeyStore holds the local one-time and signed pre-key inventory.
type PreKeyStore interface {
	// NextPreKeyID allocates the next identifier from a monotonic sequence
	// shared by one-time and signed pre-keys.
	NextPreKeyID() (domaintypes.PreKeyID, error)

	SavePreKeys(keys []domaintypes.PreKey) error
	LoadPreKey(id domaintypes.PreKeyID) (domaintypes.PreKey, bool, error)
	ListPreKeys() ([]domaintypes.PreKey, error)
	DeletePreKey(id domaintypes.PreKeyID) error
	// ReserveUnpublishedPreKey marks the oldest unpublished pre-key as
	// published and returns it. ok is false when the inventory is drained.
	ReserveUnpublishedPreKey() (key domaintypes.PreKey, ok bool, err error)

	SaveSignedPreKey(key domaintypes.SignedPreKey) error
	LoadSignedPreKey(id domaintypes.PreKeyID) (domaintypes.SignedPreKey, bool, error)
	ListSignedPreKeys() ([]domaintypes.SignedPreKey, error)
	DeleteSignedPreKey(id domaintypes.PreKeyID) error
}

// SessionStore is the arena of pairwise sessions, indexed by SessionID with a
// secondary index of the active session per peer.
type SessionStore interface {
	// ActivateSession stores s as the active session for s.PeerUser and marks
	// the previously active session, if any, as superseded at now.
	ActivateSession(s domaintypes.SessionState, now time.Time) error
	SaveSession(s domaintypes.SessionState) error
	LoadSession(peer domaintypes.UserID) (domaintypes.SessionState, bool, error)
	LoadSessionByID(id domaintypes.SessionID) (domaintypes.SessionState, bool, error)
	ListSessions(peer domaintypes.UserID) ([]domaintypes.SessionState, error)
	DeleteSession(id domaintypes.SessionID) error
}

// ConversationKeyStore keeps every retained version of each group key.
type ConversationKeyStore interface {
	// SaveConversationKeys writes all keys in one transaction.
	SaveConversationKeys(keys ...domaintypes.ConversationKey) error
	LoadConversationKey(
		conversation domaintypes.ConversationID,
		version int,
	) (domaintypes.ConversationKey, bool, error)
	ListConversationKeys(conversation domaintypes.ConversationID) ([]domaintypes.ConversationKey, error)
	DeleteConversationKey(conversation domaintypes.ConversationID, version int) error
}

// ConversationStore records conversation membership.
type ConversationStore interface {
	SaveConversation(c domaintypes.Conversation) error
	LoadConversation(id domaintypes.ConversationID) (domaintypes.Conversation, bool, error)
	ListConversations() ([]domaintypes.Conversation, error)
}

// MessageStore keeps the reconciled timeline so it survives restarts.
type MessageStore interface {
	SaveMessages(conversation domaintypes.ConversationID, msgs []domaintypes.Message) error
	LoadMessages(conversation domaintypes.ConversationID) ([]domaintypes.Message, error)
}

// VerificationStore records out-of-band fingerprint checks.
type VerificationStore interface {
	SaveVerification(v domaintypes.Verification) error
	LoadVerification(user domaintypes.UserID) (domaintypes.Verification, bool, error)
	DeleteVerification(user domaintypes.UserID) error
}
