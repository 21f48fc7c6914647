package interfaces

import (
	"context"
	"time"

	domaintypes "pulse/internal/domain/types"
)

// IdentityService creates, retrieves, and inspects the local identity keys.
type IdentityService interface {
	CreateIdentity(passphrase string) (
		domaintypes.Identity,
		domaintypes.Fingerprint,
		error,
	)
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}

// PreKeyService maintains the pre-key inventory and assembles bundles.
type PreKeyService interface {
	GeneratePreKeys(count int) ([]domaintypes.OneTimePreKeyPublic, error)
	GenerateSignedPreKey(passphrase string) (domaintypes.SignedPreKeyPublic, error)
	BuildBundle(
		passphrase string,
		user domaintypes.UserID,
		registrationID uint32,
	) (domaintypes.PreKeyBundle, error)
	LoadSignedPreKey(id domaintypes.PreKeyID) (domaintypes.SignedPreKey, bool, error)
	ConsumePreKey(id domaintypes.PreKeyID) (domaintypes.PreKey, bool, error)
}

// SessionService establishes pairwise sessions and tracks their lifecycle.
type SessionService interface {
	InitiateSession(
		ctx context.Context,
		passphrase string,
		local domaintypes.UserID,
		peer domaintypes.UserID,
	) (domaintypes.SessionState, error)
	AcceptSession(
		ctx context.Context,
		passphrase string,
		local domaintypes.UserID,
		peer domaintypes.UserID,
		handshake domaintypes.PreKeyMessage,
	) (domaintypes.SessionState, error)
	ActiveSession(peer domaintypes.UserID) (domaintypes.SessionState, bool, error)
	SessionByID(id domaintypes.SessionID) (domaintypes.SessionState, bool, error)
	SaveSession(s domaintypes.SessionState) error
	Acknowledge(id domaintypes.SessionID, msg domaintypes.MessageID) error
	PruneSuperseded(now time.Time) (int, error)
}

// ConversationKeyring manages versioned group keys.
type ConversationKeyring interface {
	Create(
		conversation domaintypes.ConversationID,
		kind domaintypes.ConversationType,
	) (domaintypes.ConversationKey, error)
	Rotate(conversation domaintypes.ConversationID) (domaintypes.ConversationKey, error)
	Active(conversation domaintypes.ConversationID) (domaintypes.ConversationKey, error)
	KeyForVersion(
		conversation domaintypes.ConversationID,
		version int,
	) (domaintypes.ConversationKey, error)
	NextSendNumber(conversation domaintypes.ConversationID) (domaintypes.ConversationKey, uint64, error)
	Import(key domaintypes.ConversationKey) error
	Purge(conversation domaintypes.ConversationID, belowVersion int) (int, error)
}
