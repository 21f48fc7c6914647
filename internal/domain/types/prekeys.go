package types

import "time"

// PreKey is a one-time pre-key pair held in the local inventory.
// Published is set once the public half has been handed out in a bundle.
type PreKey struct {
	ID        PreKeyID      `json:"id"`
	Priv      X25519Private `json:"priv"`
	Pub       X25519Public  `json:"pub"`
	Published bool          `json:"published"`
	CreatedAt time.Time     `json:"created_at"`
}

// SignedPreKey is a medium-term pre-key whose public half is signed with the
// identity signing key.
type SignedPreKey struct {
	ID        PreKeyID      `json:"id"`
	Priv      X25519Private `json:"priv"`
	Pub       X25519Public  `json:"pub"`
	Signature []byte        `json:"signature"`
	CreatedAt time.Time     `json:"created_at"`
}

// SignedPreKeyPublic is the published half of a SignedPreKey.
type SignedPreKeyPublic struct {
	ID        PreKeyID     `json:"id"`
	Pub       X25519Public `json:"pub"`
	Signature []byte       `json:"signature"`
	CreatedAt time.Time    `json:"created_at"`
}

// OneTimePreKeyPublic is the published half of a PreKey.
type OneTimePreKeyPublic struct {
	ID  PreKeyID     `json:"id"`
	Pub X25519Public `json:"pub"`
}

// PreKeyBundle is the immutable snapshot a peer fetches once to start a
// session with UserID.
type PreKeyBundle struct {
	UserID         UserID               `json:"user_id"`
	RegistrationID uint32               `json:"registration_id"`
	IdentityKey    X25519Public         `json:"identity_key"`
	SigningKey     Ed25519Public        `json:"signing_key"`
	SignedPreKey   SignedPreKeyPublic   `json:"signed_pre_key"`
	OneTimePreKey  *OneTimePreKeyPublic `json:"one_time_pre_key,omitempty"`
}

// PreKeyMessage carries the handshake parameters the responder needs to
// derive the same root key. It rides on every envelope of a fresh initiator
// session until the peer has replied.
type PreKeyMessage struct {
	SessionID            SessionID    `json:"session_id"`
	InitiatorIdentityKey X25519Public `json:"initiator_identity_key"`
	EphemeralKey         X25519Public `json:"ephemeral_key"`
	SignedPreKeyID       PreKeyID     `json:"signed_pre_key_id"`
	OneTimePreKeyID      *PreKeyID    `json:"one_time_pre_key_id,omitempty"`
}
