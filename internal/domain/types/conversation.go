package types

import "time"

// ConversationType classifies a conversation.
type ConversationType string

const (
	ConversationPulseGroup ConversationType = "pulse_group"
	ConversationDirect     ConversationType = "direct_message"
	ConversationGroupChat  ConversationType = "group_chat"
)

// Valid reports whether t is a known conversation type.
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationPulseGroup, ConversationDirect, ConversationGroupChat:
		return true
	}
	return false
}

// IsGroup reports whether messages of this type are sealed with a shared
// ConversationKey rather than a pairwise session.
func (t ConversationType) IsGroup() bool {
	return t == ConversationPulseGroup || t == ConversationGroupChat
}

// Conversation describes who takes part in a conversation.
type Conversation struct {
	ID           ConversationID   `json:"id"`
	Type         ConversationType `json:"type"`
	Participants []UserID         `json:"participants"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Peer returns the other participant of a direct conversation.
func (c Conversation) Peer(local UserID) (UserID, bool) {
	if c.Type != ConversationDirect {
		return "", false
	}
	for _, p := range c.Participants {
		if p != local {
			return p, true
		}
	}
	return "", false
}

// ConversationKey is one version of the symmetric key shared by the members
// of a group conversation. Versions are monotonic; rotation deactivates the
// previous version but keeps it so older messages still decrypt.
type ConversationKey struct {
	KeyID          KeyID            `json:"key_id"`
	ConversationID ConversationID   `json:"conversation_id"`
	Type           ConversationType `json:"type"`
	SymmetricKey   []byte           `json:"symmetric_key"`
	Version        int              `json:"version"`
	Active         bool             `json:"active"`
	SendCounter    uint64           `json:"send_counter"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Algorithm names the AEAD that sealed a message.
type Algorithm string

const (
	AlgorithmChaCha20Poly1305  Algorithm = "chacha20-poly1305"
	AlgorithmXChaCha20Poly1305 Algorithm = "xchacha20-poly1305"
)

// EncryptionMetadata travels next to every ciphertext. For pairwise messages
// KeyID and SessionID both name the session; for group messages KeyID names
// the conversation key and Version pins the key version used.
type EncryptionMetadata struct {
	KeyID         string    `json:"keyId"`
	Algorithm     Algorithm `json:"algorithm"`
	IV            []byte    `json:"iv"`
	AuthTag       []byte    `json:"authTag,omitempty"`
	Version       int       `json:"version"`
	SessionID     SessionID `json:"sessionId,omitempty"`
	MessageNumber uint64    `json:"messageNumber"`
	Timestamp     time.Time `json:"timestamp"`
}
