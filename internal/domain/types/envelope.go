package types

import "time"

// EnvelopeKind distinguishes what an envelope carries.
type EnvelopeKind string

const (
	EnvelopeMessage EnvelopeKind = "message"
	EnvelopeReceipt EnvelopeKind = "receipt"
	EnvelopeTyping  EnvelopeKind = "typing"
)

// Envelope is the transport unit exchanged through the relay. The relay
// assigns Seq when it accepts the envelope; it never sees plaintext.
type Envelope struct {
	Seq            uint64              `json:"seq,omitempty"`
	Kind           EnvelopeKind        `json:"kind"`
	ConversationID ConversationID      `json:"conversation_id"`
	MessageID      MessageID           `json:"message_id,omitempty"`
	SenderID       UserID              `json:"sender_id"`
	RecipientID    UserID              `json:"recipient_id,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Metadata       *EncryptionMetadata `json:"metadata,omitempty"`
	Ciphertext     []byte              `json:"ciphertext,omitempty"`
	Handshake      *PreKeyMessage      `json:"handshake,omitempty"`
	Receipts       []Receipt           `json:"receipts,omitempty"`
	// Typing is meaningful for EnvelopeTyping only; false clears the flag.
	Typing bool `json:"typing,omitempty"`
}
