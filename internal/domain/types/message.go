package types

import "time"

// MessageStatus is the delivery state of a message as seen by this client.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Message is the decrypted, displayable form of a conversation entry.
type Message struct {
	ID             MessageID           `json:"id"`
	ConversationID ConversationID      `json:"conversation_id"`
	SenderID       UserID              `json:"sender_id"`
	Payload        Payload             `json:"-"`
	Status         MessageStatus       `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	Reactions      map[string][]UserID `json:"reactions,omitempty"`
	Mentions       []UserID            `json:"mentions,omitempty"`
}

// Receipt moves a message forward in the status lattice.
type Receipt struct {
	MessageID MessageID     `json:"message_id"`
	Status    MessageStatus `json:"status"`
	From      UserID        `json:"from"`
	At        time.Time     `json:"at"`
}
