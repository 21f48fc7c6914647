package wire

import (
	"bytes"
	"encoding/json"

	"pulse/internal/domain"
)

// AssociatedData binds a ciphertext to the envelope fields that route it, so
// a relay cannot move a ciphertext to another conversation, message id or
// sender.
func AssociatedData(conversation domain.ConversationID, id domain.MessageID, sender domain.UserID) []byte {
	var b bytes.Buffer
	b.WriteString(string(conversation))
	b.WriteByte(0)
	b.WriteString(string(id))
	b.WriteByte(0)
	b.WriteString(string(sender))
	return b.Bytes()
}

// MarshalEnvelope encodes an envelope for the HTTP relay.
func MarshalEnvelope(env domain.Envelope) ([]byte, error) { return json.Marshal(env) }

// UnmarshalEnvelope decodes an envelope produced by MarshalEnvelope.
func UnmarshalEnvelope(b []byte) (domain.Envelope, error) {
	var env domain.Envelope
	err := json.Unmarshal(b, &env)
	return env, err
}
