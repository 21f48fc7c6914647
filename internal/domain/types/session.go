package types

import "time"

// ChainKey is one step of a symmetric KDF chain.
type ChainKey struct {
	Key   []byte `json:"key"`
	Index uint32 `json:"index"`
}

// SessionState is the pairwise state shared with one peer. At most one
// session per peer is Active; superseded sessions stay decryptable until
// their in-flight messages are acknowledged or the grace window elapses.
type SessionState struct {
	SessionID      SessionID      `json:"session_id"`
	ConversationID ConversationID `json:"conversation_id"`
	LocalUser      UserID         `json:"local_user"`
	PeerUser       UserID         `json:"peer_user"`
	Initiator      bool           `json:"initiator"`

	RootKey        []byte   `json:"root_key"`
	SendingChain   ChainKey `json:"sending_chain"`
	ReceivingChain ChainKey `json:"receiving_chain"`
	// SkippedKeys maps receiving-chain indices to message keys derived while
	// jumping ahead. Entries are deleted on first use.
	SkippedKeys map[uint32][]byte `json:"skipped_keys,omitempty"`

	PeerIdentityKey X25519Public `json:"peer_identity_key"`
	// Handshake is attached to outgoing envelopes until the first inbound
	// message on this session confirms the peer has it.
	Handshake *PreKeyMessage `json:"handshake,omitempty"`
	InFlight  []MessageID    `json:"in_flight,omitempty"`

	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used"`
	SupersededAt time.Time `json:"superseded_at,omitempty"`
}
