package types

// ProtectionLevel describes how a conversation's traffic is protected.
type ProtectionLevel string

const (
	ProtectionNone      ProtectionLevel = "none"
	ProtectionTransport ProtectionLevel = "transport"
	ProtectionEndToEnd  ProtectionLevel = "end_to_end"
)

// ConversationEncryptionStatus is a derived, never persisted, summary of a
// conversation's security posture.
type ConversationEncryptionStatus struct {
	IsEncrypted          bool            `json:"is_encrypted"`
	Level                ProtectionLevel `json:"level"`
	ParticipantCount     int             `json:"participant_count"`
	VerifiedParticipants int             `json:"verified_participants"`
	Score                int             `json:"score"`
	Description          string          `json:"description"`
}

// Verification records that the local user compared a peer's fingerprint
// out of band.
type Verification struct {
	UserID      UserID      `json:"user_id"`
	Fingerprint Fingerprint `json:"fingerprint"`
}
