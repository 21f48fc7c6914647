package security

import (
	"math"

	"pulse/internal/domain"
)

const (
	baseScore      = 50
	endToEndBonus  = 30
	transportBonus = 15
	verifiedBonus  = 20
)

// Facts is everything Evaluate needs to know about a conversation.
type Facts struct {
	Protection           domain.ProtectionLevel
	ParticipantCount     int
	VerifiedParticipants int
}

// Evaluate scores a conversation. Unencrypted conversations score 0;
// otherwise the score is a base of 50, plus 30 for end-to-end or 15 for
// transport-only protection, plus up to 20 scaled by the verified share of
// participants.
func Evaluate(f Facts) domain.ConversationEncryptionStatus {
	participants := max(f.ParticipantCount, 0)
	verified := min(max(f.VerifiedParticipants, 0), participants)

	st := domain.ConversationEncryptionStatus{
		IsEncrypted:          f.Protection == domain.ProtectionEndToEnd || f.Protection == domain.ProtectionTransport,
		Level:                f.Protection,
		ParticipantCount:     participants,
		VerifiedParticipants: verified,
	}
	if st.Level == "" {
		st.Level = domain.ProtectionNone
	}

	score := 0
	if st.IsEncrypted {
		score = baseScore
		if f.Protection == domain.ProtectionEndToEnd {
			score += endToEndBonus
		} else {
			score += transportBonus
		}
		if participants > 0 {
			score += int(math.Round(verifiedBonus * float64(verified) / float64(participants)))
		}
	}
	st.Score = min(max(score, 0), 100)
	st.Description = Describe(st.Score)
	return st
}

// Describe maps a score to its bucket label.
func Describe(score int) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 70:
		return "Good"
	case score >= 50:
		return "Basic"
	case score >= 30:
		return "Limited"
	default:
		return "Poor"
	}
}
