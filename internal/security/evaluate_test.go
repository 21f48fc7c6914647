package security

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pulse/internal/domain"
)

func TestEvaluate(t *testing.T) {
	for name, tc := range map[string]struct {
		facts Facts
		score int
		desc  string
	}{
		"unencrypted": {
			facts: Facts{Protection: domain.ProtectionNone, ParticipantCount: 4, VerifiedParticipants: 4},
			score: 0, desc: "Poor",
		},
		"e2e unverified": {
			facts: Facts{Protection: domain.ProtectionEndToEnd, ParticipantCount: 2},
			score: 80, desc: "Good",
		},
		"e2e half verified": {
			facts: Facts{Protection: domain.ProtectionEndToEnd, ParticipantCount: 2, VerifiedParticipants: 1},
			score: 90, desc: "Excellent",
		},
		"e2e fully verified": {
			facts: Facts{Protection: domain.ProtectionEndToEnd, ParticipantCount: 3, VerifiedParticipants: 3},
			score: 100, desc: "Excellent",
		},
		"transport only": {
			facts: Facts{Protection: domain.ProtectionTransport, ParticipantCount: 3, VerifiedParticipants: 1},
			score: 72, desc: "Good",
		},
		"transport no participants": {
			facts: Facts{Protection: domain.ProtectionTransport},
			score: 65, desc: "Basic",
		},
		"verified clamped": {
			facts: Facts{Protection: domain.ProtectionEndToEnd, ParticipantCount: 1, VerifiedParticipants: 5},
			score: 100, desc: "Excellent",
		},
	} {
		t.Run(name, func(t *testing.T) {
			st := Evaluate(tc.facts)
			require.Equal(t, tc.score, st.Score)
			require.Equal(t, tc.desc, st.Description)
			require.LessOrEqual(t, st.VerifiedParticipants, st.ParticipantCount)
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	f := Facts{Protection: domain.ProtectionEndToEnd, ParticipantCount: 7, VerifiedParticipants: 3}
	require.Equal(t, Evaluate(f), Evaluate(f))
	require.False(t, Evaluate(Facts{}).IsEncrypted)
	require.Equal(t, domain.ProtectionNone, Evaluate(Facts{}).Level)
}

func TestDescribeBuckets(t *testing.T) {
	require := require.New(t)
	require.Equal("Excellent", Describe(90))
	require.Equal("Good", Describe(89))
	require.Equal("Good", Describe(70))
	require.Equal("Basic", Describe(50))
	require.Equal("Limited", Describe(49))
	require.Equal("Limited", Describe(30))
	require.Equal("Poor", Describe(29))
}
