package crypto

import (
	"encoding/hex"
	"strings"

	"pulse/internal/domain"
)

const (
	fingerprintBytes = 20
	fingerprintGroup = 4
)

// Fingerprint renders a public key for out-of-band comparison: the first 20
// bytes in upper-case hex, split into space separated 4-byte groups.
// Keys shorter than 20 bytes are rendered in full.
func Fingerprint(pub []byte) domain.Fingerprint {
	if len(pub) > fingerprintBytes {
		pub = pub[:fingerprintBytes]
	}
	groups := make([]string, 0, (len(pub)+fingerprintGroup-1)/fingerprintGroup)
	for i := 0; i < len(pub); i += fingerprintGroup {
		end := min(i+fingerprintGroup, len(pub))
		groups = append(groups, strings.ToUpper(hex.EncodeToString(pub[i:end])))
	}
	return domain.Fingerprint(strings.Join(groups, " "))
}

// FingerprintIdentity returns the fingerprint of an identity's DH public key.
func FingerprintIdentity(pub domain.X25519Public) domain.Fingerprint {
	return Fingerprint(pub.Slice())
}
