package message

import (
	"fmt"

	"pulse/internal/crypto"
	"pulse/internal/domain"
	"pulse/internal/security"
)

// PeerFingerprint returns the fingerprint of peer's identity key as seen on
// the active session.
func (s *Service) PeerFingerprint(peer domain.UserID) (domain.Fingerprint, error) {
	st, ok, err := s.sessions.ActiveSession(peer)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSession, peer)
	}
	return crypto.FingerprintIdentity(st.PeerIdentityKey), nil
}

// VerifyPeer records that fp was compared out of band with peer. It fails
// if fp is not the fingerprint of the identity peer currently uses.
func (s *Service) VerifyPeer(peer domain.UserID, fp domain.Fingerprint) error {
	cur, err := s.PeerFingerprint(peer)
	if err != nil {
		return err
	}
	if cur != fp {
		s.secLog.Warningf("Fingerprint mismatch for %s: have %s, compared %s", peer, cur, fp)
		return ErrFingerprintMismatch
	}
	if err := s.verifications.SaveVerification(domain.Verification{UserID: peer, Fingerprint: fp}); err != nil {
		return err
	}
	s.log.Noticef("Verified %s", peer)
	return nil
}

// SecurityStatus evaluates conv from current facts: whether a live session
// or group key protects it, and how many of the other members are verified
// under the identity they use now.
func (s *Service) SecurityStatus(conv domain.ConversationID) (domain.ConversationEncryptionStatus, error) {
	c, err := s.conversation(conv)
	if err != nil {
		return domain.ConversationEncryptionStatus{}, err
	}
	members := s.members(c)

	f := security.Facts{Protection: domain.ProtectionNone, ParticipantCount: len(members)}
	if c.meta.Type.IsGroup() {
		if _, err := s.keyring.Active(conv); err == nil {
			f.Protection = domain.ProtectionEndToEnd
		}
	} else if len(members) == 1 {
		_, ok, err := s.sessions.ActiveSession(members[0])
		if err != nil {
			return domain.ConversationEncryptionStatus{}, err
		}
		if ok {
			f.Protection = domain.ProtectionEndToEnd
		}
	}

	for _, m := range members {
		ok, err := s.verified(m)
		if err != nil {
			return domain.ConversationEncryptionStatus{}, err
		}
		if ok {
			f.VerifiedParticipants++
		}
	}
	return security.Evaluate(f), nil
}

// verified reports whether the stored verification of user still matches
// the identity on the active session.
func (s *Service) verified(user domain.UserID) (bool, error) {
	v, ok, err := s.verifications.LoadVerification(user)
	if err != nil || !ok {
		return false, err
	}
	st, ok, err := s.sessions.ActiveSession(user)
	if err != nil || !ok {
		return false, err
	}
	return crypto.FingerprintIdentity(st.PeerIdentityKey) == v.Fingerprint, nil
}
