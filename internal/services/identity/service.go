package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/op/go-logging.v1"

	"pulse/internal/crypto"
	"pulse/internal/domain"
)

// minPassphraseLength is the shortest passphrase accepted for a new identity.
const minPassphraseLength = 12

// ErrWeakPassphrase is returned when a new identity's passphrase fails the
// strength policy.
var ErrWeakPassphrase = errors.New("passphrase is too weak")

// Service manages identity key creation and access using a backing store.
//
// The identity contains:
//   - X25519 key pair for Diffie-Hellman (X3DH).
//   - Ed25519 key pair for signing the signed pre-key.
type Service struct {
	store domain.IdentityStore
	log   *logging.Logger
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore, log *logging.Logger) *Service {
	return &Service{store: s, log: log}
}

// CreateIdentity returns the stored identity when there is one. Otherwise it
// creates a new identity, seals it with the passphrase and returns it with
// its fingerprint. The passphrase policy only applies to new identities.
func (s *Service) CreateIdentity(
	passphrase string,
) (domain.Identity, domain.Fingerprint, error) {
	exists, err := s.store.HasIdentity()
	if err != nil {
		return domain.Identity{}, "", err
	}
	if exists {
		id, err := s.store.LoadIdentity(passphrase)
		if err != nil {
			return domain.Identity{}, "", err
		}
		return id, crypto.FingerprintIdentity(id.XPub), nil
	}

	if err := checkPassphrase(passphrase); err != nil {
		return domain.Identity{}, "", err
	}

	dhPriv, dhPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, "", err
	}
	signPriv, signPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.Identity{}, "", err
	}

	id := domain.Identity{
		XPub:   dhPub,
		XPriv:  dhPriv,
		EdPub:  signPub,
		EdPriv: signPriv,
	}
	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, "", err
	}
	fp := crypto.FingerprintIdentity(id.XPub)
	s.log.Noticef("Created identity %s", fp)
	return id, fp, nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.store.LoadIdentity(passphrase)
}

// FingerprintIdentity returns the fingerprint of the local X25519 public key.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return crypto.FingerprintIdentity(id.XPub), nil
}

// checkPassphrase requires minPassphraseLength characters mixing upper and
// lower case letters, digits and symbols, naming whatever is missing.
func checkPassphrase(passphrase string) error {
	var upper, lower, digit, symbol bool
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			symbol = true
		}
	}
	var missing []string
	if n := utf8.RuneCountInString(passphrase); n < minPassphraseLength {
		missing = append(missing, fmt.Sprintf("%d more characters", minPassphraseLength-n))
	}
	for _, c := range []struct {
		ok   bool
		what string
	}{{upper, "an upper case letter"}, {lower, "a lower case letter"}, {digit, "a digit"}, {symbol, "a symbol"}} {
		if !c.ok {
			missing = append(missing, c.what)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: needs %s", ErrWeakPassphrase, strings.Join(missing, ", "))
	}
	return nil
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
