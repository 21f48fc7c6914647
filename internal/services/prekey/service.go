package prekey

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"pulse/internal/crypto"
	"pulse/internal/domain"
)

// ErrNoSignedPreKey is returned when a bundle is requested before any signed
// pre-key was generated.
var ErrNoSignedPreKey = errors.New("no signed pre-key available")

// Service manages the one-time and signed pre-key inventory and builds the
// public bundles peers use to start sessions.
type Service struct {
	ids domain.IdentityStore
	ps  domain.PreKeyStore
	log *logging.Logger
	now func() time.Time
}

// New returns a pre-key service over the given stores.
func New(ids domain.IdentityStore, ps domain.PreKeyStore, log *logging.Logger) *Service {
	return &Service{ids: ids, ps: ps, log: log, now: time.Now}
}

// GeneratePreKeys creates count one-time pre-keys with fresh, strictly
// increasing ids and returns their public halves.
func (s *Service) GeneratePreKeys(count int) ([]domain.OneTimePreKeyPublic, error) {
	if count <= 0 {
		return nil, nil
	}
	keys := make([]domain.PreKey, 0, count)
	publics := make([]domain.OneTimePreKeyPublic, 0, count)
	now := s.now().UTC()
	for i := 0; i < count; i++ {
		priv, pub, err := crypto.GenerateX25519()
		if err != nil {
			return nil, err
		}
		id, err := s.ps.NextPreKeyID()
		if err != nil {
			return nil, err
		}
		keys = append(keys, domain.PreKey{ID: id, Priv: priv, Pub: pub, CreatedAt: now})
		publics = append(publics, domain.OneTimePreKeyPublic{ID: id, Pub: pub})
	}
	if err := s.ps.SavePreKeys(keys); err != nil {
		return nil, err
	}
	s.log.Debugf("Generated %d one-time pre-keys (%d..%d)", count, keys[0].ID, keys[count-1].ID)
	return publics, nil
}

// GenerateSignedPreKey creates a new signed pre-key, which becomes the one
// placed in bundles. Older signed pre-keys stay until PurgeSignedPreKeys.
func (s *Service) GenerateSignedPreKey(passphrase string) (domain.SignedPreKeyPublic, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.SignedPreKeyPublic{}, err
	}
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.SignedPreKeyPublic{}, err
	}
	keyID, err := s.ps.NextPreKeyID()
	if err != nil {
		return domain.SignedPreKeyPublic{}, err
	}
	spk := domain.SignedPreKey{
		ID:        keyID,
		Priv:      priv,
		Pub:       pub,
		Signature: crypto.SignPreKey(id.EdPriv, pub),
		CreatedAt: s.now().UTC(),
	}
	if err := s.ps.SaveSignedPreKey(spk); err != nil {
		return domain.SignedPreKeyPublic{}, err
	}
	s.log.Infof("Generated signed pre-key %d", keyID)
	return publicOf(spk), nil
}

// BuildBundle assembles a bundle around the newest signed pre-key. When the
// inventory still holds an unpublished one-time pre-key it is attached and
// marked published so no other bundle carries it.
func (s *Service) BuildBundle(
	passphrase string,
	user domain.UserID,
	registrationID uint32,
) (domain.PreKeyBundle, error) {
	b, err := s.baseBundle(passphrase, user, registrationID)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	opk, ok, err := s.ps.ReserveUnpublishedPreKey()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if ok {
		b.OneTimePreKey = &domain.OneTimePreKeyPublic{ID: opk.ID, Pub: opk.Pub}
	}
	return b, nil
}

// BuildBundles returns up to n bundles, each with its own one-time pre-key.
// If the inventory runs dry a single bundle without one is appended as a
// last resort.
func (s *Service) BuildBundles(
	passphrase string,
	user domain.UserID,
	registrationID uint32,
	n int,
) ([]domain.PreKeyBundle, error) {
	base, err := s.baseBundle(passphrase, user, registrationID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PreKeyBundle, 0, n)
	for len(out) < n {
		opk, ok, err := s.ps.ReserveUnpublishedPreKey()
		if err != nil {
			return nil, err
		}
		b := base
		if !ok {
			out = append(out, b)
			break
		}
		b.OneTimePreKey = &domain.OneTimePreKeyPublic{ID: opk.ID, Pub: opk.Pub}
		out = append(out, b)
	}
	return out, nil
}

func (s *Service) baseBundle(
	passphrase string,
	user domain.UserID,
	registrationID uint32,
) (domain.PreKeyBundle, error) {
	id, err := s.ids.LoadIdentity(passphrase)
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	spks, err := s.ps.ListSignedPreKeys()
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	if len(spks) == 0 {
		return domain.PreKeyBundle{}, ErrNoSignedPreKey
	}
	return domain.PreKeyBundle{
		UserID:         user,
		RegistrationID: registrationID,
		IdentityKey:    id.XPub,
		SigningKey:     id.EdPub,
		SignedPreKey:   publicOf(spks[len(spks)-1]),
	}, nil
}

// LoadSignedPreKey returns a retained signed pre-key by id.
func (s *Service) LoadSignedPreKey(id domain.PreKeyID) (domain.SignedPreKey, bool, error) {
	return s.ps.LoadSignedPreKey(id)
}

// ConsumePreKey removes a one-time pre-key from the inventory and returns
// it. A pre-key can be consumed at most once.
func (s *Service) ConsumePreKey(id domain.PreKeyID) (domain.PreKey, bool, error) {
	k, ok, err := s.ps.LoadPreKey(id)
	if err != nil || !ok {
		return domain.PreKey{}, false, err
	}
	if err := s.ps.DeletePreKey(id); err != nil {
		return domain.PreKey{}, false, err
	}
	s.log.Debugf("Consumed one-time pre-key %d", id)
	return k, true, nil
}

// Replenish generates batch new one-time pre-keys when fewer than low
// unpublished ones remain, and returns how many were generated.
func (s *Service) Replenish(low, batch int) (int, error) {
	keys, err := s.ps.ListPreKeys()
	if err != nil {
		return 0, err
	}
	unpublished := 0
	for _, k := range keys {
		if !k.Published {
			unpublished++
		}
	}
	if unpublished >= low {
		return 0, nil
	}
	if _, err := s.GeneratePreKeys(batch); err != nil {
		return 0, err
	}
	return batch, nil
}

// PurgeSignedPreKeys drops signed pre-keys that were replaced more than
// grace ago. The newest signed pre-key is always kept.
func (s *Service) PurgeSignedPreKeys(now time.Time, grace time.Duration) (int, error) {
	spks, err := s.ps.ListSignedPreKeys()
	if err != nil {
		return 0, err
	}
	n := 0
	for i := 0; i+1 < len(spks); i++ {
		replacedAt := spks[i+1].CreatedAt
		if now.Sub(replacedAt) < grace {
			continue
		}
		if err := s.ps.DeleteSignedPreKey(spks[i].ID); err != nil {
			return n, fmt.Errorf("purge signed pre-key %d: %w", spks[i].ID, err)
		}
		n++
	}
	if n > 0 {
		s.log.Infof("Purged %d signed pre-keys", n)
	}
	return n, nil
}

func publicOf(k domain.SignedPreKey) domain.SignedPreKeyPublic {
	return domain.SignedPreKeyPublic{ID: k.ID, Pub: k.Pub, Signature: k.Signature, CreatedAt: k.CreatedAt}
}

// Compile-time assertion that Service implements domain.PreKeyService.
var _ domain.PreKeyService = (*Service)(nil)
