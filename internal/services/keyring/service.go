package keyring

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"pulse/internal/crypto"
	"pulse/internal/domain"
)

const symmetricKeySize = 32

var (
	// ErrNoConversationKey is returned when a conversation has no active key.
	ErrNoConversationKey = errors.New("no active conversation key")
	// ErrInvalidKey is returned by Import for malformed key material.
	ErrInvalidKey = errors.New("invalid conversation key")
)

// Service manages the versioned symmetric keys of group conversations.
//
// Versions start at 1 and only grow. Exactly one version per conversation is
// active and used for sending; older versions are kept for decryption until
// an external retention policy calls Purge.
type Service struct {
	store domain.ConversationKeyStore
	log   *logging.Logger
	now   func() time.Time

	mu sync.Mutex
}

// New returns a keyring backed by store.
func New(store domain.ConversationKeyStore, log *logging.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// Create returns the active key of conversation, creating version 1 when the
// conversation has none yet.
func (s *Service) Create(
	conversation domain.ConversationID,
	kind domain.ConversationType,
) (domain.ConversationKey, error) {
	if !kind.Valid() {
		return domain.ConversationKey{}, fmt.Errorf("unknown conversation type %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.ListConversationKeys(conversation)
	if err != nil {
		return domain.ConversationKey{}, err
	}
	if active, ok := activeOf(keys); ok {
		return active, nil
	}
	key, err := s.newKey(conversation, kind, latestVersion(keys)+1)
	if err != nil {
		return domain.ConversationKey{}, err
	}
	if err := s.store.SaveConversationKeys(key); err != nil {
		return domain.ConversationKey{}, err
	}
	s.log.Infof("Created conversation key %s v%d", conversation, key.Version)
	return key, nil
}

// Rotate creates version+1, marks the previous active key inactive and keeps
// it for decrypting older messages.
func (s *Service) Rotate(conversation domain.ConversationID) (domain.ConversationKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.ListConversationKeys(conversation)
	if err != nil {
		return domain.ConversationKey{}, err
	}
	prev, ok := activeOf(keys)
	if !ok {
		return domain.ConversationKey{}, fmt.Errorf("%w: %s", ErrNoConversationKey, conversation)
	}
	next, err := s.newKey(conversation, prev.Type, latestVersion(keys)+1)
	if err != nil {
		return domain.ConversationKey{}, err
	}
	prev.Active = false
	if err := s.store.SaveConversationKeys(prev, next); err != nil {
		return domain.ConversationKey{}, err
	}
	s.log.Noticef("Rotated conversation key %s v%d -> v%d", conversation, prev.Version, next.Version)
	return next, nil
}

// Active returns the key used for sending.
func (s *Service) Active(conversation domain.ConversationID) (domain.ConversationKey, error) {
	keys, err := s.store.ListConversationKeys(conversation)
	if err != nil {
		return domain.ConversationKey{}, err
	}
	key, ok := activeOf(keys)
	if !ok {
		return domain.ConversationKey{}, fmt.Errorf("%w: %s", ErrNoConversationKey, conversation)
	}
	return key, nil
}

// KeyForVersion returns the exact version a message pins.
func (s *Service) KeyForVersion(
	conversation domain.ConversationID,
	version int,
) (domain.ConversationKey, error) {
	key, ok, err := s.store.LoadConversationKey(conversation, version)
	if err != nil {
		return domain.ConversationKey{}, err
	}
	if !ok {
		return domain.ConversationKey{}, fmt.Errorf("%w: %s v%d", domain.ErrUnknownKeyVersion, conversation, version)
	}
	return key, nil
}

// NextSendNumber reserves the next message number of the active key.
func (s *Service) NextSendNumber(conversation domain.ConversationID) (domain.ConversationKey, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.ListConversationKeys(conversation)
	if err != nil {
		return domain.ConversationKey{}, 0, err
	}
	key, ok := activeOf(keys)
	if !ok {
		return domain.ConversationKey{}, 0, fmt.Errorf("%w: %s", ErrNoConversationKey, conversation)
	}
	n := key.SendCounter
	key.SendCounter++
	if err := s.store.SaveConversationKeys(key); err != nil {
		return domain.ConversationKey{}, 0, err
	}
	return key, n, nil
}

// Import stores a key received from another member. A newer active version
// replaces the current active one; older versions are kept inactive.
func (s *Service) Import(key domain.ConversationKey) error {
	if key.ConversationID == "" || key.Version < 1 || len(key.SymmetricKey) != symmetricKeySize {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.ListConversationKeys(key.ConversationID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.Version == key.Version {
			if k.KeyID != key.KeyID {
				s.log.Warningf("Ignoring conflicting key share for %s v%d", key.ConversationID, key.Version)
			}
			return nil
		}
	}

	key.SendCounter = 0
	toSave := []domain.ConversationKey{key}
	if current, ok := activeOf(keys); ok {
		if key.Version > current.Version {
			current.Active = false
			toSave = append(toSave, current)
			key.Active = true
		} else {
			key.Active = false
		}
	} else {
		key.Active = key.Version >= latestVersion(keys)
	}
	toSave[0] = key
	if err := s.store.SaveConversationKeys(toSave...); err != nil {
		return err
	}
	s.log.Infof("Imported conversation key %s v%d (active=%v)", key.ConversationID, key.Version, key.Active)
	return nil
}

// Purge drops inactive versions below belowVersion and returns how many
// were removed. Messages pinned to purged versions no longer decrypt.
func (s *Service) Purge(conversation domain.ConversationID, belowVersion int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.store.ListConversationKeys(conversation)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		if k.Active || k.Version >= belowVersion {
			continue
		}
		if err := s.store.DeleteConversationKey(conversation, k.Version); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.Infof("Purged %d conversation key versions of %s below v%d", n, conversation, belowVersion)
	}
	return n, nil
}

func (s *Service) newKey(
	conversation domain.ConversationID,
	kind domain.ConversationType,
	version int,
) (domain.ConversationKey, error) {
	raw, err := crypto.RandomBytes(symmetricKeySize)
	if err != nil {
		return domain.ConversationKey{}, err
	}
	return domain.ConversationKey{
		KeyID:          domain.KeyID(uuid.New().String()),
		ConversationID: conversation,
		Type:           kind,
		SymmetricKey:   raw,
		Version:        version,
		Active:         true,
		CreatedAt:      s.now().UTC(),
	}, nil
}

func activeOf(keys []domain.ConversationKey) (domain.ConversationKey, bool) {
	for _, k := range keys {
		if k.Active {
			return k, true
		}
	}
	return domain.ConversationKey{}, false
}

func latestVersion(keys []domain.ConversationKey) int {
	v := 0
	for _, k := range keys {
		v = max(v, k.Version)
	}
	return v
}

// Compile-time assertion that Service implements domain.ConversationKeyring.
var _ domain.ConversationKeyring = (*Service)(nil)
