package store

import (
	"errors"

	bolt "go.etcd.io/bbolt"

	"pulse/internal/domain"
	"pulse/internal/util/memzero"
	"pulse/internal/wire"
)

// ErrNoIdentity is returned by LoadIdentity before an identity was saved.
var ErrNoIdentity = errors.New("store: no local identity")

var identityKey = []byte("local")

// IdentityStore keeps the sealed local identity.
type IdentityStore struct {
	db  *DB
	kdf kdfParams
}

// Identities returns the identity store backed by d.
func (d *DB) Identities() *IdentityStore {
	return &IdentityStore{db: d, kdf: defaultKDF()}
}

// SaveIdentity seals id under passphrase and replaces any stored identity.
func (s *IdentityStore) SaveIdentity(passphrase string, id domain.Identity) error {
	raw, err := wire.Marshal(id)
	if err != nil {
		return err
	}
	defer memzero.Zero(raw)
	ct, err := seal(passphrase, raw, s.kdf)
	if err != nil {
		return err
	}
	return s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, identityBucket)
		if err != nil {
			return err
		}
		return bkt.Put(identityKey, ct)
	})
}

// LoadIdentity unseals the stored identity.
func (s *IdentityStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	var ct []byte
	if err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, identityBucket)
		if err != nil {
			return err
		}
		if v := bkt.Get(identityKey); v != nil {
			ct = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return domain.Identity{}, err
	}
	if ct == nil {
		return domain.Identity{}, ErrNoIdentity
	}
	pt, err := unseal(passphrase, ct)
	if err != nil {
		return domain.Identity{}, err
	}
	defer memzero.Zero(pt)
	var id domain.Identity
	if err := wire.Unmarshal(pt, &id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// HasIdentity reports whether an identity has been saved.
func (s *IdentityStore) HasIdentity() (bool, error) {
	var ok bool
	err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, identityBucket)
		if err != nil {
			return err
		}
		ok = bkt.Get(identityKey) != nil
		return nil
	})
	return ok, err
}

var _ domain.IdentityStore = (*IdentityStore)(nil)
