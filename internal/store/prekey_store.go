package store

import (
	"fmt"
	"math"

	bolt "go.etcd.io/bbolt"

	"pulse/internal/domain"
)

var preKeySeqKey = []byte("prekey_seq")

// PreKeyStore holds the one-time and signed pre-key inventory.
type PreKeyStore struct {
	db *DB
}

// PreKeys returns the pre-key store backed by d.
func (d *DB) PreKeys() *PreKeyStore { return &PreKeyStore{db: d} }

// NextPreKeyID allocates an identifier shared by one-time and signed pre-keys.
func (s *PreKeyStore) NextPreKeyID() (domain.PreKeyID, error) {
	var id domain.PreKeyID
	err := s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, metaBucket)
		if err != nil {
			return err
		}
		seq, err := bkt.CreateBucketIfNotExists(preKeySeqKey)
		if err != nil {
			return err
		}
		n, err := seq.NextSequence()
		if err != nil {
			return err
		}
		if n > math.MaxUint32 {
			return fmt.Errorf("store: pre-key id space exhausted")
		}
		id = domain.PreKeyID(n)
		return nil
	})
	return id, err
}

// SavePreKeys stores keys, replacing entries with the same id.
func (s *PreKeyStore) SavePreKeys(keys []domain.PreKey) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, preKeysBucket)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := put(bkt, be32(uint32(k.ID)), k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PreKeyStore) LoadPreKey(id domain.PreKeyID) (domain.PreKey, bool, error) {
	var k domain.PreKey
	var ok bool
	err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, preKeysBucket)
		if err != nil {
			return err
		}
		ok, err = get(bkt, be32(uint32(id)), &k)
		return err
	})
	return k, ok, err
}

// ListPreKeys returns the inventory ordered by id.
func (s *PreKeyStore) ListPreKeys() ([]domain.PreKey, error) {
	var out []domain.PreKey
	err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, preKeysBucket)
		if err != nil {
			return err
		}
		return bkt.ForEach(func(k, _ []byte) error {
			var pk domain.PreKey
			if _, err := get(bkt, k, &pk); err != nil {
				return err
			}
			out = append(out, pk)
			return nil
		})
	})
	return out, err
}

func (s *PreKeyStore) DeletePreKey(id domain.PreKeyID) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, preKeysBucket)
		if err != nil {
			return err
		}
		return bkt.Delete(be32(uint32(id)))
	})
}

// ReserveUnpublishedPreKey marks the lowest-id unpublished key as published
// and returns it, all in one transaction, so a key is never handed out twice.
func (s *PreKeyStore) ReserveUnpublishedPreKey() (domain.PreKey, bool, error) {
	var out domain.PreKey
	var ok bool
	err := s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, preKeysBucket)
		if err != nil {
			return err
		}
		c := bkt.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			var pk domain.PreKey
			if _, err := get(bkt, k, &pk); err != nil {
				return err
			}
			if pk.Published {
				continue
			}
			pk.Published = true
			if err := put(bkt, k, pk); err != nil {
				return err
			}
			out, ok = pk, true
			return nil
		}
		return nil
	})
	return out, ok, err
}

func (s *PreKeyStore) SaveSignedPreKey(key domain.SignedPreKey) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, signedPreKeyBucket)
		if err != nil {
			return err
		}
		return put(bkt, be32(uint32(key.ID)), key)
	})
}

func (s *PreKeyStore) LoadSignedPreKey(id domain.PreKeyID) (domain.SignedPreKey, bool, error) {
	var k domain.SignedPreKey
	var ok bool
	err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, signedPreKeyBucket)
		if err != nil {
			return err
		}
		ok, err = get(bkt, be32(uint32(id)), &k)
		return err
	})
	return k, ok, err
}

// ListSignedPreKeys returns every retained signed pre-key ordered by id, so
// the last element is the newest.
func (s *PreKeyStore) ListSignedPreKeys() ([]domain.SignedPreKey, error) {
	var out []domain.SignedPreKey
	err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, signedPreKeyBucket)
		if err != nil {
			return err
		}
		return bkt.ForEach(func(k, _ []byte) error {
			var spk domain.SignedPreKey
			if _, err := get(bkt, k, &spk); err != nil {
				return err
			}
			out = append(out, spk)
			return nil
		})
	})
	return out, err
}

func (s *PreKeyStore) DeleteSignedPreKey(id domain.PreKeyID) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, signedPreKeyBucket)
		if err != nil {
			return err
		}
		return bkt.Delete(be32(uint32(id)))
	})
}

var _ domain.PreKeyStore = (*PreKeyStore)(nil)
