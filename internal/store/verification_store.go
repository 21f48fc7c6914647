package store

import (
	bolt "go.etcd.io/bbolt"

	"pulse/internal/domain"
)

// VerificationStore records peers whose fingerprint was checked out of band.
type VerificationStore struct {
	db *DB
}

// Verifications returns the verification store backed by d.
func (d *DB) Verifications() *VerificationStore { return &VerificationStore{db: d} }

func (s *VerificationStore) SaveVerification(v domain.Verification) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, verifyBucket)
		if err != nil {
			return err
		}
		return put(bkt, []byte(v.UserID), v)
	})
}

func (s *VerificationStore) LoadVerification(user domain.UserID) (domain.Verification, bool, error) {
	var v domain.Verification
	var ok bool
	err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, verifyBucket)
		if err != nil {
			return err
		}
		ok, err = get(bkt, []byte(user), &v)
		return err
	})
	return v, ok, err
}

func (s *VerificationStore) DeleteVerification(user domain.UserID) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, verifyBucket)
		if err != nil {
			return err
		}
		return bkt.Delete([]byte(user))
	})
}

var _ domain.VerificationStore = (*VerificationStore)(nil)
