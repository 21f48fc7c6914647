package store

import (
	"bytes"

	bolt "go.etcd.io/bbolt"

	"pulse/internal/domain"
)

// ConversationKeyStore keeps every retained version of each group key,
// keyed by conversation id and big-endian version so a prefix scan yields
// versions in ascending order.
type ConversationKeyStore struct {
	db *DB
}

// ConversationKeys returns the conversation key store backed by d.
func (d *DB) ConversationKeys() *ConversationKeyStore { return &ConversationKeyStore{db: d} }

func convPrefix(conv domain.ConversationID) []byte {
	return append([]byte(conv), 0)
}

func convKey(conv domain.ConversationID, version int) []byte {
	return append(convPrefix(conv), be32(uint32(version))...)
}

// SaveConversationKeys writes all keys in a single transaction.
func (s *ConversationKeyStore) SaveConversationKeys(keys ...domain.ConversationKey) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, convKeysBucket)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := put(bkt, convKey(k.ConversationID, k.Version), k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *ConversationKeyStore) LoadConversationKey(
	conv domain.ConversationID,
	version int,
) (domain.ConversationKey, bool, error) {
	var k domain.ConversationKey
	var ok bool
	err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, convKeysBucket)
		if err != nil {
			return err
		}
		ok, err = get(bkt, convKey(conv, version), &k)
		return err
	})
	return k, ok, err
}

// ListConversationKeys returns the keys of conv by ascending version.
func (s *ConversationKeyStore) ListConversationKeys(conv domain.ConversationID) ([]domain.ConversationKey, error) {
	var out []domain.ConversationKey
	err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, convKeysBucket)
		if err != nil {
			return err
		}
		prefix := convPrefix(conv)
		c := bkt.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			var ck domain.ConversationKey
			if _, err := get(bkt, k, &ck); err != nil {
				return err
			}
			out = append(out, ck)
		}
		return nil
	})
	return out, err
}

func (s *ConversationKeyStore) DeleteConversationKey(conv domain.ConversationID, version int) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, convKeysBucket)
		if err != nil {
			return err
		}
		return bkt.Delete(convKey(conv, version))
	})
}

var _ domain.ConversationKeyStore = (*ConversationKeyStore)(nil)
