package store

import (
	bolt "go.etcd.io/bbolt"

	"pulse/internal/domain"
)

// ConversationStore records conversation membership.
type ConversationStore struct {
	db *DB
}

// Conversations returns the conversation store backed by d.
func (d *DB) Conversations() *ConversationStore { return &ConversationStore{db: d} }

func (s *ConversationStore) SaveConversation(c domain.Conversation) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, conversationBucket)
		if err != nil {
			return err
		}
		return put(bkt, []byte(c.ID), c)
	})
}

func (s *ConversationStore) LoadConversation(id domain.ConversationID) (domain.Conversation, bool, error) {
	var c domain.Conversation
	var ok bool
	err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, conversationBucket)
		if err != nil {
			return err
		}
		ok, err = get(bkt, []byte(id), &c)
		return err
	})
	return c, ok, err
}

func (s *ConversationStore) ListConversations() ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := s.db.db.View(func(tx *bolt.Tx) error {
		bkt, err := bucket(tx, conversationBucket)
		if err != nil {
			return err
		}
		return bkt.ForEach(func(k, _ []byte) error {
			var c domain.Conversation
			if _, err := get(bkt, k, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

var _ domain.ConversationStore = (*ConversationStore)(nil)
