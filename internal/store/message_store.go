package store

import (
	"errors"

	bolt "go.etcd.io/bbolt"

	"pulse/internal/domain"
	"pulse/internal/wire"
)

// MessageStore keeps one nested bucket per conversation holding the
// reconciled timeline in display order.
type MessageStore struct {
	db *DB
}

// Messages returns the message store backed by d.
func (d *DB) Messages() *MessageStore { return &MessageStore{db: d} }

// messageRecord carries the payload separately since Message.Payload is an
// interface the generic codec cannot reconstruct.
type messageRecord struct {
	Message domain.Message `cbor:"msg"`
	Payload []byte         `cbor:"payload,omitempty"`
}

// SaveMessages replaces the stored timeline of conv with msgs.
func (s *MessageStore) SaveMessages(conv domain.ConversationID, msgs []domain.Message) error {
	records := make([]messageRecord, 0, len(msgs))
	for _, m := range msgs {
		rec := messageRecord{Message: m}
		if m.Payload != nil {
			b, err := wire.EncodePayload(m.Payload, nil)
			if err != nil {
				return err
			}
			rec.Payload = b
		}
		records = append(records, rec)
	}
	return s.db.db.Update(func(tx *bolt.Tx) error {
		root, err := bucket(tx, messagesBucket)
		if err != nil {
			return err
		}
		name := []byte(conv)
		if err := root.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		bkt, err := root.CreateBucket(name)
		if err != nil {
			return err
		}
		for i, rec := range records {
			if err := put(bkt, be32(uint32(i)), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadMessages returns the stored timeline of conv, oldest first.
func (s *MessageStore) LoadMessages(conv domain.ConversationID) ([]domain.Message, error) {
	var records []messageRecord
	err := s.db.db.View(func(tx *bolt.Tx) error {
		root, err := bucket(tx, messagesBucket)
		if err != nil {
			return err
		}
		bkt := root.Bucket([]byte(conv))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, _ []byte) error {
			var rec messageRecord
			if _, err := get(bkt, k, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(records))
	for _, rec := range records {
		m := rec.Message
		if len(rec.Payload) > 0 {
			p, _, err := wire.DecodePayload(rec.Payload)
			if err != nil {
				return nil, err
			}
			m.Payload = p
		}
		out = append(out, m)
	}
	return out, nil
}

var _ domain.MessageStore = (*MessageStore)(nil)
