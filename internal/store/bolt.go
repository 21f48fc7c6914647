package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"pulse/internal/wire"
)

const (
	identityBucket     = "identity"
	metaBucket         = "meta"
	preKeysBucket      = "prekeys"
	signedPreKeyBucket = "signed_prekeys"
	sessionsBucket     = "sessions"
	activeBucket       = "active_sessions"
	convKeysBucket     = "conversation_keys"
	conversationBucket = "conversations"
	messagesBucket     = "messages"
	verifyBucket       = "verifications"
)

var allBuckets = []string{
	identityBucket,
	metaBucket,
	preKeysBucket,
	signedPreKeyBucket,
	sessionsBucket,
	activeBucket,
	convKeysBucket,
	conversationBucket,
	messagesBucket,
	verifyBucket,
}

// DB is the on-disk database shared by every store in this package.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the database file lock.
func (d *DB) Close() error {
	return d.db.Close()
}

func get(bkt *bolt.Bucket, key []byte, out any) (bool, error) {
	raw := bkt.Get(key)
	if raw == nil {
		return false, nil
	}
	if err := wire.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("store: corrupt record %q: %w", key, err)
	}
	return true, nil
}

func put(bkt *bolt.Bucket, key []byte, v any) error {
	raw, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	return bkt.Put(key, raw)
}

func be32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

var errMissingBucket = errors.New("store: missing bucket")

func bucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	bkt := tx.Bucket([]byte(name))
	if bkt == nil {
		return nil, fmt.Errorf("%w %q", errMissingBucket, name)
	}
	return bkt, nil
}
