package store

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"pulse/internal/domain"
)

// SessionStore keeps every pairwise session by id, plus an index of the
// active session per peer.
type SessionStore struct {
	db *DB
}

// Sessions returns the session store backed by d.
func (d *DB) Sessions() *SessionStore { return &SessionStore{db: d} }

// ActivateSession stores s as the active session for its peer. A different
// session previously active for that peer is kept but marked superseded.
func (s *SessionStore) ActivateSession(st domain.SessionState, now time.Time) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		sessions, err := bucket(tx, sessionsBucket)
		if err != nil {
			return err
		}
		active, err := bucket(tx, activeBucket)
		if err != nil {
			return err
		}
		peer := []byte(st.PeerUser)
		if cur := active.Get(peer); cur != nil && string(cur) != string(st.SessionID) {
			prevID := append([]byte(nil), cur...)
			var prev domain.SessionState
			ok, err := get(sessions, prevID, &prev)
			if err != nil {
				return err
			}
			if ok {
				prev.Active = false
				prev.SupersededAt = now
				if err := put(sessions, prevID, prev); err != nil {
					return err
				}
			}
		}
		st.Active = true
		st.SupersededAt = time.Time{}
		if err := put(sessions, []byte(st.SessionID), st); err != nil {
			return err
		}
		return active.Put(peer, []byte(st.SessionID))
	})
}

// SaveSession writes st without touching the active index.
func (s *SessionStore) SaveSession(st domain.SessionState) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		sessions, err := bucket(tx, sessionsBucket)
		if err != nil {
			return err
		}
		return put(sessions, []byte(st.SessionID), st)
	})
}

// LoadSession returns the active session for peer.
func (s *SessionStore) LoadSession(peer domain.UserID) (domain.SessionState, bool, error) {
	var st domain.SessionState
	var ok bool
	err := s.db.db.View(func(tx *bolt.Tx) error {
		sessions, err := bucket(tx, sessionsBucket)
		if err != nil {
			return err
		}
		active, err := bucket(tx, activeBucket)
		if err != nil {
			return err
		}
		id := active.Get([]byte(peer))
		if id == nil {
			return nil
		}
		ok, err = get(sessions, id, &st)
		return err
	})
	return st, ok, err
}

func (s *SessionStore) LoadSessionByID(id domain.SessionID) (domain.SessionState, bool, error) {
	var st domain.SessionState
	var ok bool
	err := s.db.db.View(func(tx *bolt.Tx) error {
		sessions, err := bucket(tx, sessionsBucket)
		if err != nil {
			return err
		}
		ok, err = get(sessions, []byte(id), &st)
		return err
	})
	return st, ok, err
}

// ListSessions returns every session held with peer, or every session at
// all when peer is empty.
func (s *SessionStore) ListSessions(peer domain.UserID) ([]domain.SessionState, error) {
	var out []domain.SessionState
	err := s.db.db.View(func(tx *bolt.Tx) error {
		sessions, err := bucket(tx, sessionsBucket)
		if err != nil {
			return err
		}
		return sessions.ForEach(func(k, _ []byte) error {
			var st domain.SessionState
			if _, err := get(sessions, k, &st); err != nil {
				return err
			}
			if peer == "" || st.PeerUser == peer {
				out = append(out, st)
			}
			return nil
		})
	})
	return out, err
}

// DeleteSession removes a session and, if it was active, its index entry.
func (s *SessionStore) DeleteSession(id domain.SessionID) error {
	return s.db.db.Update(func(tx *bolt.Tx) error {
		sessions, err := bucket(tx, sessionsBucket)
		if err != nil {
			return err
		}
		active, err := bucket(tx, activeBucket)
		if err != nil {
			return err
		}
		var st domain.SessionState
		ok, err := get(sessions, []byte(id), &st)
		if err != nil || !ok {
			return err
		}
		if cur := active.Get([]byte(st.PeerUser)); string(cur) == string(id) {
			if err := active.Delete([]byte(st.PeerUser)); err != nil {
				return err
			}
		}
		return sessions.Delete([]byte(id))
	})
}

var _ domain.SessionStore = (*SessionStore)(nil)
