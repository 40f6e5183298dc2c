package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teamplayer/imsms-demo/internal/models"
)

// SessionStore keeps demo sessions in memory. All access is serialized by a mutex;
// callers only ever receive copies of the stored records.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	byPhone  map[string][]string // phone number -> session ids in creation order
	byImsID  map[string]string   // consent or demo ims id -> session id
	closed   bool
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*models.Session),
		byPhone:  make(map[string][]string),
		byImsID:  make(map[string]string),
	}
}

// Create stores a new session.
func (s *SessionStore) Create(sess *models.Session) error {
	if sess == nil || sess.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.sessions[sess.SessionID]; exists {
		return fmt.Errorf("create %s: %w", sess.SessionID, ErrDuplicateSession)
	}
	s.sessions[sess.SessionID] = sess.Clone()
	s.byPhone[sess.PhoneNumber] = append(s.byPhone[sess.PhoneNumber], sess.SessionID)
	s.indexImsIDs(sess)
	slog.Debug("SessionStore.Create: session stored", "sessionID", sess.SessionID, "phone", sess.PhoneNumber)
	return nil
}

// Get returns a copy of the session with the given id.
func (s *SessionStore) Get(id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Update applies fn to a copy of the current record and commits the copy when fn
// returns nil. The session id and phone number cannot be changed by fn. The returned
// session is a copy of the committed record, or of the unchanged record when fn fails.
func (s *SessionStore) Update(id string, fn func(*models.Session) error) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return cur.Clone(), err
	}
	next.SessionID = cur.SessionID
	next.PhoneNumber = cur.PhoneNumber
	s.sessions[id] = next
	s.indexImsIDs(next)
	return next.Clone(), nil
}

// FindByPhone returns the first session, in creation order, for the phone number that
// satisfies match. A nil match accepts any session.
func (s *SessionStore) FindByPhone(phoneNumber string, match func(*models.Session) bool) (*models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byPhone[phoneNumber] {
		sess, ok := s.sessions[id]
		if !ok {
			continue
		}
		if match == nil || match(sess) {
			return sess.Clone(), true
		}
	}
	return nil, false
}

// FindByImsID returns the session that sent the message with the given ims id.
func (s *SessionStore) FindByImsID(imsID string) (*models.Session, bool) {
	if imsID == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byImsID[imsID]
	if !ok {
		return nil, false
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// RemoveStale deletes every session last updated before cutoff and returns their ids.
func (s *SessionStore) RemoveStale(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			s.removeLocked(id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Count returns the number of tracked sessions.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close drops every session. Later calls to Create fail with ErrStoreClosed.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sessions = make(map[string]*models.Session)
	s.byPhone = make(map[string][]string)
	s.byImsID = make(map[string]string)
	return nil
}

func (s *SessionStore) indexImsIDs(sess *models.Session) {
	if sess.ConsentImsID != "" {
		s.byImsID[sess.ConsentImsID] = sess.SessionID
	}
	if sess.DemoImsID != "" {
		s.byImsID[sess.DemoImsID] = sess.SessionID
	}
}

func (s *SessionStore) removeLocked(id string) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	ids := s.byPhone[sess.PhoneNumber]
	for i, v := range ids {
		if v == id {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.byPhone, sess.PhoneNumber)
	} else {
		s.byPhone[sess.PhoneNumber] = ids
	}
	if sess.ConsentImsID != "" && s.byImsID[sess.ConsentImsID] == id {
		delete(s.byImsID, sess.ConsentImsID)
	}
	if sess.DemoImsID != "" && s.byImsID[sess.DemoImsID] == id {
		delete(s.byImsID, sess.DemoImsID)
	}
}
