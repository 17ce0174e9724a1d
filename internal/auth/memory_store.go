package auth

import (
	"sync"
	"time"
)

// MemorySessionStore keeps sessions in process memory. Sessions do not
// survive a restart, which is acceptable for single-node deployments where
// users simply log in again.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore returns an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionRecord)}
}

func (s *MemorySessionStore) Save(token, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = SessionRecord{Token: token, UserID: userID, ExpiresAt: expiresAt}
	return nil
}

func (s *MemorySessionStore) Get(token string) (SessionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.sessions[token]
	return record, ok, nil
}

func (s *MemorySessionStore) Delete(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *MemorySessionStore) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, record := range s.sessions {
		if now.After(record.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
	return nil
}
