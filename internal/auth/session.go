// Package auth issues and validates the opaque session tokens behind the
// service's cookie login.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidUserID is returned when a session is requested for an empty
// user identifier.
var ErrInvalidUserID = errors.New("auth: user id is required")

// SessionStore defines the persistence contract for session tokens.
type SessionStore interface {
	Save(token, userID string, expiresAt time.Time) error
	Get(token string) (SessionRecord, bool, error)
	Delete(token string) error
	PurgeExpired(now time.Time) error
}

// SessionRecord is a session row retrieved from the backing store.
type SessionRecord struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// SessionOption configures a SessionManager.
type SessionOption func(*SessionManager)

// WithStore injects a custom SessionStore implementation.
func WithStore(store SessionStore) SessionOption {
	return func(m *SessionManager) {
		m.store = store
	}
}

// WithTokenLength sets the token byte length for new sessions.
func WithTokenLength(length int) SessionOption {
	return func(m *SessionManager) {
		if length > 0 {
			m.tokenLength = length
		}
	}
}

// SessionManager coordinates session creation and validation against a
// backing store.
type SessionManager struct {
	store        SessionStore
	ttl          time.Duration
	tokenLength  int
	tokenFactory func(int) (string, error)
	now          func() time.Time
}

// NewSessionManager constructs a manager with the provided TTL, defaulting
// to 7 days and an in-memory store.
func NewSessionManager(ttl time.Duration, opts ...SessionOption) *SessionManager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	manager := &SessionManager{
		ttl:          ttl,
		tokenLength:  32,
		tokenFactory: generateToken,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemorySessionStore()
	}
	return manager
}

// Create issues a new session token for the given user.
func (m *SessionManager) Create(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrInvalidUserID
	}
	token, err := m.tokenFactory(m.tokenLength)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := m.now().Add(m.ttl).UTC()
	if err := m.store.Save(token, userID, expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate resolves a token to its user. Expired tokens are deleted on
// sight and reported as absent.
func (m *SessionManager) Validate(token string) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	record, ok, err := m.store.Get(token)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	if m.now().After(record.ExpiresAt) {
		_ = m.store.Delete(token)
		return "", false, nil
	}
	return record.UserID, true, nil
}

// Destroy removes a session, logging the user out.
func (m *SessionManager) Destroy(token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(token)
}

// PurgeExpired drops all sessions past their expiry.
func (m *SessionManager) PurgeExpired() error {
	return m.store.PurgeExpired(m.now())
}

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
