package store

import (
	"context"
	"sync"

	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
)

// MemoryStore is an in-memory Store. It serves as the hot tier in
// TieredStore and as the backing store in tests. All methods are safe
// for concurrent use. Sessions are deep-copied on both read and write
// so callers never share mutable state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	prefs    map[string]session.Preferences
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session.Session),
		prefs:    make(map[string]session.Preferences),
	}
}

// Load implements the SessionStore interface.
func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fault.NewNotFound("session", sessionID)
	}
	return sess.Clone(), nil
}

// Commit implements the SessionStore interface.
func (m *MemoryStore) Commit(ctx context.Context, sess *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sess.SessionID] = sess.Clone()
	return nil
}

// AppendMessage implements the SessionStore interface.
func (m *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg session.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return fault.NewNotFound("session", sessionID)
	}
	sess.Conversation = append(sess.Conversation, msg)
	sess.UpdatedAt = msg.CreatedAt
	return nil
}

// Delete removes a session. Used by the hot tier to drop closed sessions.
func (m *MemoryStore) Delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Get implements the PreferenceStore interface.
func (m *MemoryStore) Get(ctx context.Context, externalUserID string) (session.Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs[externalUserID], nil
}

// Put implements the PreferenceStore interface.
func (m *MemoryStore) Put(ctx context.Context, externalUserID string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefs := m.prefs[externalUserID]
	prefs.Merge(fields)
	m.prefs[externalUserID] = prefs
	return nil
}

// DropPreferences removes a customer's cached preferences.
func (m *MemoryStore) DropPreferences(externalUserID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prefs, externalUserID)
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
