package store

import (
	"context"

	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
)

// TieredStore composes an in-memory hot tier over a durable tier.
// Writes go through to the durable store first; the cache is updated
// only after the durable write succeeds. Reads are served from memory
// when possible and fall back to the durable store on a miss.
type TieredStore struct {
	cache   *MemoryStore
	durable Store
}

// NewTieredStore wraps the durable store with an in-memory hot tier.
func NewTieredStore(durable Store) *TieredStore {
	return &TieredStore{
		cache:   NewMemoryStore(),
		durable: durable,
	}
}

// Load implements the SessionStore interface.
func (t *TieredStore) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := t.cache.Load(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !fault.IsNotFound(err) {
		return nil, err
	}

	sess, err = t.durable.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	_ = t.cache.Commit(ctx, sess)
	return sess, nil
}

// Commit implements the SessionStore interface.
func (t *TieredStore) Commit(ctx context.Context, sess *session.Session) error {
	if err := t.durable.Commit(ctx, sess); err != nil {
		return err
	}
	// Terminal sessions are evicted rather than cached. They are read
	// again only on idempotent replay, which can afford the disk hit.
	if sess.Status.IsTerminal() {
		t.cache.Delete(sess.SessionID)
		return nil
	}
	return t.cache.Commit(ctx, sess)
}

// AppendMessage implements the SessionStore interface.
func (t *TieredStore) AppendMessage(ctx context.Context, sessionID string, msg session.Message) error {
	if err := t.durable.AppendMessage(ctx, sessionID, msg); err != nil {
		return err
	}
	if err := t.cache.AppendMessage(ctx, sessionID, msg); err != nil && !fault.IsNotFound(err) {
		return err
	}
	return nil
}

// Get implements the PreferenceStore interface.
func (t *TieredStore) Get(ctx context.Context, externalUserID string) (session.Preferences, error) {
	prefs, err := t.cache.Get(ctx, externalUserID)
	if err == nil && !prefs.IsZero() {
		return prefs, nil
	}

	prefs, err = t.durable.Get(ctx, externalUserID)
	if err != nil {
		return session.Preferences{}, err
	}
	if !prefs.IsZero() {
		_ = t.cache.Put(ctx, externalUserID, prefs.Fields())
	}
	return prefs, nil
}

// Put implements the PreferenceStore interface.
func (t *TieredStore) Put(ctx context.Context, externalUserID string, fields map[string]string) error {
	if err := t.durable.Put(ctx, externalUserID, fields); err != nil {
		return err
	}
	t.cache.DropPreferences(externalUserID)
	return nil
}

// InvalidatePreferences drops the hot-tier copy of a customer's
// preferences, forcing the next Get to hit the durable store.
func (t *TieredStore) InvalidatePreferences(externalUserID string) {
	t.cache.DropPreferences(externalUserID)
}

// Ensure TieredStore implements Store.
var _ Store = (*TieredStore)(nil)
