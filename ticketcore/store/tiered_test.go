package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
)

func newTestTieredStore() (*TieredStore, *MemoryStore) {
	durable := NewMemoryStore()
	return NewTieredStore(durable), durable
}

// =============================================================================
// SESSION TIERING
// =============================================================================

func TestTieredStoreLoadBackfillsCache(t *testing.T) {
	tiered, durable := newTestTieredStore()
	ctx := context.Background()

	// session exists only in the durable tier
	require.NoError(t, durable.Commit(ctx, session.NewSession("ticket_1", "user_1")))

	loaded, err := tiered.Load(ctx, "ticket_1")
	require.NoError(t, err)
	assert.Equal(t, "ticket_1", loaded.SessionID)

	// second load is served from the hot tier
	cached, err := tiered.cache.Load(ctx, "ticket_1")
	require.NoError(t, err)
	assert.Equal(t, "ticket_1", cached.SessionID)
}

func TestTieredStoreLoadMiss(t *testing.T) {
	tiered, _ := newTestTieredStore()

	_, err := tiered.Load(context.Background(), "ticket_missing")
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
}

func TestTieredStoreCommitWritesBothTiers(t *testing.T) {
	tiered, durable := newTestTieredStore()
	ctx := context.Background()

	require.NoError(t, tiered.Commit(ctx, session.NewSession("ticket_1", "user_1")))

	_, err := durable.Load(ctx, "ticket_1")
	require.NoError(t, err)
	_, err = tiered.cache.Load(ctx, "ticket_1")
	require.NoError(t, err)
}

func TestTieredStoreEvictsTerminalSessions(t *testing.T) {
	tiered, durable := newTestTieredStore()
	ctx := context.Background()

	sess := session.NewSession("ticket_1", "user_1")
	require.NoError(t, tiered.Commit(ctx, sess))

	require.NoError(t, sess.MarkResolved())
	require.NoError(t, tiered.Commit(ctx, sess))

	// the hot tier dropped it, the durable tier kept it
	_, err := tiered.cache.Load(ctx, "ticket_1")
	assert.True(t, fault.IsNotFound(err))

	loaded, err := durable.Load(ctx, "ticket_1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusResolved, loaded.Status)

	// replay reads still work through the tiered view
	loaded, err = tiered.Load(ctx, "ticket_1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusResolved, loaded.Status)
}

func TestTieredStoreAppendMessage(t *testing.T) {
	tiered, durable := newTestTieredStore()
	ctx := context.Background()

	require.NoError(t, tiered.Commit(ctx, session.NewSession("ticket_1", "user_1")))

	msg := session.Message{MessageID: "msg_1", Role: session.RoleCustomer, Content: "hi"}
	require.NoError(t, tiered.AppendMessage(ctx, "ticket_1", msg))

	loaded, err := durable.Load(ctx, "ticket_1")
	require.NoError(t, err)
	require.Len(t, loaded.Conversation, 1)

	cached, err := tiered.cache.Load(ctx, "ticket_1")
	require.NoError(t, err)
	require.Len(t, cached.Conversation, 1)
}

func TestTieredStoreAppendToleratesColdCache(t *testing.T) {
	tiered, durable := newTestTieredStore()
	ctx := context.Background()

	// durable only; the hot tier never saw this session
	require.NoError(t, durable.Commit(ctx, session.NewSession("ticket_1", "user_1")))

	msg := session.Message{MessageID: "msg_1", Role: session.RoleCustomer, Content: "hi"}
	require.NoError(t, tiered.AppendMessage(ctx, "ticket_1", msg))

	loaded, err := durable.Load(ctx, "ticket_1")
	require.NoError(t, err)
	require.Len(t, loaded.Conversation, 1)
}

// =============================================================================
// PREFERENCE TIERING
// =============================================================================

func TestTieredStorePreferenceBackfill(t *testing.T) {
	tiered, durable := newTestTieredStore()
	ctx := context.Background()

	require.NoError(t, durable.Put(ctx, "user_1", map[string]string{"preferred_language": "it"}))

	prefs, err := tiered.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "it", prefs.PreferredLanguage)

	cached, err := tiered.cache.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "it", cached.PreferredLanguage)
}

func TestTieredStorePutInvalidatesCache(t *testing.T) {
	tiered, durable := newTestTieredStore()
	ctx := context.Background()

	require.NoError(t, tiered.Put(ctx, "user_1", map[string]string{"preferred_language": "it"}))
	_, err := tiered.Get(ctx, "user_1") // warms the cache
	require.NoError(t, err)

	require.NoError(t, tiered.Put(ctx, "user_1", map[string]string{"preferred_language": "pt"}))

	cached, err := tiered.cache.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, cached.IsZero(), "stale cache entry must be dropped on write")

	prefs, err := tiered.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "pt", prefs.PreferredLanguage)

	durablePrefs, err := durable.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "pt", durablePrefs.PreferredLanguage)
}

func TestTieredStoreInvalidatePreferences(t *testing.T) {
	tiered, durable := newTestTieredStore()
	ctx := context.Background()

	require.NoError(t, tiered.Put(ctx, "user_1", map[string]string{"notes": "old"}))
	_, err := tiered.Get(ctx, "user_1")
	require.NoError(t, err)

	// a write behind the tiered store's back, then an explicit invalidation
	require.NoError(t, durable.Put(ctx, "user_1", map[string]string{"notes": "new"}))
	tiered.InvalidatePreferences("user_1")

	prefs, err := tiered.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "new", prefs.Notes)
}
