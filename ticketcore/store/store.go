// Package store provides session and preference persistence.
//
// Two tiers are available: a durable Badger-backed store and an
// in-memory store. TieredStore composes them write-through so hot
// sessions are served from memory while every mutation lands on disk.
package store

import (
	"context"

	"github.com/udahub-cluster/supportcore/ticketcore/session"
)

// SessionStore persists session state documents.
type SessionStore interface {
	// Load returns the session for the given ID, or fault.NotFound.
	Load(ctx context.Context, sessionID string) (*session.Session, error)

	// Commit writes the full session state, replacing any prior version.
	Commit(ctx context.Context, sess *session.Session) error

	// AppendMessage durably appends one message to the session's
	// conversation without rewriting unrelated state.
	AppendMessage(ctx context.Context, sessionID string, msg session.Message) error
}

// PreferenceStore persists per-customer preferences keyed by external
// user ID. Preferences survive across sessions.
type PreferenceStore interface {
	// Get returns the customer's preferences. A customer with no
	// recorded preferences yields the zero value, not an error.
	Get(ctx context.Context, externalUserID string) (session.Preferences, error)

	// Put merges the given fields into the customer's preferences.
	// Unknown field names are ignored.
	Put(ctx context.Context, externalUserID string, fields map[string]string) error
}

// Store is the full persistence surface the orchestrator depends on.
type Store interface {
	SessionStore
	PreferenceStore
}
