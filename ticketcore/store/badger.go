package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/fault"
	"github.com/udahub-cluster/supportcore/ticketcore/observability"
	"github.com/udahub-cluster/supportcore/ticketcore/session"
)

// Key prefixes for the two record families sharing one keyspace.
const (
	sessionKeyPrefix = "sess:"
	prefKeyPrefix    = "pref:"
)

// BadgerConfig configures the durable store.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory runs Badger without disk persistence. Used by tests.
	InMemory bool

	// SyncWrites forces an fsync on every commit.
	SyncWrites bool

	// GCInterval is how often the value log garbage collector runs.
	// Zero disables the GC loop.
	GCInterval time.Duration
}

// BadgerStore is the durable Store tier backed by BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	logger commbus.Logger
	stopGC chan struct{}
}

// NewBadgerStore opens the database and starts the GC loop if configured.
func NewBadgerStore(cfg BadgerConfig, logger commbus.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = commbus.NopLogger{}
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger path is required")
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", cfg.Path, err)
	}

	s := &BadgerStore{
		db:     db,
		logger: logger.Bind("component", "badger_store"),
		stopGC: make(chan struct{}),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.gcLoop(cfg.GCInterval)
	}
	return s, nil
}

// Close stops the GC loop and closes the database.
func (s *BadgerStore) Close() error {
	close(s.stopGC)
	return s.db.Close()
}

// gcLoop periodically reclaims value log space. Badger returns
// ErrNoRewrite when there is nothing to collect; that is not a failure.
func (s *BadgerStore) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value_log_gc_failed", "error", err.Error())
			}
		case <-s.stopGC:
			return
		}
	}
}

// Load implements the SessionStore interface.
func (s *BadgerStore) Load(ctx context.Context, sessionID string) (*session.Session, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + sessionID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		observability.RecordStoreOperation("load", "miss")
		return nil, fault.NewNotFound("session", sessionID)
	}
	if err != nil {
		observability.RecordStoreOperation("load", "error")
		return nil, fault.NewCollaboratorFailure(fault.CollaboratorPersistence, err)
	}

	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		observability.RecordStoreOperation("load", "error")
		return nil, fault.NewCollaboratorFailure(fault.CollaboratorPersistence,
			fmt.Errorf("corrupt session record %s: %w", sessionID, err))
	}
	observability.RecordStoreOperation("load", "success")
	return session.FromStateDict(state), nil
}

// Commit implements the SessionStore interface.
func (s *BadgerStore) Commit(ctx context.Context, sess *session.Session) error {
	raw, err := json.Marshal(sess.ToStateDict())
	if err != nil {
		return fault.NewCollaboratorFailure(fault.CollaboratorPersistence, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKeyPrefix+sess.SessionID), raw)
	})
	if err != nil {
		observability.RecordStoreOperation("commit", "error")
		return fault.NewCollaboratorFailure(fault.CollaboratorPersistence, err)
	}
	observability.RecordStoreOperation("commit", "success")
	return nil
}

// AppendMessage implements the SessionStore interface. The session is
// read, mutated, and rewritten inside one transaction so concurrent
// appends cannot lose messages.
func (s *BadgerStore) AppendMessage(ctx context.Context, sessionID string, msg session.Message) error {
	key := []byte(sessionKeyPrefix + sessionID)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var state map[string]any
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("corrupt session record %s: %w", sessionID, err)
		}
		sess := session.FromStateDict(state)
		sess.Conversation = append(sess.Conversation, msg)
		sess.UpdatedAt = msg.CreatedAt

		updated, err := json.Marshal(sess.ToStateDict())
		if err != nil {
			return err
		}
		return txn.Set(key, updated)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		observability.RecordStoreOperation("append_message", "miss")
		return fault.NewNotFound("session", sessionID)
	}
	if err != nil {
		observability.RecordStoreOperation("append_message", "error")
		return fault.NewCollaboratorFailure(fault.CollaboratorPersistence, err)
	}
	observability.RecordStoreOperation("append_message", "success")
	return nil
}

// prefsRecord is the stored preference document.
type prefsRecord struct {
	PreferredLanguage string `json:"preferred_language,omitempty"`
	PreferredChannel  string `json:"preferred_channel,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// Get implements the PreferenceStore interface.
func (s *BadgerStore) Get(ctx context.Context, externalUserID string) (session.Preferences, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefKeyPrefix + externalUserID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		observability.RecordStoreOperation("get_preferences", "miss")
		return session.Preferences{}, nil
	}
	if err != nil {
		observability.RecordStoreOperation("get_preferences", "error")
		return session.Preferences{}, fault.NewCollaboratorFailure(fault.CollaboratorPersistence, err)
	}

	var rec prefsRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		observability.RecordStoreOperation("get_preferences", "error")
		return session.Preferences{}, fault.NewCollaboratorFailure(fault.CollaboratorPersistence,
			fmt.Errorf("corrupt preference record %s: %w", externalUserID, err))
	}
	observability.RecordStoreOperation("get_preferences", "success")
	return session.Preferences{
		PreferredLanguage: rec.PreferredLanguage,
		PreferredChannel:  rec.PreferredChannel,
		Notes:             rec.Notes,
	}, nil
}

// Put implements the PreferenceStore interface. The merge happens
// inside one transaction so concurrent updates to different fields
// do not clobber each other.
func (s *BadgerStore) Put(ctx context.Context, externalUserID string, fields map[string]string) error {
	key := []byte(prefKeyPrefix + externalUserID)
	err := s.db.Update(func(txn *badger.Txn) error {
		var rec prefsRecord
		item, err := txn.Get(key)
		if err == nil {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("corrupt preference record %s: %w", externalUserID, err)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		prefs := session.Preferences{
			PreferredLanguage: rec.PreferredLanguage,
			PreferredChannel:  rec.PreferredChannel,
			Notes:             rec.Notes,
		}
		prefs.Merge(fields)

		updated, err := json.Marshal(prefsRecord{
			PreferredLanguage: prefs.PreferredLanguage,
			PreferredChannel:  prefs.PreferredChannel,
			Notes:             prefs.Notes,
		})
		if err != nil {
			return err
		}
		return txn.Set(key, updated)
	})
	if err != nil {
		observability.RecordStoreOperation("put_preferences", "error")
		return fault.NewCollaboratorFailure(fault.CollaboratorPersistence, err)
	}
	observability.RecordStoreOperation("put_preferences", "success")
	return nil
}

// Ensure BadgerStore implements Store.
var _ Store = (*BadgerStore)(nil)
