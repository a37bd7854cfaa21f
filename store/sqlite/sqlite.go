/*
Package sqlite provides a SQLite-backed implementation of the Record Store.

PURPOSE:
  Durable key -> JSON-document storage with version-stamped rows and
  compare-and-set updates. This is the layer that turns the old
  "overwrite the whole JSON file, last writer wins" persistence into
  something that cannot silently lose a concurrent payment.

INTERFACES IMPLEMENTED:
  engine.RecordStore:   Get, ReadModifyWrite
  engine.TxRecordStore: WithTx (multi-key atomic commits)

COMPARE-AND-SET:
  Every row carries a version. Updates are
    UPDATE records SET version = v+1, ... WHERE key = ? AND version = v
  Zero rows affected means a concurrent writer won; the caller's
  transform is re-run a bounded number of times, then the operation
  fails with ErrStoreConflict (retryable, never silently swallowed).

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

  The connection pool is capped at one connection: the store is a small
  set of documents behind per-key mutual exclusion, and a single
  connection also makes ":memory:" databases behave in tests.

USAGE:
  st, err := sqlite.New("./data/fleet.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

  eng := engine.New(st, roster, inception)

SEE ALSO:
  - engine/store.go: Contract definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tidewater/fleet-engine/engine"
)

// Store implements engine.TxRecordStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite record store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Versioned documents. One row per logical key; version increases by
	-- exactly one per committed write and is the compare-and-set stamp.
	CREATE TABLE IF NOT EXISTS records (
		key        TEXT PRIMARY KEY,
		version    INTEGER NOT NULL,
		doc        TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE (engine.RecordStore interface)
// =============================================================================

// Get returns the current document for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (engine.Document, error) {
	return s.get(ctx, s.db, key)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) get(ctx context.Context, db querier, key string) (engine.Document, error) {
	var (
		version int64
		doc     string
	)
	err := db.QueryRowContext(ctx,
		"SELECT version, doc FROM records WHERE key = ?", key,
	).Scan(&version, &doc)

	if errors.Is(err, sql.ErrNoRows) {
		return engine.Document{}, fmt.Errorf("%s: %w", key, engine.ErrNotFound)
	}
	if err != nil {
		return engine.Document{}, unavailable("get "+key, err)
	}
	return engine.Document{Key: key, Version: version, Data: json.RawMessage(doc)}, nil
}

// rmwAttempts bounds the optimistic retry loop before the conflict is
// surfaced to the caller as retryable.
const rmwAttempts = 3

// ReadModifyWrite atomically replaces the document at key with the
// result of fn, using a version-checked update.
func (s *Store) ReadModifyWrite(ctx context.Context, key string, fn engine.ModifyFunc) (engine.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readModifyWrite(ctx, s.db, key, fn)
}

func (s *Store) readModifyWrite(ctx context.Context, db querier, key string, fn engine.ModifyFunc) (engine.Document, error) {
	for attempt := 0; attempt < rmwAttempts; attempt++ {
		current, err := s.get(ctx, db, key)
		if err != nil && !engine.IsNotFound(err) {
			return engine.Document{}, err
		}

		data, err := fn(current)
		if err != nil {
			return engine.Document{}, err
		}

		committed, err := s.compareAndSwap(ctx, db, key, current.Version, data)
		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, engine.ErrStoreConflict) {
			return engine.Document{}, err
		}
		// A writer outside this process won between our read and write;
		// re-run fn against the fresh document.
	}
	return engine.Document{}, &engine.ConflictError{Key: key, Attempts: rmwAttempts}
}

// compareAndSwap commits data iff the stored version still equals
// expectVersion (0 = row absent).
func (s *Store) compareAndSwap(ctx context.Context, db querier, key string, expectVersion int64, data json.RawMessage) (engine.Document, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var (
		res sql.Result
		err error
	)
	if expectVersion == 0 {
		res, err = db.ExecContext(ctx,
			"INSERT INTO records (key, version, doc, updated_at) VALUES (?, 1, ?, ?) ON CONFLICT(key) DO NOTHING",
			key, string(data), now,
		)
	} else {
		res, err = db.ExecContext(ctx,
			"UPDATE records SET version = version + 1, doc = ?, updated_at = ? WHERE key = ? AND version = ?",
			string(data), now, key, expectVersion,
		)
	}
	if err != nil {
		return engine.Document{}, unavailable("write "+key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return engine.Document{}, unavailable("write "+key, err)
	}
	if n == 0 {
		return engine.Document{}, fmt.Errorf("%s: stale version %d: %w", key, expectVersion, engine.ErrStoreConflict)
	}

	return engine.Document{Key: key, Version: expectVersion + 1, Data: append(json.RawMessage(nil), data...)}, nil
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxRecordStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. All document writes
// made through the provided store view commit together or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(engine.RecordStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer sqlTx.Rollback()

	view := &txStore{tx: sqlTx, parent: s}
	if err := fn(view); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return unavailable("commit tx", err)
	}
	return nil
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Get(ctx context.Context, key string) (engine.Document, error) {
	return ts.parent.get(ctx, ts.tx, key)
}

func (ts *txStore) ReadModifyWrite(ctx context.Context, key string, fn engine.ModifyFunc) (engine.Document, error) {
	return ts.parent.readModifyWrite(ctx, ts.tx, key, fn)
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset deletes every record. Development and demo tooling only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return unavailable("reset", err)
	}
	return nil
}

// =============================================================================
// ERRORS
// =============================================================================

// unavailable tags database-level failures as transient and retryable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(engine.ErrStoreUnavailable, err))
}
