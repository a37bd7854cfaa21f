// Package store provides RecordStore implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidewater/fleet-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory versioned document store. Writes go through
// compare-and-set, so it exhibits the same conflict behavior as the
// durable store and tests can exercise lost-update scenarios for real.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]engine.Document
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]engine.Document)}
}

// Get returns a copy of the current document, or ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) (engine.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[key]
	if !ok {
		return engine.Document{}, fmt.Errorf("%s: %w", key, engine.ErrNotFound)
	}
	return copyDocument(doc), nil
}

// CompareAndSwap commits data at key iff the stored version still equals
// expectVersion (0 = key absent). Returns the committed document, or
// ErrStoreConflict if a concurrent writer got there first.
func (m *Memory) CompareAndSwap(_ context.Context, key string, expectVersion int64, data json.RawMessage) (engine.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.casLocked(key, expectVersion, data)
}

func (m *Memory) casLocked(key string, expectVersion int64, data json.RawMessage) (engine.Document, error) {
	current := m.docs[key] // zero Document (version 0) when absent
	if current.Version != expectVersion {
		return engine.Document{}, fmt.Errorf("%s: version %d != %d: %w",
			key, current.Version, expectVersion, engine.ErrStoreConflict)
	}

	next := engine.Document{
		Key:     key,
		Version: expectVersion + 1,
		Data:    append(json.RawMessage(nil), data...),
	}
	m.docs[key] = next
	return copyDocument(next), nil
}

// rmwAttempts bounds the optimistic retry loop before surfacing a
// conflict to the caller.
const rmwAttempts = 3

// ReadModifyWrite runs fn against the current document and commits the
// result via compare-and-set, retrying a bounded number of times.
func (m *Memory) ReadModifyWrite(ctx context.Context, key string, fn engine.ModifyFunc) (engine.Document, error) {
	for attempt := 0; attempt < rmwAttempts; attempt++ {
		m.mu.RLock()
		current := copyDocument(m.docs[key])
		m.mu.RUnlock()

		data, err := fn(current)
		if err != nil {
			return engine.Document{}, err
		}

		committed, err := m.CompareAndSwap(ctx, key, current.Version, data)
		if err == nil {
			return committed, nil
		}
		if !engine.IsRetryable(err) {
			return engine.Document{}, err
		}
	}
	return engine.Document{}, &engine.ConflictError{Key: key, Attempts: rmwAttempts}
}

// Reset clears every document. Development and demo tooling only.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]engine.Document)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with multi-key transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// a snapshot of the whole document map, restored if fn fails.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.RecordStore) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshotLocked()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.docs = snapshot
		return err
	}
	return nil
}

func (tm *TxMemory) snapshotLocked() map[string]engine.Document {
	out := make(map[string]engine.Document, len(tm.docs))
	for k, v := range tm.docs {
		out[k] = copyDocument(v)
	}
	return out
}

// txMemoryView operates on the parent's maps while the parent holds its
// own lock for the duration of the transaction.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Get(_ context.Context, key string) (engine.Document, error) {
	doc, ok := tv.parent.docs[key]
	if !ok {
		return engine.Document{}, fmt.Errorf("%s: %w", key, engine.ErrNotFound)
	}
	return copyDocument(doc), nil
}

func (tv *txMemoryView) ReadModifyWrite(_ context.Context, key string, fn engine.ModifyFunc) (engine.Document, error) {
	current := copyDocument(tv.parent.docs[key])
	data, err := fn(current)
	if err != nil {
		return engine.Document{}, err
	}
	// No interleaving is possible inside the transaction, so the swap
	// cannot conflict with the version just read.
	return tv.parent.casLocked(key, current.Version, data)
}

// =============================================================================
// HELPERS
// =============================================================================

func copyDocument(doc engine.Document) engine.Document {
	doc.Data = append(json.RawMessage(nil), doc.Data...)
	return doc
}
