/*
store.go - Record Store contract consumed by the engine

PURPOSE:
  Defines the interface between the engine and durable storage. Each key
  holds one JSON document. The engine never assumes plain last-writer-wins
  overwrite is safe: every mutation goes through an atomic
  read-modify-write executed with mutual exclusion per key.

WHY VERSIONED DOCUMENTS:
  The system this engine replaces persisted whole JSON files with
  last-write-wins overwrite. Two concurrent payment approvals against such
  a store can silently lose one payment's cycle reset. Version-stamped
  documents with compare-and-set make that race a detectable, retryable
  ErrStoreConflict instead of silent data loss.

KEYS:
  pricing-policy        Global prices + per-worker overrides
  harvest-ledger        Append-only harvest event log (engine reads only)
  payment-cycle/<id>    Per-worker cycle start + payment history
  quota-state           Per-worker and per-group targets
  worker-roster         Worker records (owned by administration)

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory, for tests and development
  - store/sqlite/sqlite.go: Durable single-file store (WAL mode)

SEE ALSO:
  - earnings.go: MarkPaid requires the TxRecordStore extension
*/
package engine

import (
	"context"
	"encoding/json"
)

// =============================================================================
// DOCUMENT KEYS
// =============================================================================

const (
	KeyPricingPolicy = "pricing-policy"
	KeyHarvestLedger = "harvest-ledger"
	KeyQuotaState    = "quota-state"
	KeyWorkerRoster  = "worker-roster"

	paymentCyclePrefix = "payment-cycle/"
)

// KeyPaymentCycle returns the per-worker cycle document key.
func KeyPaymentCycle(id WorkerID) string {
	return paymentCyclePrefix + string(id)
}

// =============================================================================
// DOCUMENT - Version-stamped JSON blob
// =============================================================================

// Document is one stored JSON value. Version increases by exactly one on
// every committed write; version 0 never exists in the store, so a zero
// Document always means "absent".
type Document struct {
	Key     string
	Version int64
	Data    json.RawMessage
}

// Exists reports whether the document was present in the store.
func (d Document) Exists() bool { return d.Version > 0 }

// =============================================================================
// RECORD STORE - The engine's only storage boundary
// =============================================================================

// ModifyFunc transforms the current document body into the next one.
// It receives the zero Document when the key is absent. Returning an
// error aborts the write and propagates unchanged.
type ModifyFunc func(current Document) (json.RawMessage, error)

// RecordStore is a durable key -> JSON document store.
//
// ReadModifyWrite is the minimum primitive the engine requires: the
// read-transform-write sequence commits only if no concurrent writer
// changed the key in between. Implementations may serialize writers per
// key, use optimistic version checks, or both; either way the caller
// observes ErrStoreConflict rather than a lost update.
type RecordStore interface {
	// Get returns the current document for key, or ErrNotFound.
	Get(ctx context.Context, key string) (Document, error)

	// ReadModifyWrite atomically replaces the document at key with the
	// result of fn. Returns the committed document.
	ReadModifyWrite(ctx context.Context, key string, fn ModifyFunc) (Document, error)
}

// TxRecordStore extends RecordStore with multi-key transactions.
//
// MarkPaid mutates two documents (the worker's payment cycle and the
// quota state) that must commit as one unit. WithTx executes fn against
// a store view whose writes all land or none do.
type TxRecordStore interface {
	RecordStore

	// WithTx executes fn within a transaction.
	// If fn returns an error the transaction is rolled back and the
	// error propagates; otherwise all writes commit together.
	WithTx(ctx context.Context, fn func(RecordStore) error) error
}

// =============================================================================
// DOCUMENT HELPERS
// =============================================================================

// DecodeInto unmarshals the document body into v. An absent document is
// left untouched so callers can pre-fill defaults. Malformed stored JSON
// is an error here: documents are written by this codebase, so garbage
// indicates corruption rather than old loosely-typed writers.
func (d Document) DecodeInto(v any) error {
	if !d.Exists() || len(d.Data) == 0 {
		return nil
	}
	return json.Unmarshal(d.Data, v)
}
