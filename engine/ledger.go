/*
ledger.go - Harvest ledger reads

PURPOSE:
  The harvest ledger is the append-only log of everything the fleet has
  harvested. The engine CONSUMES it, filtered by worker and time window;
  it never writes it. Appending happens at the boundary (fleet package),
  deletion only via admin override outside this core.

WINDOW SEMANTICS:
  All windows are closed on the left: an event at exactly the cycle
  start belongs to the new cycle. SumInWindow is closed on both ends.

DEFENSIVE READS:
  A stored event lacking a timestamp is NOT countable. Including it in
  "everything since X" would mean unbounded inclusion - it would be paid
  again in every cycle forever. Negative quantities coerce to zero when
  summing; the write boundary rejects them, the engine merely refuses to
  let stored garbage corrupt a payment.

TWO INDEPENDENT WINDOWS:
  The same ledger is read through two unrelated windows:
  - payment cycle:  [cycleStart, asOf]   - worker-controlled, arbitrary
  - quota window:   [weekStart, weekEnd] - fixed calendar period
  These must never be collapsed into one.

SEE ALSO:
  - earnings.go: cycle-window reads
  - quota.go: calendar-window reads
*/
package engine

import (
	"context"
	"fmt"
)

// =============================================================================
// LEDGER DOCUMENT - Stored shape (shared with the fleet write boundary)
// =============================================================================

// LedgerDocument is the JSON shape under the harvest-ledger key.
type LedgerDocument struct {
	Events []HarvestEvent `json:"events"`
}

// =============================================================================
// LEDGER - Read-only view over the harvest event log
// =============================================================================

// Ledger reads the harvest event log. Read-only by construction: there
// is no append here, and no update or delete anywhere.
type Ledger struct {
	store RecordStore
}

func NewLedger(store RecordStore) *Ledger {
	return &Ledger{store: store}
}

// EventsFor returns the worker's events, unfiltered, in stored order.
func (l *Ledger) EventsFor(ctx context.Context, id WorkerID) ([]HarvestEvent, error) {
	doc, err := l.loadDocument(ctx, l.store)
	if err != nil {
		return nil, err
	}
	var out []HarvestEvent
	for _, e := range doc.Events {
		if e.WorkerID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// SumSince sums the worker's countable quantity for events at or after
// since (the cycle boundary is closed on the left).
func (l *Ledger) SumSince(ctx context.Context, id WorkerID, since TimePoint) (int64, error) {
	return l.sum(ctx, l.store, id, since, TimePoint{})
}

// SumInWindow sums the worker's countable quantity within [from, to].
func (l *Ledger) SumInWindow(ctx context.Context, id WorkerID, from, to TimePoint) (int64, error) {
	return l.sum(ctx, l.store, id, from, to)
}

// SumInWindowFrom is SumInWindow through an explicit store view, used
// inside MarkPaid transactions so the read is part of the same commit.
func (l *Ledger) SumInWindowFrom(ctx context.Context, store RecordStore, id WorkerID, from, to TimePoint) (int64, error) {
	return l.sum(ctx, store, id, from, to)
}

// sum applies the window filter. A zero `to` means no upper bound.
func (l *Ledger) sum(ctx context.Context, store RecordStore, id WorkerID, from, to TimePoint) (int64, error) {
	doc, err := l.loadDocument(ctx, store)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range doc.Events {
		if e.WorkerID != id {
			continue
		}
		if e.OccurredAt.IsZero() {
			continue // no usable timestamp: not countable in any window
		}
		if e.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.OccurredAt.After(to) {
			continue
		}
		total += e.CountableQuantity()
	}
	return total, nil
}

func (l *Ledger) loadDocument(ctx context.Context, store RecordStore) (LedgerDocument, error) {
	var doc LedgerDocument
	raw, err := store.Get(ctx, KeyHarvestLedger)
	if err != nil {
		if IsNotFound(err) {
			return doc, nil // empty ledger: nothing harvested yet
		}
		return doc, fmt.Errorf("load harvest ledger: %w", err)
	}
	if err := raw.DecodeInto(&doc); err != nil {
		return LedgerDocument{}, fmt.Errorf("decode harvest ledger: %w", err)
	}
	return doc, nil
}
