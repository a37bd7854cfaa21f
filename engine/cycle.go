/*
cycle.go - Per-worker payment-cycle state

PURPOSE:
  Tracks, per worker, when the current earning cycle started and the
  history of past payments. The cycle start is the timestamp from which
  accrued-but-unpaid quantity is counted.

STATE MACHINE:
  Two states per worker: Accruing (normal) and JustPaid (transient).
  RecordPayment is the only transition, and it collapses immediately
  back to Accruing with a new cycle start. There is no "pending payment"
  state: a payment is recorded atomically or not at all.

INVARIANTS:
  - cycleStartAt is monotonically non-decreasing across the worker's
    lifetime. A payment can only move it forward; an attempt to move it
    backward fails with ErrStaleCycle inside the write transform, so the
    check and the write commit together.
  - Payment history is append-only.
  - A worker with no cycle document uses the organization-wide inception
    instant. The document is created lazily by the first payment.

SEE ALSO:
  - earnings.go: the only caller of RecordPayment
*/
package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// =============================================================================
// CYCLE DOCUMENT - Stored shape (one per worker)
// =============================================================================

type cycleDocument struct {
	CycleStartAt TimePoint       `json:"cycle_start_at"`
	Payments     []PaymentRecord `json:"payments,omitempty"`
}

// lastPayment returns the most recent payment, if any.
func (d cycleDocument) lastPayment() (PaymentRecord, bool) {
	if len(d.Payments) == 0 {
		return PaymentRecord{}, false
	}
	return d.Payments[len(d.Payments)-1], true
}

// =============================================================================
// CYCLE TRACKER
// =============================================================================

// CycleTracker reads and advances per-worker payment-cycle state.
type CycleTracker struct {
	store RecordStore

	// inception is the organization-wide cycle start applied to workers
	// that have never been paid.
	inception TimePoint
}

func NewCycleTracker(store RecordStore, inception TimePoint) *CycleTracker {
	return &CycleTracker{store: store, inception: inception}
}

// Inception returns the process-wide default cycle start.
func (t *CycleTracker) Inception() TimePoint { return t.inception }

// CycleStart returns when the worker's current earning cycle started.
// Workers with no recorded payment use the inception instant.
func (t *CycleTracker) CycleStart(ctx context.Context, id WorkerID) (TimePoint, error) {
	return t.CycleStartFrom(ctx, t.store, id)
}

// CycleStartFrom is CycleStart through an explicit store view. MarkPaid
// always re-reads the cycle start fresh through its transaction; caching
// it across calls is exactly the bug the idempotency property forbids.
func (t *CycleTracker) CycleStartFrom(ctx context.Context, store RecordStore, id WorkerID) (TimePoint, error) {
	doc, err := t.load(ctx, store, id)
	if err != nil {
		return TimePoint{}, err
	}
	if doc.CycleStartAt.IsZero() {
		return t.inception, nil
	}
	return doc.CycleStartAt, nil
}

// LastPayment returns the worker's most recent payment, if any.
func (t *CycleTracker) LastPayment(ctx context.Context, id WorkerID) (PaymentRecord, bool, error) {
	doc, err := t.load(ctx, t.store, id)
	if err != nil {
		return PaymentRecord{}, false, err
	}
	p, ok := doc.lastPayment()
	return p, ok, nil
}

// PaymentHistory returns all recorded payments, oldest first.
func (t *CycleTracker) PaymentHistory(ctx context.Context, id WorkerID) ([]PaymentRecord, error) {
	doc, err := t.load(ctx, t.store, id)
	if err != nil {
		return nil, err
	}
	return doc.Payments, nil
}

// RecordPaymentFrom applies the pay transition through the given store
// view: cycle start moves to payment.PaidAt and the payment is appended
// to history. Fails with ErrStaleCycle if that would move the cycle
// start backward.
func (t *CycleTracker) RecordPaymentFrom(ctx context.Context, store RecordStore, id WorkerID, payment PaymentRecord) error {
	key := KeyPaymentCycle(id)
	_, err := store.ReadModifyWrite(ctx, key, func(cur Document) (json.RawMessage, error) {
		var doc cycleDocument
		if err := cur.DecodeInto(&doc); err != nil {
			return nil, fmt.Errorf("decode cycle state for %s: %w", id, err)
		}

		current := doc.CycleStartAt
		if current.IsZero() {
			current = t.inception
		}
		if payment.PaidAt.Before(current) {
			return nil, fmt.Errorf("paid at %s, cycle started %s: %w",
				payment.PaidAt, current, ErrStaleCycle)
		}

		doc.CycleStartAt = payment.PaidAt
		doc.Payments = append(doc.Payments, payment)
		return json.Marshal(doc)
	})
	if err != nil {
		return err
	}
	return nil
}

func (t *CycleTracker) load(ctx context.Context, store RecordStore, id WorkerID) (cycleDocument, error) {
	var doc cycleDocument
	raw, err := store.Get(ctx, KeyPaymentCycle(id))
	if err != nil {
		if IsNotFound(err) {
			return doc, nil // lazily created on first payment
		}
		return doc, fmt.Errorf("load cycle state for %s: %w", id, err)
	}
	if err := raw.DecodeInto(&doc); err != nil {
		return cycleDocument{}, fmt.Errorf("decode cycle state for %s: %w", id, err)
	}
	return doc, nil
}
