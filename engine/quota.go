/*
quota.go - Per-worker and per-group harvest targets

PURPOSE:
  Quotas are numeric targets for a fixed calendar period (the current
  week), set by administrators. They are independent of payment cycles:
  a quota window is a calendar artifact, a payment cycle spans whatever
  interval the worker and the administration produce between payments.
  The two windows read the same ledger and must never be collapsed.

LIFECYCLE:
  - Created/edited by admins.
  - The per-worker entry is removed exactly when that worker is paid
    (see earnings.go); the clearing commits in the same transaction as
    the payment.
  - Group quotas are independent and survive individual payments.

SEE ALSO:
  - ledger.go: SumInWindow does the actual counting
*/
package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// =============================================================================
// QUOTA DOCUMENT - Stored shape
// =============================================================================

type quotaDocument struct {
	Workers map[string]int64 `json:"workers,omitempty"`
	Groups  map[string]int64 `json:"groups,omitempty"`
}

// =============================================================================
// QUOTA STORE
// =============================================================================

// Quotas reads and mutates the quota-state document.
type Quotas struct {
	store  RecordStore
	ledger *Ledger
}

func NewQuotas(store RecordStore, ledger *Ledger) *Quotas {
	return &Quotas{store: store, ledger: ledger}
}

// TargetForWorker returns the worker's target quantity for the current
// period, or ErrNoQuota if none is set.
func (q *Quotas) TargetForWorker(ctx context.Context, id WorkerID) (int64, error) {
	doc, err := q.load(ctx, q.store)
	if err != nil {
		return 0, err
	}
	target, ok := doc.Workers[string(id)]
	if !ok {
		return 0, fmt.Errorf("worker %s: %w", id, ErrNoQuota)
	}
	return target, nil
}

// TargetForGroup returns the group's target quantity, or ErrNoQuota.
func (q *Quotas) TargetForGroup(ctx context.Context, g GroupID) (int64, error) {
	doc, err := q.load(ctx, q.store)
	if err != nil {
		return 0, err
	}
	target, ok := doc.Groups[string(g)]
	if !ok {
		return 0, fmt.Errorf("group %s: %w", g, ErrNoQuota)
	}
	return target, nil
}

// SetWorkerTarget sets or replaces the worker's target quantity.
func (q *Quotas) SetWorkerTarget(ctx context.Context, id WorkerID, target int64) error {
	if target < 0 {
		return fmt.Errorf("quota target for %s must be >= 0, got %d", id, target)
	}
	return q.update(ctx, func(doc *quotaDocument) {
		if doc.Workers == nil {
			doc.Workers = make(map[string]int64)
		}
		doc.Workers[string(id)] = target
	})
}

// SetGroupTarget sets or replaces the group's target quantity.
func (q *Quotas) SetGroupTarget(ctx context.Context, g GroupID, target int64) error {
	if target < 0 {
		return fmt.Errorf("quota target for group %s must be >= 0, got %d", g, target)
	}
	return q.update(ctx, func(doc *quotaDocument) {
		if doc.Groups == nil {
			doc.Groups = make(map[string]int64)
		}
		doc.Groups[string(g)] = target
	})
}

// ClearWorker removes the worker's quota entry. No-op if absent.
// Group quotas are left untouched.
func (q *Quotas) ClearWorker(ctx context.Context, id WorkerID) error {
	return q.ClearWorkerFrom(ctx, q.store, id)
}

// ClearWorkerFrom is ClearWorker through an explicit store view, used by
// MarkPaid so the clearing commits with the payment or not at all.
func (q *Quotas) ClearWorkerFrom(ctx context.Context, store RecordStore, id WorkerID) error {
	_, err := store.ReadModifyWrite(ctx, KeyQuotaState, func(cur Document) (json.RawMessage, error) {
		var doc quotaDocument
		if err := cur.DecodeInto(&doc); err != nil {
			return nil, fmt.Errorf("decode quota state: %w", err)
		}
		delete(doc.Workers, string(id))
		return json.Marshal(doc)
	})
	return err
}

// ClearGroup removes a group quota (admin operation).
func (q *Quotas) ClearGroup(ctx context.Context, g GroupID) error {
	return q.update(ctx, func(doc *quotaDocument) {
		delete(doc.Groups, string(g))
	})
}

// =============================================================================
// PROGRESS - Quota-window reads over the harvest ledger
// =============================================================================

// ProgressForWorker sums harvest quantity strictly within [from, to].
// This window is a fixed calendar period and is typically shorter than,
// and always independent of, the worker's payment cycle.
func (q *Quotas) ProgressForWorker(ctx context.Context, id WorkerID, from, to TimePoint) (int64, error) {
	return q.ledger.SumInWindow(ctx, id, from, to)
}

// ProgressForGroup sums the members' progress over the same window.
// Membership is resolved by the caller (the roster owns grouping).
func (q *Quotas) ProgressForGroup(ctx context.Context, members []WorkerID, from, to TimePoint) (int64, error) {
	var total int64
	for _, id := range members {
		n, err := q.ledger.SumInWindow(ctx, id, from, to)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// =============================================================================
// INTERNAL
// =============================================================================

func (q *Quotas) update(ctx context.Context, mutate func(*quotaDocument)) error {
	_, err := q.store.ReadModifyWrite(ctx, KeyQuotaState, func(cur Document) (json.RawMessage, error) {
		var doc quotaDocument
		if err := cur.DecodeInto(&doc); err != nil {
			return nil, fmt.Errorf("decode quota state: %w", err)
		}
		mutate(&doc)
		return json.Marshal(doc)
	})
	return err
}

func (q *Quotas) load(ctx context.Context, store RecordStore) (quotaDocument, error) {
	var doc quotaDocument
	raw, err := store.Get(ctx, KeyQuotaState)
	if err != nil {
		if IsNotFound(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("load quota state: %w", err)
	}
	if err := raw.DecodeInto(&doc); err != nil {
		return quotaDocument{}, fmt.Errorf("decode quota state: %w", err)
	}
	return doc, nil
}
