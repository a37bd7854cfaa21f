/*
earnings.go - The earnings engine orchestrator

PURPOSE:
  Composes pricing, ledger, cycle tracker and quotas to answer "how much
  is owed to worker W right now" and to execute "mark W as paid".

AMOUNT OWED:
  owed = sumQuantity([cycleStart, asOf]) * effectivePrice(W)
  - Non-negative always (quantities and prices are non-negative).
  - Deterministic given the same ledger/policy/cycle snapshot.
  - Monotonically non-decreasing in asOf for a fixed cycle, because
    harvest events are append-only within a cycle.
  - Unknown worker computes to zero, it does not error.

MARK PAID:
  One logical unit, atomic with respect to concurrent calls:
  1. Snapshot amount = AmountOwed(W, at)
  2. Record payment (cycle start := at, history append)
  3. Remove W's per-worker quota entry
  If any step cannot commit, the whole operation fails and the state is
  indistinguishable from never having started. Partial application
  (cycle reset without quota clearing) is a correctness bug, not a
  degraded mode - hence the TxRecordStore requirement.

IDEMPOTENCY:
  MarkPaid twice in quick succession never double-pays: the second call
  re-reads the cycle start fresh inside its own transaction and computes
  against the new cycle, typically yielding zero. The engine NEVER
  caches a cycle start across calls.

CONCURRENCY:
  MarkPaid for one worker is linearizable with respect to other MarkPaid
  calls and to harvest inserts for that worker: a per-worker mutex
  serializes the engine's own callers, and the store's compare-and-set
  catches writers outside this process. Different workers do not block
  each other; PayRun exploits that with a bounded errgroup.
*/
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// RESULTS
// =============================================================================

// Owed is the breakdown behind an amount-owed computation.
type Owed struct {
	WorkerID   WorkerID
	CycleStart TimePoint
	AsOf       TimePoint
	Quantity   int64
	UnitPrice  Money
	Amount     Money
}

// Payment is the committed result of MarkPaid.
type Payment struct {
	ID         PaymentID
	WorkerID   WorkerID
	AmountPaid Money
	Quantity   int64
	PaidAt     TimePoint
	ApprovedBy string
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine answers owed-amount queries and executes payment transitions.
type Engine struct {
	store   RecordStore
	workers WorkerDirectory
	pricing *Pricing
	ledger  *Ledger
	cycles  *CycleTracker
	quotas  *Quotas

	locks workerLocks
}

// New wires an engine over the given store and worker directory.
// inception is the organization-wide cycle start for never-paid workers.
func New(store RecordStore, workers WorkerDirectory, inception TimePoint) *Engine {
	ledger := NewLedger(store)
	return &Engine{
		store:   store,
		workers: workers,
		pricing: NewPricing(store),
		ledger:  ledger,
		cycles:  NewCycleTracker(store, inception),
		quotas:  NewQuotas(store, ledger),
	}
}

// Component accessors for the surrounding CRUD layer.
func (e *Engine) Pricing() *Pricing     { return e.pricing }
func (e *Engine) Ledger() *Ledger       { return e.ledger }
func (e *Engine) Cycles() *CycleTracker { return e.cycles }
func (e *Engine) Quotas() *Quotas       { return e.quotas }

// ForgetWorker drops the worker's lock entry so the lock map does not
// grow with roster churn. Callers invoke it when a worker leaves the
// roster; a later MarkPaid for the same id recreates the entry lazily.
func (e *Engine) ForgetWorker(id WorkerID) {
	e.locks.forget(id)
}

// CycleStart returns the worker's current cycle start (inception if the
// worker has never been paid).
func (e *Engine) CycleStart(ctx context.Context, id WorkerID) (TimePoint, error) {
	return e.cycles.CycleStart(ctx, id)
}

// =============================================================================
// AMOUNT OWED
// =============================================================================

// AmountOwed returns the amount currently owed to the worker as of the
// given instant. A zero asOf means now.
func (e *Engine) AmountOwed(ctx context.Context, id WorkerID, asOf TimePoint) (Money, error) {
	owed, err := e.ComputeOwed(ctx, id, asOf)
	if err != nil {
		return ZeroMoney(), err
	}
	return owed.Amount, nil
}

// ComputeOwed returns the full breakdown: cycle start, summed quantity,
// resolved unit price, and the resulting amount.
func (e *Engine) ComputeOwed(ctx context.Context, id WorkerID, asOf TimePoint) (Owed, error) {
	if asOf.IsZero() {
		asOf = Now()
	}

	profile, err := e.workers.Lookup(ctx, id)
	if err != nil {
		if IsClientError(err) {
			// Defensive default: nothing is owed to a worker that does
			// not exist. The paying path is stricter, see MarkPaid.
			return Owed{WorkerID: id, AsOf: asOf, Amount: ZeroMoney(), UnitPrice: ZeroMoney()}, nil
		}
		return Owed{}, err
	}

	cycleStart, err := e.cycles.CycleStart(ctx, id)
	if err != nil {
		return Owed{}, err
	}

	qty, err := e.ledger.SumInWindow(ctx, id, cycleStart, asOf)
	if err != nil {
		return Owed{}, err
	}

	snap, err := e.pricing.Snapshot(ctx)
	if err != nil {
		return Owed{}, err
	}
	price := snap.EffectivePrice(profile)

	return Owed{
		WorkerID:   id,
		CycleStart: cycleStart,
		AsOf:       asOf,
		Quantity:   qty,
		UnitPrice:  price,
		Amount:     price.MulInt(qty),
	}, nil
}

// =============================================================================
// MARK PAID
// =============================================================================

// MarkPaid snapshots the amount owed to the worker at `at`, records the
// payment, advances the cycle start and clears the worker's quota entry,
// all as one committed unit. A zero `at` means now.
//
// Returns ErrUnknownWorker if there is nothing to pay, ErrStoreConflict
// if a concurrent writer won (safe to retry), ErrStoreRequired if the
// store cannot provide multi-key atomicity.
func (e *Engine) MarkPaid(ctx context.Context, id WorkerID, approvedBy string, at TimePoint) (Payment, error) {
	txStore, ok := e.store.(TxRecordStore)
	if !ok {
		return Payment{}, ErrStoreRequired
	}
	if at.IsZero() {
		at = Now()
	}

	profile, err := e.workers.Lookup(ctx, id)
	if err != nil {
		return Payment{}, err // unknown worker: nothing to pay
	}

	// Serialize payments per worker. Payments for other workers proceed
	// in parallel; the store's compare-and-set still guards against
	// writers outside this process.
	lock := e.locks.forWorker(id)
	lock.Lock()
	defer lock.Unlock()

	var payment Payment
	err = txStore.WithTx(ctx, func(s RecordStore) error {
		// Everything is re-read fresh inside the transaction. Snapshot
		// staleness within this single transaction is acceptable;
		// staleness across calls is not.
		cycleStart, err := e.cycles.CycleStartFrom(ctx, s, id)
		if err != nil {
			return err
		}

		qty, err := e.ledger.SumInWindowFrom(ctx, s, id, cycleStart, at)
		if err != nil {
			return err
		}

		snap, err := e.pricing.SnapshotFrom(ctx, s)
		if err != nil {
			return err
		}
		amount := snap.EffectivePrice(profile).MulInt(qty)

		record := PaymentRecord{
			ID:         PaymentID(uuid.NewString()),
			PaidAt:     at,
			ApprovedBy: approvedBy,
			Amount:     amount.String(),
			Quantity:   qty,
		}
		if err := e.cycles.RecordPaymentFrom(ctx, s, id, record); err != nil {
			return err
		}
		if err := e.quotas.ClearWorkerFrom(ctx, s, id); err != nil {
			return err
		}

		payment = Payment{
			ID:         record.ID,
			WorkerID:   id,
			AmountPaid: amount,
			Quantity:   qty,
			PaidAt:     at,
			ApprovedBy: approvedBy,
		}
		return nil
	})
	if err != nil {
		return Payment{}, fmt.Errorf("mark %s paid: %w", id, err)
	}
	return payment, nil
}

// =============================================================================
// PAY RUN - Batch payment over independent workers
// =============================================================================

// PayRunResult is the per-worker outcome of a PayRun.
type PayRunResult struct {
	WorkerID WorkerID
	Payment  Payment
	Err      error
}

// payRunConcurrency bounds simultaneous store transactions in a run.
const payRunConcurrency = 8

// PayRun pays each listed worker. Workers are independent, so payments
// run concurrently; each one keeps the full MarkPaid atomicity. One
// worker failing never aborts the others - the failure surfaces in its
// own result.
func (e *Engine) PayRun(ctx context.Context, ids []WorkerID, approvedBy string, at TimePoint) []PayRunResult {
	results := make([]PayRunResult, len(ids))

	var g errgroup.Group
	g.SetLimit(payRunConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			payment, err := e.MarkPaid(ctx, id, approvedBy, at)
			results[i] = PayRunResult{WorkerID: id, Payment: payment, Err: err}
			return nil
		})
	}
	g.Wait() // individual errors are reported per result

	return results
}

// =============================================================================
// PER-WORKER LOCKS
// =============================================================================

type workerLocks struct {
	mu sync.Mutex
	m  map[WorkerID]*sync.Mutex
}

func (l *workerLocks) forWorker(id WorkerID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[WorkerID]*sync.Mutex)
	}
	lock, ok := l.m[id]
	if !ok {
		lock = &sync.Mutex{}
		l.m[id] = lock
	}
	return lock
}

func (l *workerLocks) forget(id WorkerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, id)
}
