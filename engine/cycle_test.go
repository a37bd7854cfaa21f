package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tidewater/fleet-engine/engine"
	"github.com/tidewater/fleet-engine/engine/store"
)

func newTestCycles() (*engine.CycleTracker, *store.Memory) {
	st := store.NewMemory()
	return engine.NewCycleTracker(st, inception), st
}

func TestCycleStart_DefaultsToInception(t *testing.T) {
	// GIVEN: A worker who has never been paid
	// WHEN: Reading their cycle start
	// THEN: The organization-wide inception instant

	cycles, _ := newTestCycles()

	start, err := cycles.CycleStart(context.Background(), "w1")
	if err != nil {
		t.Fatalf("CycleStart: %v", err)
	}
	if !start.Equal(inception) {
		t.Errorf("cycle start = %s, want inception %s", start, inception)
	}
}

func TestRecordPayment_AdvancesCycleAndAppendsHistory(t *testing.T) {
	// GIVEN: A fresh worker
	// WHEN: Two payments are recorded in order
	// THEN: The cycle start follows the latest; history keeps both

	ctx := context.Background()
	cycles, st := newTestCycles()

	first := engine.PaymentRecord{ID: "p1", PaidAt: date(2025, time.March, 5), ApprovedBy: "admin", Amount: "40"}
	second := engine.PaymentRecord{ID: "p2", PaidAt: date(2025, time.March, 12), ApprovedBy: "admin", Amount: "10"}

	if err := cycles.RecordPaymentFrom(ctx, st, "w1", first); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := cycles.RecordPaymentFrom(ctx, st, "w1", second); err != nil {
		t.Fatalf("second: %v", err)
	}

	start, err := cycles.CycleStart(ctx, "w1")
	if err != nil {
		t.Fatalf("CycleStart: %v", err)
	}
	if !start.Equal(second.PaidAt) {
		t.Errorf("cycle start = %s, want %s", start, second.PaidAt)
	}

	history, err := cycles.PaymentHistory(ctx, "w1")
	if err != nil {
		t.Fatalf("PaymentHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d records, want 2", len(history))
	}
	if history[0].ID != "p1" || history[1].ID != "p2" {
		t.Errorf("history order = %s, %s; want p1, p2", history[0].ID, history[1].ID)
	}

	last, ok, err := cycles.LastPayment(ctx, "w1")
	if err != nil || !ok {
		t.Fatalf("LastPayment: ok=%v err=%v", ok, err)
	}
	if last.ID != "p2" {
		t.Errorf("last payment = %s, want p2", last.ID)
	}
}

func TestRecordPayment_StaleInstantRejected(t *testing.T) {
	// GIVEN: A worker whose cycle started March 10
	// WHEN: Recording a payment dated March 5
	// THEN: ErrStaleCycle and no history entry

	ctx := context.Background()
	cycles, st := newTestCycles()

	current := engine.PaymentRecord{ID: "p1", PaidAt: date(2025, time.March, 10)}
	if err := cycles.RecordPaymentFrom(ctx, st, "w1", current); err != nil {
		t.Fatalf("RecordPaymentFrom: %v", err)
	}

	stale := engine.PaymentRecord{ID: "p2", PaidAt: date(2025, time.March, 5)}
	err := cycles.RecordPaymentFrom(ctx, st, "w1", stale)
	if !errors.Is(err, engine.ErrStaleCycle) {
		t.Fatalf("err = %v, want ErrStaleCycle", err)
	}

	history, err := cycles.PaymentHistory(ctx, "w1")
	if err != nil {
		t.Fatalf("PaymentHistory: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("history = %d records, want 1 (stale payment must not append)", len(history))
	}
}

func TestRecordPayment_SameInstantAccepted(t *testing.T) {
	// Re-recording at exactly the current cycle start is not stale; it
	// settles whatever accrued at that instant (typically zero).

	ctx := context.Background()
	cycles, st := newTestCycles()

	at := date(2025, time.March, 10)
	if err := cycles.RecordPaymentFrom(ctx, st, "w1", engine.PaymentRecord{ID: "p1", PaidAt: at}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := cycles.RecordPaymentFrom(ctx, st, "w1", engine.PaymentRecord{ID: "p2", PaidAt: at}); err != nil {
		t.Fatalf("same-instant: %v", err)
	}
}

func TestLastPayment_NoneRecorded(t *testing.T) {
	cycles, _ := newTestCycles()

	_, ok, err := cycles.LastPayment(context.Background(), "w1")
	if err != nil {
		t.Fatalf("LastPayment: %v", err)
	}
	if ok {
		t.Error("ok = true, want false for a never-paid worker")
	}
}

func TestCycles_IsolatedPerWorker(t *testing.T) {
	// GIVEN: Worker w1 gets paid
	// WHEN: Reading w2's cycle
	// THEN: w2 still starts at inception

	ctx := context.Background()
	cycles, st := newTestCycles()

	if err := cycles.RecordPaymentFrom(ctx, st, "w1", engine.PaymentRecord{ID: "p1", PaidAt: date(2025, time.March, 10)}); err != nil {
		t.Fatalf("RecordPaymentFrom: %v", err)
	}

	start, err := cycles.CycleStart(ctx, "w2")
	if err != nil {
		t.Fatalf("CycleStart: %v", err)
	}
	if !start.Equal(inception) {
		t.Errorf("w2 cycle start = %s, want inception", start)
	}
}
