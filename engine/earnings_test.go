package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tidewater/fleet-engine/engine"
	"github.com/tidewater/fleet-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// directory is a fixed in-memory WorkerDirectory for engine tests. The
// roster document implementation lives in the fleet package; the engine
// only needs Lookup.
type directory map[engine.WorkerID]engine.WorkerProfile

func (d directory) Lookup(_ context.Context, id engine.WorkerID) (engine.WorkerProfile, error) {
	p, ok := d[id]
	if !ok {
		return engine.WorkerProfile{}, fmt.Errorf("%s: %w", id, engine.ErrUnknownWorker)
	}
	return p, nil
}

func date(year int, month time.Month, day int) engine.TimePoint {
	return engine.NewTimePoint(year, month, day)
}

func money(n int64) engine.Money {
	return engine.NewMoneyFromInt(n)
}

var inception = date(2024, time.January, 1)

func newTestEngine(workers directory) (*engine.Engine, *store.TxMemory) {
	st := store.NewTxMemory()
	return engine.New(st, workers, inception), st
}

// logHarvest appends one event directly through the store, the way the
// fleet write boundary does.
func logHarvest(t *testing.T, st engine.RecordStore, id engine.WorkerID, qty int64, at engine.TimePoint) {
	t.Helper()
	appendEvent(t, st, engine.HarvestEvent{
		ID:         fmt.Sprintf("ev-%s-%s-%d", id, at, qty),
		WorkerID:   id,
		Quantity:   qty,
		OccurredAt: at,
	})
}

func appendEvent(t *testing.T, st engine.RecordStore, event engine.HarvestEvent) {
	t.Helper()
	_, err := st.ReadModifyWrite(context.Background(), engine.KeyHarvestLedger, func(cur engine.Document) (json.RawMessage, error) {
		var doc engine.LedgerDocument
		if err := cur.DecodeInto(&doc); err != nil {
			return nil, err
		}
		doc.Events = append(doc.Events, event)
		return json.Marshal(doc)
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
}

// =============================================================================
// AMOUNT OWED
// =============================================================================

func TestAmountOwed_NoPolicy_UsesFallbackPrice(t *testing.T) {
	// GIVEN: No pricing policy document exists
	// WHEN: Computing the amount owed for 4 harvested units
	// THEN: The fallback unit price applies

	ctx := context.Background()
	eng, st := newTestEngine(directory{"w1": {ID: "w1"}})

	logHarvest(t, st, "w1", 4, date(2025, time.March, 3))

	owed, err := eng.ComputeOwed(ctx, "w1", date(2025, time.March, 10))
	if err != nil {
		t.Fatalf("ComputeOwed: %v", err)
	}
	want := engine.Money{Value: engine.FallbackUnitPrice}.MulInt(4)
	if !owed.Amount.Equal(want) {
		t.Errorf("owed = %s, want %s", owed.Amount, want)
	}
	if owed.Quantity != 4 {
		t.Errorf("quantity = %d, want 4", owed.Quantity)
	}
	if !owed.CycleStart.Equal(inception) {
		t.Errorf("cycle start = %s, want inception %s", owed.CycleStart, inception)
	}
}

func TestAmountOwed_OnlyCountsCurrentCycle(t *testing.T) {
	// GIVEN: Events both before and after the worker's last payment
	// WHEN: Computing the amount owed
	// THEN: Only events at or after the cycle start count

	ctx := context.Background()
	eng, st := newTestEngine(directory{"w1": {ID: "w1"}})
	if err := eng.Pricing().SetGlobalPrices(ctx, money(10), money(10)); err != nil {
		t.Fatalf("SetGlobalPrices: %v", err)
	}

	logHarvest(t, st, "w1", 5, date(2025, time.February, 1))
	if _, err := eng.MarkPaid(ctx, "w1", "admin", date(2025, time.February, 15)); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	logHarvest(t, st, "w1", 3, date(2025, time.February, 20))

	owed, err := eng.ComputeOwed(ctx, "w1", date(2025, time.March, 1))
	if err != nil {
		t.Fatalf("ComputeOwed: %v", err)
	}
	if owed.Quantity != 3 {
		t.Errorf("quantity = %d, want 3 (pre-payment events must not count)", owed.Quantity)
	}
	if !owed.Amount.Equal(money(30)) {
		t.Errorf("owed = %s, want 30", owed.Amount)
	}
}

func TestAmountOwed_MonotoneWithinCycle(t *testing.T) {
	// GIVEN: A worker accruing within one cycle
	// WHEN: Additional dated harvests are recorded
	// THEN: The amount owed never decreases

	ctx := context.Background()
	eng, st := newTestEngine(directory{"w1": {ID: "w1"}})
	if err := eng.Pricing().SetGlobalPrices(ctx, money(10), money(10)); err != nil {
		t.Fatalf("SetGlobalPrices: %v", err)
	}

	asOf := date(2025, time.March, 31)
	prev := engine.ZeroMoney()
	for day := 1; day <= 5; day++ {
		logHarvest(t, st, "w1", int64(day), date(2025, time.March, day))

		owed, err := eng.AmountOwed(ctx, "w1", asOf)
		if err != nil {
			t.Fatalf("AmountOwed after day %d: %v", day, err)
		}
		if prev.GreaterThan(owed) {
			t.Fatalf("owed dropped from %s to %s after recording day %d", prev, owed, day)
		}
		prev = owed
	}
	if !prev.Equal(money(150)) {
		t.Errorf("final owed = %s, want 150", prev)
	}
}

func TestAmountOwed_UnknownWorker_IsZero(t *testing.T) {
	// GIVEN: A worker id with no roster record
	// WHEN: Computing the amount owed
	// THEN: Zero, with no error (the paying path is stricter)

	eng, _ := newTestEngine(directory{})

	owed, err := eng.ComputeOwed(context.Background(), "ghost", date(2025, time.March, 1))
	if err != nil {
		t.Fatalf("ComputeOwed: %v", err)
	}
	if !owed.Amount.IsZero() {
		t.Errorf("owed = %s, want 0", owed.Amount)
	}
}

func TestAmountOwed_IgnoresOtherWorkers(t *testing.T) {
	// GIVEN: Two workers harvesting in the same window
	// WHEN: Computing what is owed to one of them
	// THEN: The other worker's events do not contribute

	ctx := context.Background()
	eng, st := newTestEngine(directory{"w1": {ID: "w1"}, "w2": {ID: "w2"}})
	if err := eng.Pricing().SetGlobalPrices(ctx, money(10), money(10)); err != nil {
		t.Fatalf("SetGlobalPrices: %v", err)
	}

	logHarvest(t, st, "w1", 2, date(2025, time.March, 3))
	logHarvest(t, st, "w2", 9, date(2025, time.March, 3))

	owed, err := eng.AmountOwed(ctx, "w1", date(2025, time.March, 10))
	if err != nil {
		t.Fatalf("AmountOwed: %v", err)
	}
	if !owed.Equal(money(20)) {
		t.Errorf("owed = %s, want 20", owed)
	}
}

// =============================================================================
// PRICE RESOLUTION GRID
// =============================================================================

func TestAmountOwed_PriceResolution(t *testing.T) {
	// Resolution order: override > partner (if flagged) > standard > fallback.
	type fixture struct {
		name     string
		standard int64 // -1 = no policy document at all
		partner  int64
		override int64 // 0 = none
		flagged  bool
		want     int64 // expected amount for 2 units
	}

	cases := []fixture{
		{name: "fallback when no policy", standard: -1, want: 60},
		{name: "standard price", standard: 10, partner: 15, want: 20},
		{name: "partner price for flagged worker", standard: 10, partner: 15, flagged: true, want: 30},
		{name: "standard for unflagged despite partner price", standard: 10, partner: 15, want: 20},
		{name: "override beats standard", standard: 10, partner: 15, override: 40, want: 80},
		{name: "override beats partner", standard: 10, partner: 15, override: 40, flagged: true, want: 80},
		{name: "zero standard is a valid price", standard: 0, partner: 15, want: 0},
		{name: "no override falls through to standard", standard: 10, partner: 15, want: 20},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			eng, st := newTestEngine(directory{"w1": {ID: "w1", Partner: tc.flagged}})

			if tc.standard >= 0 {
				if err := eng.Pricing().SetGlobalPrices(ctx, money(tc.standard), money(tc.partner)); err != nil {
					t.Fatalf("SetGlobalPrices: %v", err)
				}
			}
			if tc.override > 0 {
				if err := eng.Pricing().SetWorkerOverride(ctx, "w1", money(tc.override)); err != nil {
					t.Fatalf("SetWorkerOverride: %v", err)
				}
			}

			logHarvest(t, st, "w1", 2, date(2025, time.March, 3))

			owed, err := eng.AmountOwed(ctx, "w1", date(2025, time.March, 10))
			if err != nil {
				t.Fatalf("AmountOwed: %v", err)
			}
			if !owed.Equal(money(tc.want)) {
				t.Errorf("owed = %s, want %d", owed, tc.want)
			}
		})
	}
}

// =============================================================================
// MARK PAID
// =============================================================================

func TestMarkPaid_ResetsCycle(t *testing.T) {
	// GIVEN: A worker with unpaid harvest
	// WHEN: Marking them paid
	// THEN: The owed amount drops to zero and only new events accrue

	ctx := context.Background()
	eng, st := newTestEngine(directory{"w1": {ID: "w1"}})
	if err := eng.Pricing().SetGlobalPrices(ctx, money(10), money(10)); err != nil {
		t.Fatalf("SetGlobalPrices: %v", err)
	}

	logHarvest(t, st, "w1", 7, date(2025, time.March, 3))

	payment, err := eng.MarkPaid(ctx, "w1", "admin", date(2025, time.March, 5))
	if err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if !payment.AmountPaid.Equal(money(70)) {
		t.Errorf("paid = %s, want 70", payment.AmountPaid)
	}
	if payment.Quantity != 7 {
		t.Errorf("paid quantity = %d, want 7", payment.Quantity)
	}

	owed, err := eng.AmountOwed(ctx, "w1", date(2025, time.March, 6))
	if err != nil {
		t.Fatalf("AmountOwed: %v", err)
	}
	if !owed.IsZero() {
		t.Errorf("owed after payment = %s, want 0", owed)
	}

	start, err := eng.CycleStart(ctx, "w1")
	if err != nil {
		t.Fatalf("CycleStart: %v", err)
	}
	if !start.Equal(date(2025, time.March, 5)) {
		t.Errorf("cycle start = %s, want payment instant", start)
	}
}

func TestMarkPaid_Idempotent_DoublePayIsZero(t *testing.T) {
	// GIVEN: A worker already paid at instant T
	// WHEN: Marking them paid again at T with nothing new harvested
	// THEN: The second payment settles zero; the first is not doubled

	ctx := context.Background()
	eng, st := newTestEngine(directory{"w1": {ID: "w1"}})
	if err := eng.Pricing().SetGlobalPrices(ctx, money(10), money(10)); err != nil {
		t.Fatalf("SetGlobalPrices: %v", err)
	}

	logHarvest(t, st, "w1", 4, date(2025, time.March, 3))
	at := date(2025, time.March, 5)

	first, err := eng.MarkPaid(ctx, "w1", "admin", at)
	if err != nil {
		t.Fatalf("first MarkPaid: %v", err)
	}
	second, err := eng.MarkPaid(ctx, "w1", "admin", at)
	if err != nil {
		t.Fatalf("second MarkPaid: %v", err)
	}

	if !first.AmountPaid.Equal(money(40)) {
		t.Errorf("first payment = %s, want 40", first.AmountPaid)
	}
	if !second.AmountPaid.IsZero() {
		t.Errorf("second payment = %s, want 0 (no double charge)", second.AmountPaid)
	}
}

func TestMarkPaid_StalePaymentRejected(t *testing.T) {
	// GIVEN: A worker paid at March 10
	// WHEN: Recording a payment dated March 5
	// THEN: ErrStaleCycle; the cycle start never moves backward

	ctx := context.Background()
	eng, _ := newTestEngine(directory{"w1": {ID: "w1"}})

	if _, err := eng.MarkPaid(ctx, "w1", "admin", date(2025, time.March, 10)); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	_, err := eng.MarkPaid(ctx, "w1", "admin", date(2025, time.March, 5))
	if err == nil {
		t.Fatal("expected ErrStaleCycle, got nil")
	}
	if !engine.IsClientError(err) {
		t.Errorf("stale payment should be a client error, got %v", err)
	}

	start, err := eng.CycleStart(ctx, "w1")
	if err != nil {
		t.Fatalf("CycleStart: %v", err)
	}
	if !start.Equal(date(2025, time.March, 10)) {
		t.Errorf("cycle start = %s, want March 10 (unchanged)", start)
	}
}

func TestMarkPaid_ClearsWorkerQuota_KeepsGroupQuota(t *testing.T) {
	// GIVEN: A worker quota and a group quota both set
	// WHEN: The worker is paid
	// THEN: The worker target is gone, the group target survives

	ctx := context.Background()
	eng, _ := newTestEngine(directory{"w1": {ID: "w1", Group: "crew"}})

	if err := eng.Quotas().SetWorkerTarget(ctx, "w1", 100); err != nil {
		t.Fatalf("SetWorkerTarget: %v", err)
	}
	if err := eng.Quotas().SetGroupTarget(ctx, "crew", 500); err != nil {
		t.Fatalf("SetGroupTarget: %v", err)
	}

	if _, err := eng.MarkPaid(ctx, "w1", "admin", date(2025, time.March, 5)); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}

	if _, err := eng.Quotas().TargetForWorker(ctx, "w1"); !engine.IsNotFound(err) {
		t.Errorf("worker quota should be cleared, got err=%v", err)
	}
	target, err := eng.Quotas().TargetForGroup(ctx, "crew")
	if err != nil {
		t.Fatalf("TargetForGroup: %v", err)
	}
	if target != 500 {
		t.Errorf("group target = %d, want 500 (must survive payment)", target)
	}
}

func TestMarkPaid_UnknownWorker_Fails(t *testing.T) {
	// GIVEN: No roster record for the id
	// WHEN: Marking paid
	// THEN: ErrUnknownWorker; nothing is written

	eng, _ := newTestEngine(directory{})

	_, err := eng.MarkPaid(context.Background(), "ghost", "admin", date(2025, time.March, 5))
	if !engine.IsClientError(err) {
		t.Fatalf("expected unknown-worker client error, got %v", err)
	}
}

func TestMarkPaid_RequiresTransactionalStore(t *testing.T) {
	// GIVEN: An engine over a store without multi-key transactions
	// WHEN: Marking paid
	// THEN: ErrStoreRequired before any state change

	eng := engine.New(store.NewMemory(), directory{"w1": {ID: "w1"}}, inception)

	_, err := eng.MarkPaid(context.Background(), "w1", "admin", date(2025, time.March, 5))
	if err == nil {
		t.Fatal("expected ErrStoreRequired, got nil")
	}
}

func TestMarkPaid_Concurrent_OneEffectivePayment(t *testing.T) {
	// GIVEN: 8 concurrent payment attempts for the same worker at the
	//        same instant
	// WHEN: They all complete
	// THEN: Exactly one settles the harvested amount; the rest settle zero

	ctx := context.Background()
	eng, st := newTestEngine(directory{"w1": {ID: "w1"}})
	if err := eng.Pricing().SetGlobalPrices(ctx, money(10), money(10)); err != nil {
		t.Fatalf("SetGlobalPrices: %v", err)
	}
	logHarvest(t, st, "w1", 6, date(2025, time.March, 3))
	at := date(2025, time.March, 5)

	const attempts = 8
	payments := make([]engine.Payment, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payments[i], errs[i] = eng.MarkPaid(ctx, "w1", "admin", at)
		}(i)
	}
	wg.Wait()

	total := engine.ZeroMoney()
	nonZero := 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("attempt %d: %v", i, errs[i])
		}
		total = total.Add(payments[i].AmountPaid)
		if !payments[i].AmountPaid.IsZero() {
			nonZero++
		}
	}

	if nonZero != 1 {
		t.Errorf("effective payments = %d, want exactly 1", nonZero)
	}
	if !total.Equal(money(60)) {
		t.Errorf("total settled = %s, want 60 (no double charge)", total)
	}

	history, err := eng.Cycles().PaymentHistory(ctx, "w1")
	if err != nil {
		t.Fatalf("PaymentHistory: %v", err)
	}
	if len(history) != attempts {
		t.Errorf("history length = %d, want %d (every attempt recorded)", len(history), attempts)
	}
}

func TestForgetWorker_PaymentsStillWorkAfterRehire(t *testing.T) {
	// GIVEN: A paid worker whose lock entry is released on roster removal
	// WHEN: The same id is rehired and paid again
	// THEN: The lock is recreated lazily and the cycle state carries over

	ctx := context.Background()
	eng, st := newTestEngine(directory{"w1": {ID: "w1"}})
	if err := eng.Pricing().SetGlobalPrices(ctx, money(10), money(10)); err != nil {
		t.Fatalf("SetGlobalPrices: %v", err)
	}

	logHarvest(t, st, "w1", 3, date(2025, time.March, 3))
	if _, err := eng.MarkPaid(ctx, "w1", "admin", date(2025, time.March, 5)); err != nil {
		t.Fatalf("first MarkPaid: %v", err)
	}

	eng.ForgetWorker("w1")
	eng.ForgetWorker("never-seen") // unknown ids are a no-op

	logHarvest(t, st, "w1", 2, date(2025, time.March, 8))
	payment, err := eng.MarkPaid(ctx, "w1", "admin", date(2025, time.March, 10))
	if err != nil {
		t.Fatalf("MarkPaid after forget: %v", err)
	}
	if !payment.AmountPaid.Equal(money(20)) {
		t.Errorf("paid = %s, want 20 (cycle state survives the lock release)", payment.AmountPaid)
	}
}

func TestEarnings_FullCycleWalkthrough(t *testing.T) {
	// GIVEN: A standard price of 36 and harvests of 5 and 3 units
	// WHEN: The worker is paid and then harvests 2 more units
	// THEN: 288 owed before the payment, 72 after

	ctx := context.Background()
	eng, st := newTestEngine(directory{"w1": {ID: "w1"}})
	if err := eng.Pricing().SetGlobalPrices(ctx, money(36), money(36)); err != nil {
		t.Fatalf("SetGlobalPrices: %v", err)
	}

	logHarvest(t, st, "w1", 5, date(2025, time.March, 3))
	logHarvest(t, st, "w1", 3, date(2025, time.March, 4))

	owed, err := eng.AmountOwed(ctx, "w1", date(2025, time.March, 5))
	if err != nil {
		t.Fatalf("AmountOwed: %v", err)
	}
	if !owed.Equal(money(288)) {
		t.Errorf("owed before payment = %s, want 288", owed)
	}

	payment, err := eng.MarkPaid(ctx, "w1", "admin", date(2025, time.March, 5))
	if err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if !payment.AmountPaid.Equal(money(288)) {
		t.Errorf("paid = %s, want 288", payment.AmountPaid)
	}

	logHarvest(t, st, "w1", 2, date(2025, time.March, 6))

	owed, err = eng.AmountOwed(ctx, "w1", date(2025, time.March, 7))
	if err != nil {
		t.Fatalf("AmountOwed: %v", err)
	}
	if !owed.Equal(money(72)) {
		t.Errorf("owed after payment = %s, want 72", owed)
	}
}

// =============================================================================
// PAY RUN
// =============================================================================

func TestPayRun_SettlesIndependently(t *testing.T) {
	// GIVEN: Two workers with harvest and one unknown id
	// WHEN: Running a pay run over all three
	// THEN: The two settle; the unknown id fails in its own result only

	ctx := context.Background()
	eng, st := newTestEngine(directory{"w1": {ID: "w1"}, "w2": {ID: "w2"}})
	if err := eng.Pricing().SetGlobalPrices(ctx, money(10), money(10)); err != nil {
		t.Fatalf("SetGlobalPrices: %v", err)
	}
	logHarvest(t, st, "w1", 2, date(2025, time.March, 3))
	logHarvest(t, st, "w2", 3, date(2025, time.March, 3))

	results := eng.PayRun(ctx, []engine.WorkerID{"w1", "w2", "ghost"}, "admin", date(2025, time.March, 5))
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}

	byWorker := make(map[engine.WorkerID]engine.PayRunResult, len(results))
	for _, r := range results {
		byWorker[r.WorkerID] = r
	}

	if r := byWorker["w1"]; r.Err != nil || !r.Payment.AmountPaid.Equal(money(20)) {
		t.Errorf("w1: payment=%s err=%v, want 20/nil", r.Payment.AmountPaid, r.Err)
	}
	if r := byWorker["w2"]; r.Err != nil || !r.Payment.AmountPaid.Equal(money(30)) {
		t.Errorf("w2: payment=%s err=%v, want 30/nil", r.Payment.AmountPaid, r.Err)
	}
	if r := byWorker["ghost"]; r.Err == nil {
		t.Error("ghost: expected error, got nil")
	}
}
