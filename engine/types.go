/*
Package engine provides the earnings accrual and payment-cycle engine.

PURPOSE:
  This package contains the core rules of the fleet operations system:
  how a log of harvest events becomes "amount currently owed" per worker,
  how a unit price is resolved for a worker, and what happens when a
  payment is approved (cycle reset, quota clearing, history append).

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A currency amount backed by decimal.Decimal
  - HarvestEvent: An immutable ledger entry recording harvested quantity
  - PaymentRecord: One entry of a worker's payment history
  - TimePoint: A specific instant, JSON-safe and defensive on decode
  - Worker/Group IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Harvest events are never modified by the engine
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Snapshots: Computations read explicit snapshots, never ambient state
  4. Defensive decoding: Malformed stored data degrades to "not counted",
     never to a crash or an unbounded inclusion

USAGE:
  price := engine.NewMoney(36)
  owed := price.MulInt(8) // 288

SEE ALSO:
  - pricing.go: Per-worker price resolution
  - ledger.go: Harvest ledger reads
  - cycle.go: Payment-cycle state
  - earnings.go: The orchestrator (AmountOwed, MarkPaid)
*/
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amount
// =============================================================================

// Money is a non-negative-by-convention currency amount.
// The engine never does float arithmetic on money.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

// MoneyFromString parses a stored decimal string.
// Invalid input degrades to zero rather than erroring: stored documents
// are treated defensively, validation happens at the write boundary.
func MoneyFromString(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

// ParseMoney parses a decimal string submitted by a caller. Unlike
// MoneyFromString it rejects unparseable input: write boundaries must
// fail loudly, only reads of already-stored documents degrade to zero.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ZeroMoney(), fmt.Errorf("%q: %w", s, ErrInvalidPrice)
	}
	return Money{Value: d}, nil
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money        { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money        { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) MulInt(n int64) Money     { return Money{Value: m.Value.Mul(decimal.NewFromInt(n))} }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) Equal(b Money) bool       { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }
func (m Money) String() string           { return m.Value.String() }

// Float64 is for DTO conversion only. Engine math stays decimal.
func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type WorkerID string
type GroupID string
type PaymentID string

// Role is the worker's role in the organization. The engine itself only
// trusts role checks done by its callers; the type lives here because the
// roster document is shared vocabulary.
type Role string

const (
	RoleWorker     Role = "worker"
	RoleSupervisor Role = "supervisor"
	RoleManager    Role = "manager"
	RoleLeadership Role = "leadership"
)

func (r Role) Valid() bool {
	switch r {
	case RoleWorker, RoleSupervisor, RoleManager, RoleLeadership:
		return true
	}
	return false
}

// =============================================================================
// TIME POINT - JSON-safe instant with defensive decoding
// =============================================================================

// TimePoint is an instant in time. It marshals as RFC3339 and decodes
// defensively: a missing, empty, or malformed timestamp becomes the zero
// TimePoint, which the ledger treats as "not countable" (it is never
// included in any time window).
type TimePoint struct {
	Time time.Time
}

func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func NewTimePointAt(year int, month time.Month, day, hour, min int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, hour, min, 0, 0, time.UTC)}
}

func Now() TimePoint {
	return TimePoint{Time: time.Now().UTC()}
}

// Comparison
func (tp TimePoint) Before(o TimePoint) bool        { return tp.Time.Before(o.Time) }
func (tp TimePoint) After(o TimePoint) bool         { return tp.Time.After(o.Time) }
func (tp TimePoint) Equal(o TimePoint) bool         { return tp.Time.Equal(o.Time) }
func (tp TimePoint) BeforeOrEqual(o TimePoint) bool { return !tp.After(o) }
func (tp TimePoint) AfterOrEqual(o TimePoint) bool  { return !tp.Before(o) }
func (tp TimePoint) IsZero() bool                   { return tp.Time.IsZero() }

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint {
	return TimePoint{Time: tp.Time.AddDate(0, 0, n)}
}

func (tp TimePoint) String() string {
	if tp.IsZero() {
		return ""
	}
	return tp.Time.UTC().Format(time.RFC3339)
}

// StartOfWeek returns Monday 00:00 UTC of the week containing tp.
// Quota windows are calendar weeks, independent of payment cycles.
func (tp TimePoint) StartOfWeek() TimePoint {
	t := tp.Time.UTC()
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return TimePoint{Time: day.AddDate(0, 0, -offset)}
}

// EndOfWeek returns the last instant of the week containing tp.
func (tp TimePoint) EndOfWeek() TimePoint {
	start := tp.StartOfWeek()
	return TimePoint{Time: start.Time.AddDate(0, 0, 7).Add(-time.Nanosecond)}
}

func (tp TimePoint) MarshalJSON() ([]byte, error) {
	if tp.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(tp.Time.UTC().Format(time.RFC3339))
}

func (tp *TimePoint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Not a string (null, number, object): not countable.
		tp.Time = time.Time{}
		return nil
	}
	if s == "" {
		tp.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		tp.Time = time.Time{}
		return nil
	}
	tp.Time = t.UTC()
	return nil
}

// =============================================================================
// HARVEST EVENT - One unit-quantity log entry by a worker
// =============================================================================

// HarvestEvent is immutable once created. The engine only ever reads
// events; appending happens at the boundary (fleet package), deletion
// only via admin override outside this core.
type HarvestEvent struct {
	ID         string    `json:"id"`
	WorkerID   WorkerID  `json:"worker_id"`
	Quantity   int64     `json:"quantity"`
	OccurredAt TimePoint `json:"occurred_at"`
}

// CountableQuantity returns the quantity the engine is willing to sum.
// Invalid quantities stored by older writers coerce to 0; an event with
// no usable timestamp contributes nothing to any window.
func (e HarvestEvent) CountableQuantity() int64 {
	if e.OccurredAt.IsZero() {
		return 0
	}
	if e.Quantity < 0 {
		return 0
	}
	return e.Quantity
}

// =============================================================================
// PAYMENT RECORD - One entry of a worker's payment history
// =============================================================================

type PaymentRecord struct {
	ID         PaymentID `json:"id"`
	PaidAt     TimePoint `json:"paid_at"`
	ApprovedBy string    `json:"approved_by,omitempty"`
	Amount     string    `json:"amount,omitempty"` // decimal string
	Quantity   int64     `json:"quantity,omitempty"`
}

// AmountMoney decodes the stored amount, zero if absent or malformed.
func (p PaymentRecord) AmountMoney() Money {
	return MoneyFromString(p.Amount)
}

// =============================================================================
// WORKER PROFILE - What the engine needs to know about a worker
// =============================================================================

// WorkerProfile is the minimal view of a worker the engine consumes.
// The full roster record (name, role, contact data) is owned by the
// administration component; see the fleet package.
type WorkerProfile struct {
	ID      WorkerID
	Group   GroupID
	Partner bool
}

// WorkerDirectory resolves worker profiles. Lookup returns
// ErrUnknownWorker for ids with no corresponding record.
type WorkerDirectory interface {
	Lookup(ctx context.Context, id WorkerID) (WorkerProfile, error)
}
