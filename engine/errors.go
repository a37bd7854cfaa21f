/*
errors.go - Centralized error types for the earnings engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (HTTP handlers, schedulers) map these onto user-visible
  messages; the engine itself has no user-facing surface.

ERROR CATEGORIES:
  1. Input errors - Invalid prices, unknown workers
  2. Store errors - Conflicts, unavailability, missing documents
  3. State errors - Payment transitions that would violate invariants

USAGE:
  if engine.IsRetryable(err) {
      // safe to retry MarkPaid; the idempotency property guarantees
      // a retried payment never double-charges
  }

SEE ALSO:
  - store.go: Uses the store sentinels
  - earnings.go: Promotes partial-commit failures to fatal errors
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPrice is returned when a negative or non-numeric price is
	// supplied to the pricing policy. Rejected before any state change.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrUnknownWorker is returned by operations referencing a worker id
	// with no corresponding roster record. AmountOwed treats this case as
	// zero instead; MarkPaid propagates it (nothing to pay).
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrStoreConflict is returned when an atomic read-modify-write could
	// not be committed because a concurrent writer won. Retryable.
	ErrStoreConflict = errors.New("store conflict")

	// ErrStoreUnavailable wraps transient I/O failures. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned by Get for a key with no document.
	ErrNotFound = errors.New("document not found")

	// ErrNoQuota is returned by quota lookups when no target is set.
	ErrNoQuota = errors.New("no quota set")

	// ErrStaleCycle is returned when a payment would move a worker's
	// cycle start backward. Cycle starts are monotonically non-decreasing.
	ErrStaleCycle = errors.New("payment predates current cycle start")

	// ErrStoreRequired is returned when MarkPaid is given a store without
	// multi-key transaction support. Cycle reset and quota clearing must
	// commit as one unit or not at all.
	ErrStoreRequired = errors.New("operation requires transactional store")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidPriceError reports which price was rejected and why.
type InvalidPriceError struct {
	Field string // "standard", "partner", or a worker id
	Given string
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price for %s: %q (must be a decimal >= 0)", e.Field, e.Given)
}

func (e *InvalidPriceError) Unwrap() error { return ErrInvalidPrice }

// ConflictError reports which key lost a compare-and-set race.
type ConflictError struct {
	Key      string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store conflict on %q after %d attempts", e.Key, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrStoreConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreConflict) || errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrUnknownWorker) ||
		errors.Is(err, ErrStaleCycle)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoQuota)
}
