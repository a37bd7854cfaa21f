/*
PURPOSE:
  The harvest write boundary. All harvest events enter the ledger through
  HarvestLog.Append, which is the only place quantity validation happens:
  once an event is committed it is immutable, so everything downstream
  (earnings, quota progress) only has to defend against what older
  document versions may contain, not against new garbage.

KEY CONCEPTS:
  - Events are append-only. There is no update or delete operation here;
    correcting a mistaken entry is an administrative override outside
    this package.
  - Append commits before returning, so a successful call is immediately
    visible to any subsequent earnings computation.

SEE ALSO:
  - engine/ledger.go: Read-side aggregation over the same document
*/
package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tidewater/fleet-engine/engine"
)

// ErrInvalidQuantity rejects harvest entries that are zero or negative.
var ErrInvalidQuantity = errors.New("harvest quantity must be positive")

// =============================================================================
// HARVEST LOG - Append-only event boundary
// =============================================================================

// HarvestLog appends harvest events to the shared ledger document.
type HarvestLog struct {
	store  engine.RecordStore
	roster *Roster
}

func NewHarvestLog(store engine.RecordStore, roster *Roster) *HarvestLog {
	return &HarvestLog{store: store, roster: roster}
}

// Append validates and records one harvest event for the worker.
// A zero occurredAt is stamped with the current time.
func (h *HarvestLog) Append(ctx context.Context, workerID engine.WorkerID, quantity int64, occurredAt engine.TimePoint) (engine.HarvestEvent, error) {
	if quantity <= 0 {
		return engine.HarvestEvent{}, fmt.Errorf("%d: %w", quantity, ErrInvalidQuantity)
	}
	if _, err := h.roster.Lookup(ctx, workerID); err != nil {
		return engine.HarvestEvent{}, err
	}
	if occurredAt.IsZero() {
		occurredAt = engine.Now()
	}

	event := engine.HarvestEvent{
		ID:         uuid.NewString(),
		WorkerID:   workerID,
		Quantity:   quantity,
		OccurredAt: occurredAt,
	}

	_, err := h.store.ReadModifyWrite(ctx, engine.KeyHarvestLedger, func(cur engine.Document) (json.RawMessage, error) {
		var doc engine.LedgerDocument
		if err := cur.DecodeInto(&doc); err != nil {
			return nil, fmt.Errorf("decode ledger: %w", err)
		}
		doc.Events = append(doc.Events, event)
		return json.Marshal(doc)
	})
	if err != nil {
		return engine.HarvestEvent{}, fmt.Errorf("append harvest for %s: %w", workerID, err)
	}
	return event, nil
}
