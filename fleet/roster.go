/*
Package fleet implements the fleet-operations domain over the record store.

PURPOSE:
  The engine package is deliberately narrow: it knows worker profiles,
  harvest events and payment cycles, nothing else. This package owns the
  surrounding domain documents - the worker roster and the harvest write
  boundary - and feeds the engine through its interfaces.

KEY CONCEPTS IN THIS FILE (roster.go):
  - Worker: The full administration-owned worker record
  - Roster: Store-backed worker directory (implements
    engine.WorkerDirectory)

MUTATION RULES:
  Worker records are mutated only via explicit admin edit operations.
  Removing a worker never retroactively alters the harvest ledger or
  payment history; those documents reference the worker id and remain
  valid forever.

SEE ALSO:
  - harvest.go: The harvest-event write boundary
  - engine/types.go: WorkerProfile, the engine's view of a worker
*/
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidewater/fleet-engine/engine"
)

// =============================================================================
// WORKER - Administration-owned record
// =============================================================================

// Worker is the roster record for one member of the fleet.
type Worker struct {
	ID        engine.WorkerID  `json:"id"`
	Name      string           `json:"name"`
	Role      engine.Role      `json:"role"`
	Group     engine.GroupID   `json:"group,omitempty"`
	Partner   bool             `json:"partner,omitempty"`
	CreatedAt engine.TimePoint `json:"created_at"`
}

// Profile is the engine's view of the worker.
func (w Worker) Profile() engine.WorkerProfile {
	return engine.WorkerProfile{ID: w.ID, Group: w.Group, Partner: w.Partner}
}

type rosterDocument struct {
	Workers map[string]Worker `json:"workers,omitempty"`
}

// =============================================================================
// ROSTER - Store-backed worker directory
// =============================================================================

// Roster reads and mutates the worker-roster document.
type Roster struct {
	store engine.RecordStore
}

func NewRoster(store engine.RecordStore) *Roster {
	return &Roster{store: store}
}

// Compile-time check that Roster satisfies the engine's directory.
var _ engine.WorkerDirectory = (*Roster)(nil)

// Lookup implements engine.WorkerDirectory.
func (r *Roster) Lookup(ctx context.Context, id engine.WorkerID) (engine.WorkerProfile, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return engine.WorkerProfile{}, err
	}
	return w.Profile(), nil
}

// Get returns the worker record, or ErrUnknownWorker.
func (r *Roster) Get(ctx context.Context, id engine.WorkerID) (Worker, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return Worker{}, err
	}
	w, ok := doc.Workers[string(id)]
	if !ok {
		return Worker{}, fmt.Errorf("%s: %w", id, engine.ErrUnknownWorker)
	}
	return w, nil
}

// List returns all workers, sorted by name then id.
func (r *Roster) List(ctx context.Context) ([]Worker, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Worker, 0, len(doc.Workers))
	for _, w := range doc.Workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GroupMembers returns the ids of workers in the given group.
func (r *Roster) GroupMembers(ctx context.Context, g engine.GroupID) ([]engine.WorkerID, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	var out []engine.WorkerID
	for _, w := range doc.Workers {
		if w.Group == g {
			out = append(out, w.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Save creates or replaces a worker record (explicit admin edit).
func (r *Roster) Save(ctx context.Context, w Worker) error {
	if w.ID == "" {
		return fmt.Errorf("worker id is required")
	}
	if w.Name == "" {
		return fmt.Errorf("worker name is required")
	}
	if !w.Role.Valid() {
		return fmt.Errorf("invalid role %q", w.Role)
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = engine.Now()
	}

	_, err := r.store.ReadModifyWrite(ctx, engine.KeyWorkerRoster, func(cur engine.Document) (json.RawMessage, error) {
		var doc rosterDocument
		if err := cur.DecodeInto(&doc); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
		if doc.Workers == nil {
			doc.Workers = make(map[string]Worker)
		}
		if existing, ok := doc.Workers[string(w.ID)]; ok {
			w.CreatedAt = existing.CreatedAt
		}
		doc.Workers[string(w.ID)] = w
		return json.Marshal(doc)
	})
	return err
}

// Remove deletes the roster record. Ledger entries and payment history
// referencing the worker are untouched: past earnings never change.
func (r *Roster) Remove(ctx context.Context, id engine.WorkerID) error {
	_, err := r.store.ReadModifyWrite(ctx, engine.KeyWorkerRoster, func(cur engine.Document) (json.RawMessage, error) {
		var doc rosterDocument
		if err := cur.DecodeInto(&doc); err != nil {
			return nil, fmt.Errorf("decode roster: %w", err)
		}
		if _, ok := doc.Workers[string(id)]; !ok {
			return nil, fmt.Errorf("%s: %w", id, engine.ErrUnknownWorker)
		}
		delete(doc.Workers, string(id))
		return json.Marshal(doc)
	})
	return err
}

func (r *Roster) load(ctx context.Context) (rosterDocument, error) {
	var doc rosterDocument
	raw, err := r.store.Get(ctx, engine.KeyWorkerRoster)
	if err != nil {
		if engine.IsNotFound(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("load roster: %w", err)
	}
	if err := raw.DecodeInto(&doc); err != nil {
		return rosterDocument{}, fmt.Errorf("decode roster: %w", err)
	}
	return doc, nil
}
