/*
pricing.go - Per-unit price resolution

PURPOSE:
  Resolves the effective unit price for a worker from the pricing-policy
  document: a standard price, a partner ("parceria") price, and optional
  per-worker overrides.

RESOLUTION ORDER (effective price for worker W):
  1. Per-worker override for W, if present and numeric
  2. Partner price, if W is flagged partner
  3. Standard price
  4. Fixed system fallback, if the policy document is absent or unreadable

  Resolution is a pure function of a snapshot; it never fails.

VALIDATION:
  Setting any price validates price >= 0 and rejects otherwise with
  ErrInvalidPrice, before any state change. Stored values are decimal
  strings; a non-numeric stored value is skipped during resolution
  (typed defaulting, not type-sniffing).

SNAPSHOT CACHING:
  Decoded snapshots are cached in an LRU keyed by document version. A
  snapshot for version N can never be served once the store holds N+1,
  because the caller always reads the current version first. Nothing is
  cached across a MarkPaid transaction boundary for the same reason.

SEE ALSO:
  - earnings.go: AmountOwed multiplies quantity by the effective price
*/
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

// FallbackUnitPrice applies when the pricing-policy document holds no
// usable standard price at all. Kept deliberately low so a wiped policy
// document underpays rather than overpays until an admin resets prices.
var FallbackUnitPrice = decimal.NewFromInt(30)

// =============================================================================
// POLICY DOCUMENT - Stored shape
// =============================================================================

// policyDocument is the JSON shape under the pricing-policy key.
// Prices are decimal strings to keep the document exact.
type policyDocument struct {
	Standard  string            `json:"standard,omitempty"`
	Partner   string            `json:"partner,omitempty"`
	Overrides map[string]string `json:"overrides,omitempty"`
}

// =============================================================================
// POLICY SNAPSHOT - Decoded, immutable view
// =============================================================================

// PolicySnapshot is a decoded pricing policy at a specific document
// version. Snapshots are immutable; each computation takes its own.
type PolicySnapshot struct {
	Version   int64
	Standard  Money
	Partner   Money
	overrides map[WorkerID]Money
}

// EffectivePrice resolves the per-unit price for the worker. Pure, total.
func (s *PolicySnapshot) EffectivePrice(w WorkerProfile) Money {
	if p, ok := s.overrides[w.ID]; ok {
		return p
	}
	if w.Partner {
		return s.Partner
	}
	return s.Standard
}

// Override returns the per-worker override, if one is set.
func (s *PolicySnapshot) Override(id WorkerID) (Money, bool) {
	p, ok := s.overrides[id]
	return p, ok
}

// Overrides returns a copy of all per-worker overrides.
func (s *PolicySnapshot) Overrides() map[WorkerID]Money {
	out := make(map[WorkerID]Money, len(s.overrides))
	for id, p := range s.overrides {
		out[id] = p
	}
	return out
}

func decodeSnapshot(doc Document) *PolicySnapshot {
	var stored policyDocument
	// A corrupt policy document degrades to the fallback price rather
	// than blocking every earnings computation.
	if doc.Exists() && len(doc.Data) > 0 {
		if err := json.Unmarshal(doc.Data, &stored); err != nil {
			stored = policyDocument{}
		}
	}

	snap := &PolicySnapshot{
		Version:   doc.Version,
		Standard:  Money{Value: FallbackUnitPrice},
		overrides: make(map[WorkerID]Money, len(stored.Overrides)),
	}

	if d, err := decimal.NewFromString(stored.Standard); err == nil && !d.IsNegative() {
		snap.Standard = Money{Value: d}
	}

	// Partner price falls back to the standard price, not the constant.
	snap.Partner = snap.Standard
	if d, err := decimal.NewFromString(stored.Partner); err == nil && !d.IsNegative() {
		snap.Partner = Money{Value: d}
	}

	for id, raw := range stored.Overrides {
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			continue // unusable override: worker falls through to globals
		}
		snap.overrides[WorkerID(id)] = Money{Value: d}
	}

	return snap
}

// =============================================================================
// PRICING - Store-backed policy access
// =============================================================================

const snapshotCacheSize = 32

// Pricing reads and mutates the pricing-policy document.
type Pricing struct {
	store RecordStore
	cache *lru.Cache[int64, *PolicySnapshot]
}

func NewPricing(store RecordStore) *Pricing {
	cache, _ := lru.New[int64, *PolicySnapshot](snapshotCacheSize)
	return &Pricing{store: store, cache: cache}
}

// Snapshot returns the current pricing policy. The decoded form is
// cached per document version; the store read itself is never skipped.
func (p *Pricing) Snapshot(ctx context.Context) (*PolicySnapshot, error) {
	doc, err := p.store.Get(ctx, KeyPricingPolicy)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	if snap, ok := p.cache.Get(doc.Version); ok {
		return snap, nil
	}
	snap := decodeSnapshot(doc)
	p.cache.Add(doc.Version, snap)
	return snap, nil
}

// SnapshotFrom decodes the policy through an explicit store view.
// Used inside MarkPaid transactions, bypassing the cross-call cache.
func (p *Pricing) SnapshotFrom(ctx context.Context, store RecordStore) (*PolicySnapshot, error) {
	doc, err := store.Get(ctx, KeyPricingPolicy)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	return decodeSnapshot(doc), nil
}

// SetGlobalPrices sets the standard and partner per-unit prices.
func (p *Pricing) SetGlobalPrices(ctx context.Context, standard, partner Money) error {
	if standard.IsNegative() {
		return &InvalidPriceError{Field: "standard", Given: standard.String()}
	}
	if partner.IsNegative() {
		return &InvalidPriceError{Field: "partner", Given: partner.String()}
	}

	_, err := p.store.ReadModifyWrite(ctx, KeyPricingPolicy, func(cur Document) (json.RawMessage, error) {
		var doc policyDocument
		if err := cur.DecodeInto(&doc); err != nil {
			doc = policyDocument{}
		}
		doc.Standard = standard.String()
		doc.Partner = partner.String()
		return json.Marshal(doc)
	})
	if err != nil {
		return fmt.Errorf("set global prices: %w", err)
	}
	return nil
}

// SetWorkerOverride sets the per-worker price override.
func (p *Pricing) SetWorkerOverride(ctx context.Context, id WorkerID, price Money) error {
	if price.IsNegative() {
		return &InvalidPriceError{Field: string(id), Given: price.String()}
	}

	_, err := p.store.ReadModifyWrite(ctx, KeyPricingPolicy, func(cur Document) (json.RawMessage, error) {
		var doc policyDocument
		if err := cur.DecodeInto(&doc); err != nil {
			doc = policyDocument{}
		}
		if doc.Overrides == nil {
			doc.Overrides = make(map[string]string)
		}
		doc.Overrides[string(id)] = price.String()
		return json.Marshal(doc)
	})
	if err != nil {
		return fmt.Errorf("set override for %s: %w", id, err)
	}
	return nil
}

// ClearWorkerOverride removes the per-worker override; the worker falls
// back to the global prices. No-op if no override exists.
func (p *Pricing) ClearWorkerOverride(ctx context.Context, id WorkerID) error {
	_, err := p.store.ReadModifyWrite(ctx, KeyPricingPolicy, func(cur Document) (json.RawMessage, error) {
		var doc policyDocument
		if err := cur.DecodeInto(&doc); err != nil {
			doc = policyDocument{}
		}
		delete(doc.Overrides, string(id))
		return json.Marshal(doc)
	})
	if err != nil {
		return fmt.Errorf("clear override for %s: %w", id, err)
	}
	return nil
}
