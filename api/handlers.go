/*
handlers.go - HTTP API handlers for the fleet earnings engine

PURPOSE:
  Exposes the earnings engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Workers:
    GET    /api/workers                 List the roster
    POST   /api/workers                 Create or replace a worker
    GET    /api/workers/{id}            Get worker details
    DELETE /api/workers/{id}            Remove from roster
    POST   /api/workers/{id}/harvest    Log a harvest event
    GET    /api/workers/{id}/harvest    Event history
    GET    /api/workers/{id}/owed       Current cycle earnings
    POST   /api/workers/{id}/mark-paid  Settle the current cycle
    GET    /api/workers/{id}/payments   Payment history
    GET    /api/workers/{id}/quota      Quota progress (current cycle)
    PUT    /api/workers/{id}/quota      Set harvest target
    DELETE /api/workers/{id}/quota      Clear harvest target

  Groups:
    GET    /api/groups/{id}/quota       Group progress (union of member cycles)
    PUT    /api/groups/{id}/quota       Set group target
    DELETE /api/groups/{id}/quota       Clear group target

  Pricing:
    GET    /api/pricing                 Effective pricing policy
    PUT    /api/pricing                 Set global standard/partner prices
    PUT    /api/pricing/overrides/{id}  Set per-worker override
    DELETE /api/pricing/overrides/{id}  Clear per-worker override

  Admin:
    POST   /api/admin/payrun            Settle several workers at once

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, stale payment timestamps
  - 404: Unknown worker, no quota configured
  - 409: Store write conflict after retries
  - 503: Store unavailable
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tidewater/fleet-engine/engine"
	"github.com/tidewater/fleet-engine/fleet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *engine.Engine
	Roster  *fleet.Roster
	Harvest *fleet.HarvestLog

	store engine.TxRecordStore

	// Track currently loaded demo scenario
	currentScenario string
}

// NewHandler wires the handler over the given transactional store.
// inception is the organization-wide cycle start for never-paid workers.
func NewHandler(store engine.TxRecordStore, inception engine.TimePoint) *Handler {
	roster := fleet.NewRoster(store)
	return &Handler{
		Engine:  engine.New(store, roster, inception),
		Roster:  roster,
		Harvest: fleet.NewHarvestLog(store, roster),
		store:   store,
	}
}

// =============================================================================
// WORKER HANDLERS
// =============================================================================

// ListWorkers returns the full roster.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.Roster.List(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to list workers", err)
		return
	}

	dtos := make([]WorkerDTO, len(workers))
	for i, wk := range workers {
		dtos[i] = toWorkerDTO(wk)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetWorker returns a single roster record.
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	wk, err := h.Roster.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to get worker", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerDTO(wk))
}

// SaveWorker creates or replaces a roster record.
func (h *Handler) SaveWorker(w http.ResponseWriter, r *http.Request) {
	var req SaveWorkerRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wk := fleet.Worker{
		ID:      engine.WorkerID(req.ID),
		Name:    req.Name,
		Role:    engine.Role(req.Role),
		Group:   engine.GroupID(req.Group),
		Partner: req.Partner,
	}
	if err := h.Roster.Save(r.Context(), wk); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to save worker", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkerDTO(wk))
}

// RemoveWorker deletes the roster record. The harvest ledger and payment
// history remain intact.
func (h *Handler) RemoveWorker(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	if err := h.Roster.Remove(r.Context(), id); err != nil {
		writeEngineError(w, "Failed to remove worker", err)
		return
	}
	h.Engine.ForgetWorker(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// =============================================================================
// HARVEST HANDLERS
// =============================================================================

// LogHarvest appends one harvest event to the worker's ledger.
func (h *Handler) LogHarvest(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	var req HarvestRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	occurredAt, ok := parseTimestamp(req.OccurredAt)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid occurred_at (use RFC3339)", nil)
		return
	}

	event, err := h.Harvest.Append(r.Context(), id, req.Quantity, occurredAt)
	if err != nil {
		if errors.Is(err, fleet.ErrInvalidQuantity) {
			writeError(w, http.StatusBadRequest, "Quantity must be positive", err)
			return
		}
		writeEngineError(w, "Failed to log harvest", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHarvestEventDTO(event))
}

// ListHarvest returns the worker's event history, oldest first.
func (h *Handler) ListHarvest(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	events, err := h.Engine.Ledger().EventsFor(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to list harvest events", err)
		return
	}

	dtos := make([]HarvestEventDTO, len(events))
	for i, e := range events {
		dtos[i] = toHarvestEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EARNINGS HANDLERS
// =============================================================================

// GetOwed returns the earnings breakdown for the current payment cycle.
// Accepts ?as_of=RFC3339; defaults to now.
func (h *Handler) GetOwed(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	asOf, ok := parseTimestamp(r.URL.Query().Get("as_of"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid as_of (use RFC3339)", nil)
		return
	}

	owed, err := h.Engine.ComputeOwed(r.Context(), id, asOf)
	if err != nil {
		writeEngineError(w, "Failed to compute earnings", err)
		return
	}
	writeJSON(w, http.StatusOK, toOwedDTO(owed))
}

// MarkPaid settles the worker's current cycle: computes the owed amount,
// records the payment, advances the cycle start and clears the worker's
// quota, all atomically.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	var req MarkPaidRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	paidAt, ok := parseTimestamp(req.PaidAt)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid paid_at (use RFC3339)", nil)
		return
	}
	if paidAt.IsZero() {
		paidAt = engine.Now()
	}

	payment, err := h.Engine.MarkPaid(r.Context(), id, req.ApprovedBy, paidAt)
	if err != nil {
		writeEngineError(w, "Failed to mark paid", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(payment))
}

// ListPayments returns the worker's settled payments, oldest first.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	records, err := h.Engine.Cycles().PaymentHistory(r.Context(), id)
	if err != nil {
		writeEngineError(w, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(records))
	for i, p := range records {
		dtos[i] = PaymentDTO{
			ID:         string(p.ID),
			WorkerID:   string(id),
			AmountPaid: p.AmountMoney().String(),
			Quantity:   p.Quantity,
			PaidAt:     p.PaidAt.String(),
			ApprovedBy: p.ApprovedBy,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunPayRun settles several workers concurrently. Always returns 200 with
// per-worker outcomes; individual failures do not abort the run.
func (h *Handler) RunPayRun(w http.ResponseWriter, r *http.Request) {
	var req PayRunRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ids := make([]engine.WorkerID, len(req.WorkerIDs))
	for i, id := range req.WorkerIDs {
		ids[i] = engine.WorkerID(id)
	}

	results := h.Engine.PayRun(r.Context(), ids, req.ApprovedBy, engine.Now())

	dtos := make([]PayRunResultDTO, len(results))
	for i, res := range results {
		dto := PayRunResultDTO{WorkerID: string(res.WorkerID)}
		if res.Err != nil {
			dto.Error = res.Err.Error()
		} else {
			p := toPaymentDTO(res.Payment)
			dto.Payment = &p
		}
		dtos[i] = dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PRICING HANDLERS
// =============================================================================

// GetPricing returns the effective pricing policy.
func (h *Handler) GetPricing(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Engine.Pricing().Snapshot(r.Context())
	if err != nil {
		writeEngineError(w, "Failed to read pricing policy", err)
		return
	}

	dto := PricingDTO{
		Version:  snap.Version,
		Standard: snap.Standard.String(),
		Partner:  snap.Partner.String(),
	}
	if overrides := snap.Overrides(); len(overrides) > 0 {
		dto.Overrides = make(map[string]string, len(overrides))
		for id, p := range overrides {
			dto.Overrides[string(id)] = p.String()
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// SetPrices sets the global standard and partner prices. Existing per-worker
// overrides are preserved.
func (h *Handler) SetPrices(w http.ResponseWriter, r *http.Request) {
	var req SetPricesRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	standard, err := engine.ParseMoney(req.Standard)
	if err != nil {
		writeEngineError(w, "Invalid standard price", err)
		return
	}
	partner := standard
	if req.Partner != "" {
		if partner, err = engine.ParseMoney(req.Partner); err != nil {
			writeEngineError(w, "Invalid partner price", err)
			return
		}
	}

	if err := h.Engine.Pricing().SetGlobalPrices(r.Context(), standard, partner); err != nil {
		writeEngineError(w, "Failed to set prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SetOverride sets a per-worker price override.
func (h *Handler) SetOverride(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	var req SetOverrideRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	price, err := engine.ParseMoney(req.Price)
	if err != nil {
		writeEngineError(w, "Invalid override price", err)
		return
	}

	if err := h.Engine.Pricing().SetWorkerOverride(r.Context(), id, price); err != nil {
		writeEngineError(w, "Failed to set override", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ClearOverride removes a per-worker price override; the worker falls back
// to the global prices.
func (h *Handler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	if err := h.Engine.Pricing().ClearWorkerOverride(r.Context(), id); err != nil {
		writeEngineError(w, "Failed to clear override", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// QUOTA HANDLERS
// =============================================================================

// GetWorkerQuota reports the worker's progress toward their harvest target
// within the current calendar week. Quota windows are calendar periods,
// not payment cycles; paying a worker clears the target but does not
// change what this week's events sum to.
func (h *Handler) GetWorkerQuota(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))
	ctx := r.Context()

	target, err := h.Engine.Quotas().TargetForWorker(ctx, id)
	if err != nil {
		writeEngineError(w, "Failed to get quota", err)
		return
	}

	now := engine.Now()
	progress, err := h.Engine.Quotas().ProgressForWorker(ctx, id, now.StartOfWeek(), now)
	if err != nil {
		writeEngineError(w, "Failed to compute progress", err)
		return
	}

	writeJSON(w, http.StatusOK, quotaProgress(target, progress))
}

// SetWorkerQuota sets the worker's harvest target.
func (h *Handler) SetWorkerQuota(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	var req SetQuotaRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.Quotas().SetWorkerTarget(r.Context(), id, req.Target); err != nil {
		writeEngineError(w, "Failed to set quota", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ClearWorkerQuota removes the worker's harvest target.
func (h *Handler) ClearWorkerQuota(w http.ResponseWriter, r *http.Request) {
	id := engine.WorkerID(chi.URLParam(r, "id"))

	if err := h.Engine.Quotas().ClearWorker(r.Context(), id); err != nil {
		writeEngineError(w, "Failed to clear quota", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetGroupQuota reports the group's combined progress over the current
// calendar week.
func (h *Handler) GetGroupQuota(w http.ResponseWriter, r *http.Request) {
	g := engine.GroupID(chi.URLParam(r, "id"))
	ctx := r.Context()

	target, err := h.Engine.Quotas().TargetForGroup(ctx, g)
	if err != nil {
		writeEngineError(w, "Failed to get group quota", err)
		return
	}

	members, err := h.Roster.GroupMembers(ctx, g)
	if err != nil {
		writeEngineError(w, "Failed to resolve group members", err)
		return
	}

	now := engine.Now()
	progress, err := h.Engine.Quotas().ProgressForGroup(ctx, members, now.StartOfWeek(), now)
	if err != nil {
		writeEngineError(w, "Failed to compute progress", err)
		return
	}

	writeJSON(w, http.StatusOK, quotaProgress(target, progress))
}

// SetGroupQuota sets the group's harvest target.
func (h *Handler) SetGroupQuota(w http.ResponseWriter, r *http.Request) {
	g := engine.GroupID(chi.URLParam(r, "id"))

	var req SetQuotaRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.Quotas().SetGroupTarget(r.Context(), g, req.Target); err != nil {
		writeEngineError(w, "Failed to set group quota", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ClearGroupQuota removes the group's harvest target.
func (h *Handler) ClearGroupQuota(w http.ResponseWriter, r *http.Request) {
	g := engine.GroupID(chi.URLParam(r, "id"))

	if err := h.Engine.Quotas().ClearGroup(r.Context(), g); err != nil {
		writeEngineError(w, "Failed to clear group quota", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func quotaProgress(target, progress int64) QuotaProgressDTO {
	remaining := target - progress
	if remaining < 0 {
		remaining = 0
	}
	return QuotaProgressDTO{
		Target:    target,
		Progress:  progress,
		Remaining: remaining,
		Met:       progress >= target,
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// parseTimestamp parses an optional RFC3339 timestamp. Empty input is a
// valid zero TimePoint; callers decide the default.
func parseTimestamp(s string) (engine.TimePoint, bool) {
	if s == "" {
		return engine.TimePoint{}, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return engine.TimePoint{}, false
	}
	return engine.TimePoint{Time: t}, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps domain errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err), errors.Is(err, engine.ErrUnknownWorker):
		writeError(w, http.StatusNotFound, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, engine.ErrStoreConflict):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, engine.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
