/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates workers, pricing,
	quotas, and harvest events that demonstrate specific features.

AVAILABLE SCENARIOS:

	small-fleet:     Three workers, global pricing, a few harvests
	partner-pricing: Partner price and a per-worker override in play
	quota-drive:     Worker and group quotas with partial progress
	payday:          A settled cycle plus fresh post-payment harvests

HOW SCENARIOS WORK:
 1. Reset store (clear all documents)
 2. Set global prices
 3. Create workers
 4. Log harvest events
 5. Optionally set quotas and settle payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partner-pricing"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring used by the loaders
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidewater/fleet-engine/engine"
	"github.com/tidewater/fleet-engine/fleet"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-fleet",
		Name:        "Small Fleet",
		Description: "Three workers on global pricing with a few logged harvests",
	},
	{
		ID:          "partner-pricing",
		Name:        "Partner Pricing",
		Description: "Partner rate plus a per-worker override beating both globals",
	},
	{
		ID:          "quota-drive",
		Name:        "Quota Drive",
		Description: "Worker and group harvest targets with partial progress",
	},
	{
		ID:          "payday",
		Name:        "Payday",
		Description: "One settled payment cycle and fresh harvests after it",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	// Scenario ID exists but not in list (shouldn't happen)
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// resetter is implemented by stores that support wiping all documents.
type resetter interface {
	Reset(ctx context.Context) error
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.resetStore(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "small-fleet":
		err = h.loadSmallFleet(ctx)
	case "partner-pricing":
		err = h.loadPartnerPricing(ctx)
	case "quota-drive":
		err = h.loadQuotaDrive(ctx)
	case "payday":
		err = h.loadPayday(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetStore clears all data.
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	if err := h.resetStore(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) resetStore(ctx context.Context) error {
	rs, ok := h.store.(resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	if err := rs.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedWorker saves a worker and fails loudly; loaders run sequentially.
func (h *Handler) seedWorker(ctx context.Context, id, name string, role engine.Role, group engine.GroupID, partner bool) error {
	return h.Roster.Save(ctx, fleet.Worker{
		ID:      engine.WorkerID(id),
		Name:    name,
		Role:    role,
		Group:   group,
		Partner: partner,
	})
}

func (h *Handler) seedHarvest(ctx context.Context, id string, quantities ...int64) error {
	at := engine.Now().AddDays(-len(quantities))
	for i, q := range quantities {
		if _, err := h.Harvest.Append(ctx, engine.WorkerID(id), q, at.AddDays(i)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSmallFleet(ctx context.Context) error {
	if err := h.Engine.Pricing().SetGlobalPrices(ctx, engine.NewMoneyFromInt(30), engine.NewMoneyFromInt(30)); err != nil {
		return err
	}

	if err := h.seedWorker(ctx, "marina", "Marina", engine.RoleWorker, "dawn-crew", false); err != nil {
		return err
	}
	if err := h.seedWorker(ctx, "rui", "Rui", engine.RoleWorker, "dawn-crew", false); err != nil {
		return err
	}
	if err := h.seedWorker(ctx, "tomas", "Tomas", engine.RoleSupervisor, "", false); err != nil {
		return err
	}

	if err := h.seedHarvest(ctx, "marina", 12, 8, 15); err != nil {
		return err
	}
	return h.seedHarvest(ctx, "rui", 5, 9)
}

func (h *Handler) loadPartnerPricing(ctx context.Context) error {
	if err := h.Engine.Pricing().SetGlobalPrices(ctx, engine.NewMoneyFromInt(30), engine.NewMoneyFromInt(45)); err != nil {
		return err
	}

	if err := h.seedWorker(ctx, "marina", "Marina", engine.RoleWorker, "", false); err != nil {
		return err
	}
	if err := h.seedWorker(ctx, "silva", "Silva", engine.RoleWorker, "", true); err != nil {
		return err
	}
	if err := h.seedWorker(ctx, "costa", "Costa", engine.RoleWorker, "", true); err != nil {
		return err
	}

	// Costa negotiated above even the partner rate.
	if err := h.Engine.Pricing().SetWorkerOverride(ctx, "costa", engine.NewMoneyFromInt(50)); err != nil {
		return err
	}

	for _, id := range []string{"marina", "silva", "costa"} {
		if err := h.seedHarvest(ctx, id, 10); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadQuotaDrive(ctx context.Context) error {
	if err := h.Engine.Pricing().SetGlobalPrices(ctx, engine.NewMoneyFromInt(30), engine.NewMoneyFromInt(30)); err != nil {
		return err
	}

	if err := h.seedWorker(ctx, "marina", "Marina", engine.RoleWorker, "dawn-crew", false); err != nil {
		return err
	}
	if err := h.seedWorker(ctx, "rui", "Rui", engine.RoleWorker, "dawn-crew", false); err != nil {
		return err
	}

	if err := h.Engine.Quotas().SetWorkerTarget(ctx, "marina", 100); err != nil {
		return err
	}
	if err := h.Engine.Quotas().SetGroupTarget(ctx, "dawn-crew", 250); err != nil {
		return err
	}

	if err := h.seedHarvest(ctx, "marina", 30, 25); err != nil {
		return err
	}
	return h.seedHarvest(ctx, "rui", 40)
}

func (h *Handler) loadPayday(ctx context.Context) error {
	if err := h.Engine.Pricing().SetGlobalPrices(ctx, engine.NewMoneyFromInt(30), engine.NewMoneyFromInt(30)); err != nil {
		return err
	}

	if err := h.seedWorker(ctx, "marina", "Marina", engine.RoleWorker, "", false); err != nil {
		return err
	}

	// A full settled cycle: harvests, then payment.
	if err := h.seedHarvest(ctx, "marina", 20, 18); err != nil {
		return err
	}
	if _, err := h.Engine.MarkPaid(ctx, "marina", "demo-admin", engine.Now().AddDays(-1)); err != nil {
		return err
	}

	// Fresh harvests in the new cycle.
	if _, err := h.Harvest.Append(ctx, "marina", 7, engine.Now()); err != nil {
		return err
	}
	return nil
}
