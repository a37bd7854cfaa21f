/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request bodies are validated with go-playground/validator struct tags
  via decodeAndValidate. Domain rules (price >= 0, cycle monotonicity)
  stay in the engine; tags only cover shape and presence.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: Domain types these map from
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/tidewater/fleet-engine/engine"
	"github.com/tidewater/fleet-engine/fleet"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeAndValidate decodes the request body into dst and runs struct
// validation. Returns a client-facing error message on failure.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// =============================================================================
// WORKER TYPES
// =============================================================================

// WorkerDTO represents a roster record in API responses.
type WorkerDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Group     string `json:"group,omitempty"`
	Partner   bool   `json:"partner"`
	CreatedAt string `json:"created_at,omitempty"`
}

// SaveWorkerRequest creates or replaces a worker record.
type SaveWorkerRequest struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Role    string `json:"role" validate:"required"`
	Group   string `json:"group,omitempty"`
	Partner bool   `json:"partner,omitempty"`
}

// =============================================================================
// HARVEST TYPES
// =============================================================================

// HarvestRequest logs one harvest event for a worker.
type HarvestRequest struct {
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	OccurredAt string `json:"occurred_at,omitempty"` // RFC3339; empty = now
}

// HarvestEventDTO represents one ledger entry.
type HarvestEventDTO struct {
	ID         string `json:"id"`
	WorkerID   string `json:"worker_id"`
	Quantity   int64  `json:"quantity"`
	OccurredAt string `json:"occurred_at"`
}

// =============================================================================
// EARNINGS AND PAYMENT TYPES
// =============================================================================

// OwedDTO is the earnings snapshot for one worker.
type OwedDTO struct {
	WorkerID   string `json:"worker_id"`
	CycleStart string `json:"cycle_start"`
	AsOf       string `json:"as_of"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	Amount     string `json:"amount"`
}

// MarkPaidRequest settles a worker's current cycle.
type MarkPaidRequest struct {
	ApprovedBy string `json:"approved_by" validate:"required"`
	PaidAt     string `json:"paid_at,omitempty"` // RFC3339; empty = now
}

// PaymentDTO represents one settled payment.
type PaymentDTO struct {
	ID         string `json:"id"`
	WorkerID   string `json:"worker_id"`
	AmountPaid string `json:"amount_paid"`
	Quantity   int64  `json:"quantity"`
	PaidAt     string `json:"paid_at"`
	ApprovedBy string `json:"approved_by"`
}

// PayRunRequest settles several workers in one operation.
type PayRunRequest struct {
	WorkerIDs  []string `json:"worker_ids" validate:"required,min=1,dive,required"`
	ApprovedBy string   `json:"approved_by" validate:"required"`
}

// PayRunResultDTO is the per-worker outcome of a pay run.
type PayRunResultDTO struct {
	WorkerID string      `json:"worker_id"`
	Payment  *PaymentDTO `json:"payment,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// =============================================================================
// PRICING TYPES
// =============================================================================

// PricingDTO represents the effective pricing policy.
type PricingDTO struct {
	Version   int64             `json:"version"`
	Standard  string            `json:"standard"`
	Partner   string            `json:"partner"`
	Overrides map[string]string `json:"overrides,omitempty"`
}

// SetPricesRequest sets the global standard and partner prices.
type SetPricesRequest struct {
	Standard string `json:"standard" validate:"required"`
	Partner  string `json:"partner,omitempty"` // empty = same as standard
}

// SetOverrideRequest sets a per-worker price override.
type SetOverrideRequest struct {
	Price string `json:"price" validate:"required"`
}

// =============================================================================
// QUOTA TYPES
// =============================================================================

// SetQuotaRequest sets a harvest target.
type SetQuotaRequest struct {
	Target int64 `json:"target" validate:"gte=0"`
}

// QuotaProgressDTO reports progress toward a target in the current cycle.
type QuotaProgressDTO struct {
	Target    int64 `json:"target"`
	Progress  int64 `json:"progress"`
	Remaining int64 `json:"remaining"`
	Met       bool  `json:"met"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toWorkerDTO(w fleet.Worker) WorkerDTO {
	dto := WorkerDTO{
		ID:      string(w.ID),
		Name:    w.Name,
		Role:    string(w.Role),
		Group:   string(w.Group),
		Partner: w.Partner,
	}
	if !w.CreatedAt.IsZero() {
		dto.CreatedAt = w.CreatedAt.String()
	}
	return dto
}

func toHarvestEventDTO(e engine.HarvestEvent) HarvestEventDTO {
	return HarvestEventDTO{
		ID:         e.ID,
		WorkerID:   string(e.WorkerID),
		Quantity:   e.Quantity,
		OccurredAt: e.OccurredAt.String(),
	}
}

func toOwedDTO(o engine.Owed) OwedDTO {
	return OwedDTO{
		WorkerID:   string(o.WorkerID),
		CycleStart: o.CycleStart.String(),
		AsOf:       o.AsOf.String(),
		Quantity:   o.Quantity,
		UnitPrice:  o.UnitPrice.String(),
		Amount:     o.Amount.String(),
	}
}

func toPaymentDTO(p engine.Payment) PaymentDTO {
	return PaymentDTO{
		ID:         string(p.ID),
		WorkerID:   string(p.WorkerID),
		AmountPaid: p.AmountPaid.String(),
		Quantity:   p.Quantity,
		PaidAt:     p.PaidAt.String(),
		ApprovedBy: p.ApprovedBy,
	}
}
