/*
handlers.go - HTTP API handlers for the hours engine

PURPOSE:
  Exposes the pricing, catalog, credit, and checkout engines via REST
  API. Handles HTTP request/response, JSON serialization, and delegates
  to domain logic.

ENDPOINTS:
  Catalog:
    GET    /api/packages                       List hour packages
    GET    /api/packages/suggest?hours=N       Suggest package for need

  Quotes:
    POST   /api/quotes                         Itemized price quote

  Customers:
    GET    /api/customers/{id}/credit          Credit summary
    GET    /api/customers/{id}/batches         Batch history
    POST   /api/customers/{id}/purchases       Purchase hour package
    POST   /api/customers/{id}/redemptions     Redeem prepaid hours

  Config:
    GET    /api/config/pricing                 Active pricing snapshot

  Admin:
    POST   /api/admin/sweep                    Archive expired batches

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (calculator, ledger, orchestrator)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 402: Payment declined or timed out
  - 404: Resource not found
  - 409: Insufficient credit, concurrent conflict, purchase in flight,
         stale quote
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - sweeper.go: Background expiration sweep
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/limpahora/hours-engine/catalog"
	"github.com/limpahora/hours-engine/checkout"
	"github.com/limpahora/hours-engine/credit"
	"github.com/limpahora/hours-engine/pricing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Pricing  *pricing.Source
	Catalog  *catalog.Catalog
	Ledger   *credit.Ledger
	Checkout *checkout.Orchestrator
	Logger   *zap.Logger
}

// NewHandler creates a new handler. A nil logger is replaced with a
// no-op one.
func NewHandler(src *pricing.Source, cat *catalog.Catalog, ledger *credit.Ledger, co *checkout.Orchestrator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Pricing:  src,
		Catalog:  cat,
		Ledger:   ledger,
		Checkout: co,
		Logger:   logger,
	}
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListPackages returns the current hour package catalog.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	packages := h.Catalog.List()

	dtos := make([]PackageDTO, len(packages))
	for i, p := range packages {
		dtos[i] = toPackageDTO(p)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"config_version": h.Catalog.Version(),
		"packages":       dtos,
	})
}

// SuggestPackage suggests the smallest package covering a monthly need.
func (h *Handler) SuggestPackage(w http.ResponseWriter, r *http.Request) {
	hours, err := decimal.NewFromString(r.URL.Query().Get("hours"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours parameter", err)
		return
	}
	if !hours.IsPositive() {
		writeError(w, http.StatusBadRequest, "Hours must be positive", nil)
		return
	}

	writeJSON(w, http.StatusOK, SuggestionDTO{
		HoursNeeded: hours.String(),
		Suggested:   toPackageDTO(h.Catalog.Suggest(hours)),
	})
}

// =============================================================================
// QUOTE HANDLERS
// =============================================================================

// CreateQuote returns an itemized price for a booking.
func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	hours, err := decimal.NewFromString(req.Hours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours value", err)
		return
	}

	ch := pricing.DefaultCharacteristics()
	if req.Environments > 0 {
		ch.Environments = req.Environments
	}
	if req.People > 0 {
		ch.People = req.People
	}
	if req.Complexity != "" {
		ch.Complexity = pricing.Complexity(req.Complexity)
	}

	calc := h.Pricing.Current()
	breakdown, err := calc.ComputePrice(hours, ch)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toQuoteDTO(breakdown, calc.Currency()))
}

// =============================================================================
// CREDIT HANDLERS
// =============================================================================

// GetCredit returns a customer's prepaid hour summary.
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	summary, err := h.Ledger.Balance(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get credit", err)
		return
	}

	writeJSON(w, http.StatusOK, CreditDTO{
		CustomerID:     customerID,
		TotalHours:     summary.TotalHours.String(),
		UsedHours:      summary.UsedHours.String(),
		AvailableHours: summary.AvailableHours.String(),
	})
}

// ListBatches returns a customer's batch history, oldest first.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	batches, err := h.Ledger.Batches(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}

	now := time.Now().UTC()
	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b, now)
	}

	writeJSON(w, http.StatusOK, map[string]any{"batches": dtos})
}

// Redeem books hours against a customer's prepaid credit.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	var req RedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	hours, err := decimal.NewFromString(req.Hours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours value", err)
		return
	}

	result, err := h.Ledger.Redeem(r.Context(), customerID, hours)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	consumed := make([]ConsumptionDTO, len(result.Consumed))
	for i, c := range result.Consumed {
		consumed[i] = ConsumptionDTO{BatchID: c.BatchID, Hours: c.Hours.String()}
	}

	writeJSON(w, http.StatusOK, RedemptionDTO{
		HoursRedeemed: result.HoursRedeemed.String(),
		FeeWaived:     result.FeeWaived,
		Consumed:      consumed,
	})
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// Purchase buys an hour package for a customer.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")

	var req PurchaseRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	hours, err := decimal.NewFromString(req.Hours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours value", err)
		return
	}

	receipt, err := h.Checkout.PurchasePackage(r.Context(), checkout.PurchaseRequest{
		CustomerID:   customerID,
		Hours:        hours,
		Method:       checkout.Method(req.Method),
		IntentToken:  req.IntentToken,
		QuoteVersion: req.QuoteVersion,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

// =============================================================================
// CONFIG / ADMIN HANDLERS
// =============================================================================

// GetPricingInfo exposes the active pricing snapshot.
func (h *Handler) GetPricingInfo(w http.ResponseWriter, r *http.Request) {
	calc := h.Pricing.Current()
	min, max := calc.Bounds()

	writeJSON(w, http.StatusOK, PricingInfoDTO{
		ConfigVersion:    calc.Version(),
		Currency:         calc.Currency(),
		MinBookableHours: min.String(),
		MaxBookableHours: max.String(),
		CatalogHours:     calc.CatalogHours(),
		CreditExpiryDays: calc.CreditExpiryDays(),
	})
}

// TriggerSweep archives expired batches immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	archived, err := h.Ledger.ArchiveExpired(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sweep expired batches", err)
		return
	}

	writeJSON(w, http.StatusOK, SweepResultDTO{
		Archived: archived,
		SweptAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

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

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pricing.ErrInvalidHours),
		errors.Is(err, pricing.ErrInvalidCharacteristics),
		errors.Is(err, credit.ErrInvalidPurchase):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, checkout.ErrPaymentFailed):
		writeError(w, http.StatusPaymentRequired, "Payment failed", err)
	case errors.Is(err, credit.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, credit.ErrInsufficientCredit):
		writeError(w, http.StatusConflict, "Insufficient credit", err)
	case errors.Is(err, credit.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "Concurrent update, retry", err)
	case errors.Is(err, checkout.ErrPurchaseInFlight):
		writeError(w, http.StatusConflict, "Purchase already in progress", err)
	case errors.Is(err, checkout.ErrQuoteStale):
		writeError(w, http.StatusConflict, "Quote is stale, request a new one", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
