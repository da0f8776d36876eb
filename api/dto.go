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

MONEY AND HOURS:
  Decimal amounts cross the wire as strings ("2770.00", "12.5") to
  avoid float drift in clients. Parsing happens in handlers.

TYPES:
  Catalog:
    PackageDTO, SuggestionDTO

  Quotes:
    QuoteRequest, QuoteDTO

  Credit:
    CreditDTO, BatchDTO, RedemptionRequest, RedemptionDTO

  Purchases:
    PurchaseRequestDTO, ReceiptDTO

SEE ALSO:
  - handlers.go: Uses these types
  - pricing/calculator.go: Breakdown (internal counterpart of QuoteDTO)
*/
package api

import (
	"time"

	"github.com/limpahora/hours-engine/catalog"
	"github.com/limpahora/hours-engine/checkout"
	"github.com/limpahora/hours-engine/credit"
	"github.com/limpahora/hours-engine/pricing"
)

// =============================================================================
// CATALOG TYPES
// =============================================================================

// PackageDTO represents one purchasable hour package.
type PackageDTO struct {
	Hours        string `json:"hours"`
	PricePerHour string `json:"price_per_hour"`
	TotalPrice   string `json:"total_price"`
}

func toPackageDTO(p catalog.HourPackage) PackageDTO {
	return PackageDTO{
		Hours:        p.Hours.String(),
		PricePerHour: p.PricePerHour.String(),
		TotalPrice:   p.TotalPrice.String(),
	}
}

// SuggestionDTO is the catalog suggestion for a monthly hour need.
type SuggestionDTO struct {
	HoursNeeded string     `json:"hours_needed"`
	Suggested   PackageDTO `json:"suggested"`
}

// =============================================================================
// QUOTE TYPES
// =============================================================================

// QuoteRequest asks for an itemized price.
type QuoteRequest struct {
	Hours        string `json:"hours"`
	Environments int    `json:"environments,omitempty"`
	People       int    `json:"people,omitempty"`
	Complexity   string `json:"complexity,omitempty"`
}

// QuoteDTO is the itemized price for one booking.
type QuoteDTO struct {
	Hours           string `json:"hours"`
	PricePerHour    string `json:"price_per_hour"`
	BasePrice       string `json:"base_price"`
	ServiceFee      string `json:"service_fee"`
	PostWorkFee     string `json:"post_work_fee"`
	OrganizationFee string `json:"organization_fee"`
	ProductFee      string `json:"product_fee"`
	FinalPrice      string `json:"final_price"`
	Currency        string `json:"currency"`
	ConfigVersion   string `json:"config_version"`
}

func toQuoteDTO(b pricing.Breakdown, currency string) QuoteDTO {
	return QuoteDTO{
		Hours:           b.Hours.String(),
		PricePerHour:    b.PricePerHour.String(),
		BasePrice:       b.BasePrice.String(),
		ServiceFee:      b.ServiceFee.String(),
		PostWorkFee:     b.PostWorkFee.String(),
		OrganizationFee: b.OrganizationFee.String(),
		ProductFee:      b.ProductFee.String(),
		FinalPrice:      b.FinalPrice.String(),
		Currency:        currency,
		ConfigVersion:   b.ConfigVersion,
	}
}

// =============================================================================
// CREDIT TYPES
// =============================================================================

// CreditDTO summarizes a customer's prepaid hours.
type CreditDTO struct {
	CustomerID     string `json:"customer_id"`
	TotalHours     string `json:"total_hours"`
	UsedHours      string `json:"used_hours"`
	AvailableHours string `json:"available_hours"`
}

// BatchDTO represents one purchased hour batch.
type BatchDTO struct {
	ID             string `json:"id"`
	HoursPurchased string `json:"hours_purchased"`
	HoursRemaining string `json:"hours_remaining"`
	PurchasedAt    string `json:"purchased_at"`
	ExpiresAt      string `json:"expires_at"`
	State          string `json:"state"`
}

func toBatchDTO(b credit.Batch, now time.Time) BatchDTO {
	return BatchDTO{
		ID:             b.ID,
		HoursPurchased: b.HoursPurchased.String(),
		HoursRemaining: b.HoursRemaining.String(),
		PurchasedAt:    b.PurchasedAt.Format(time.RFC3339),
		ExpiresAt:      b.ExpiresAt.Format(time.RFC3339),
		State:          string(b.State(now)),
	}
}

// RedemptionRequest books hours against prepaid credit.
type RedemptionRequest struct {
	Hours string `json:"hours"`
}

// ConsumptionDTO records hours taken from one batch.
type ConsumptionDTO struct {
	BatchID string `json:"batch_id"`
	Hours   string `json:"hours"`
}

// RedemptionDTO is the outcome of a redemption.
type RedemptionDTO struct {
	HoursRedeemed string           `json:"hours_redeemed"`
	FeeWaived     bool             `json:"fee_waived"`
	Consumed      []ConsumptionDTO `json:"consumed"`
}

// =============================================================================
// PURCHASE TYPES
// =============================================================================

// PurchaseRequestDTO starts (or retries) a package purchase.
type PurchaseRequestDTO struct {
	Hours        string `json:"hours"`
	Method       string `json:"method"`
	IntentToken  string `json:"intent_token"`
	QuoteVersion string `json:"quote_version,omitempty"`
}

// ReceiptDTO confirms a completed purchase.
type ReceiptDTO struct {
	PurchaseID string    `json:"purchase_id"`
	BatchID    string    `json:"batch_id"`
	Hours      string    `json:"hours"`
	FinalPrice string    `json:"final_price"`
	Currency   string    `json:"currency"`
	Breakdown  *QuoteDTO `json:"breakdown,omitempty"`
}

func toReceiptDTO(rec checkout.Receipt) ReceiptDTO {
	dto := ReceiptDTO{
		PurchaseID: rec.PurchaseID,
		BatchID:    rec.BatchID,
		Hours:      rec.Hours.String(),
		FinalPrice: rec.FinalPrice.String(),
		Currency:   rec.Currency,
	}
	if rec.Breakdown != nil {
		q := toQuoteDTO(*rec.Breakdown, rec.Currency)
		dto.Breakdown = &q
	}
	return dto
}

// =============================================================================
// CONFIG / ADMIN TYPES
// =============================================================================

// PricingInfoDTO exposes the active pricing snapshot (without rates).
type PricingInfoDTO struct {
	ConfigVersion    string `json:"config_version"`
	Currency         string `json:"currency"`
	MinBookableHours string `json:"min_bookable_hours"`
	MaxBookableHours string `json:"max_bookable_hours"`
	CatalogHours     []int  `json:"catalog_hours"`
	CreditExpiryDays int    `json:"credit_expiry_days"`
}

// SweepResultDTO reports an expiration sweep.
type SweepResultDTO struct {
	Archived int    `json:"archived"`
	SweptAt  string `json:"swept_at"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
