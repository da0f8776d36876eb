/*
Package credit implements the prepaid-hour credit ledger.

PURPOSE:
  Tracks a customer's purchased-but-unused service hours as batches,
  each with its own expiration clock. Redemption consumes from the
  oldest non-expired batches first (FIFO) and is all-or-nothing.

KEY CONCEPTS IN THIS FILE (types.go):
  - Batch: one purchase's worth of prepaid hours
  - CustomerCredit: derived total/used/available view (never stored)
  - RedemptionResult: outcome of a FIFO redemption

BATCH LIFECYCLE:
  active (remaining > 0, not expired)
    -> exhausted (remaining == 0)     terminal
    -> expired  (now >= ExpiresAt)    terminal
  Terminal batches are inert but retained for audit; a periodic sweep
  may archive them. No transition ever returns a batch to active.

OWNERSHIP:
  A Batch belongs to exactly one customer, and the Ledger is the sole
  mutator of HoursRemaining.

SEE ALSO:
  - ledger.go: Balance, CreateBatch, Redeem
  - store.go: Persistence interface
*/
package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BATCH - One purchase's worth of prepaid hours
// =============================================================================

// Batch is a purchased block of prepaid hours.
type Batch struct {
	ID             string
	CustomerID     string
	HoursPurchased decimal.Decimal
	HoursRemaining decimal.Decimal
	PurchasedAt    time.Time
	ExpiresAt      time.Time

	// ArchivedAt is set by the expiration sweep. Archived batches are
	// kept for audit and already contribute nothing to balances.
	ArchivedAt *time.Time
}

// BatchState classifies a batch at a point in time.
type BatchState string

const (
	BatchActive    BatchState = "active"
	BatchExhausted BatchState = "exhausted"
	BatchExpired   BatchState = "expired"
)

// Expired reports whether the batch's expiration clock has run out.
func (b Batch) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// Exhausted reports whether the batch has no hours left.
func (b Batch) Exhausted() bool {
	return !b.HoursRemaining.IsPositive()
}

// State returns the batch state as of now. Expiration wins over
// exhaustion so an old empty batch reads as expired.
func (b Batch) State(now time.Time) BatchState {
	switch {
	case b.Expired(now):
		return BatchExpired
	case b.Exhausted():
		return BatchExhausted
	default:
		return BatchActive
	}
}

// =============================================================================
// CUSTOMER CREDIT - Derived view, never stored
// =============================================================================

// CustomerCredit is the fold over a customer's non-expired batches.
// AvailableHours == sum of HoursRemaining over non-expired batches,
// and is always >= 0.
type CustomerCredit struct {
	TotalHours     decimal.Decimal
	UsedHours      decimal.Decimal
	AvailableHours decimal.Decimal
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Consumption records hours taken from one batch during a redemption.
type Consumption struct {
	BatchID string
	Hours   decimal.Decimal
}

// RedemptionResult is the outcome of a successful redemption.
// FeeWaived signals the caller that the service-fee component of any
// associated price should be dropped: paying from prepaid credit
// bypasses the service fee.
type RedemptionResult struct {
	HoursRedeemed decimal.Decimal
	FeeWaived     bool
	Consumed      []Consumption
}
