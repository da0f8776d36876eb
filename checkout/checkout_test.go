package checkout_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limpahora/hours-engine/checkout"
	"github.com/limpahora/hours-engine/credit"
	creditstore "github.com/limpahora/hours-engine/credit/store"
	"github.com/limpahora/hours-engine/pricing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testConfigYAML = `
currency: BRL
hours:
  min_bookable: 2
  max_bookable: 420
tiers:
  - min_hours: 1
    max_hours: 59
    rate_per_hour: 40.0
  - min_hours: 60
    max_hours: 119
    rate_per_hour: 32.0
  - min_hours: 120
    rate_per_hour: 25.0
fees:
  service_pct: 0.40
  post_work_pct: 0.20
  organization_pct: 0.10
  product_fee: 50.0
multipliers:
  complexity:
    low: 1.0
    medium: 1.15
    high: 1.35
  per_extra_environment: 0.05
  per_extra_person: 0.03
catalog:
  hours: [40, 60, 80, 100, 120, 160, 200, 240, 300, 360, 420]
credit:
  expiry_days: 365
`

// harness wires an orchestrator over a shared in-memory batch store so
// completed purchases are visible to the ledger.
type harness struct {
	orchestrator *checkout.Orchestrator
	intents      *checkout.MemoryIntents
	store        *creditstore.Memory
	ledger       *credit.Ledger
}

func newHarness(t *testing.T, provider checkout.Provider) *harness {
	t.Helper()

	cfg, err := pricing.Parse([]byte(testConfigYAML))
	require.NoError(t, err)
	source := pricing.NewSource(pricing.Compile(cfg, "v1"))

	store := creditstore.NewMemory()
	ledger := credit.NewLedger(store)
	intents := checkout.NewMemoryIntents(store)

	return &harness{
		orchestrator: checkout.NewOrchestrator(source, provider, intents, ledger, nil),
		intents:      intents,
		store:        store,
		ledger:       ledger,
	}
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validRequest() checkout.PurchaseRequest {
	return checkout.PurchaseRequest{
		CustomerID:  "cust-1",
		Hours:       d("40"),
		Method:      checkout.MethodCard,
		IntentToken: "intent-abc",
	}
}

// =============================================================================
// HAPPY PATH TESTS
// =============================================================================

func TestPurchase_CreatesBatchOnConfirmedPayment(t *testing.T) {
	// GIVEN: An approving payment provider
	// WHEN: Purchasing a 40h package
	// THEN: A receipt with the itemized breakdown, and exactly the
	//       purchased hours credited to the customer

	h := newHarness(t, &checkout.Sandbox{})
	ctx := context.Background()

	receipt, err := h.orchestrator.PurchasePackage(ctx, validRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, receipt.PurchaseID)
	assert.NotEmpty(t, receipt.BatchID)
	assert.True(t, receipt.Hours.Equal(d("40")))
	assert.Equal(t, "2770.00", receipt.FinalPrice.StringFixed(2))
	assert.Equal(t, "BRL", receipt.Currency)
	require.NotNil(t, receipt.Breakdown)
	assert.True(t, receipt.Breakdown.FinalPrice.Equal(receipt.FinalPrice))

	summary, err := h.ledger.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, summary.AvailableHours.Equal(d("40")))

	batch, err := h.store.GetBatch(ctx, receipt.BatchID)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", batch.CustomerID)

	intent, err := h.intents.GetIntent(ctx, "intent-abc")
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, checkout.IntentCompleted, intent.Status)
	assert.Equal(t, receipt.BatchID, intent.BatchID)
	assert.NotEmpty(t, intent.ProviderRef)
}

func TestPurchase_MatchingQuoteVersion_Accepted(t *testing.T) {
	h := newHarness(t, &checkout.Sandbox{})

	req := validRequest()
	req.QuoteVersion = "v1"

	_, err := h.orchestrator.PurchasePackage(context.Background(), req)
	require.NoError(t, err)
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestPurchase_ReplaySameToken_NoSecondBatch(t *testing.T) {
	// GIVEN: A completed purchase
	// WHEN: The same intent token is submitted again
	// THEN: The original receipt is replayed (no breakdown) and the
	//       customer is not credited twice

	h := newHarness(t, &checkout.Sandbox{})
	ctx := context.Background()

	first, err := h.orchestrator.PurchasePackage(ctx, validRequest())
	require.NoError(t, err)

	second, err := h.orchestrator.PurchasePackage(ctx, validRequest())
	require.NoError(t, err)

	assert.Equal(t, first.PurchaseID, second.PurchaseID)
	assert.Equal(t, first.BatchID, second.BatchID)
	assert.True(t, first.FinalPrice.Equal(second.FinalPrice))
	assert.Nil(t, second.Breakdown, "replayed receipts carry no breakdown")

	summary, err := h.ledger.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, summary.AvailableHours.Equal(d("40")), "credited exactly once")
}

func TestPurchase_PendingToken_InFlight(t *testing.T) {
	// GIVEN: An intent already claimed (pending) by another request
	// WHEN: A second request uses the same token
	// THEN: ErrPurchaseInFlight, no charge, no batch

	h := newHarness(t, &checkout.Sandbox{})
	ctx := context.Background()

	req := validRequest()
	_, claimed, err := h.intents.ClaimIntent(ctx, checkout.Intent{
		Token:      req.IntentToken,
		PurchaseID: "other-purchase",
		CustomerID: req.CustomerID,
		Hours:      req.Hours,
	})
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = h.orchestrator.PurchasePackage(ctx, req)
	assert.ErrorIs(t, err, checkout.ErrPurchaseInFlight)

	summary, err := h.ledger.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, summary.AvailableHours.IsZero())
}

func TestPurchase_RetryAfterFailure_Succeeds(t *testing.T) {
	// GIVEN: A declined first attempt
	// WHEN: The same token is retried with payment now approving
	// THEN: The retry completes and exactly one batch exists

	declining := &checkout.Sandbox{Decline: true}
	h := newHarness(t, declining)
	ctx := context.Background()

	_, err := h.orchestrator.PurchasePackage(ctx, validRequest())
	require.ErrorIs(t, err, checkout.ErrPaymentFailed)

	intent, err := h.intents.GetIntent(ctx, "intent-abc")
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, checkout.IntentFailed, intent.Status)
	assert.NotEmpty(t, intent.FailureReason)

	declining.Decline = false
	receipt, err := h.orchestrator.PurchasePackage(ctx, validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.BatchID)

	summary, err := h.ledger.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, summary.AvailableHours.Equal(d("40")))
}

// =============================================================================
// FAILURE PATH TESTS
// =============================================================================

func TestPurchase_Declined_NoBatchCreated(t *testing.T) {
	// GIVEN: A payment provider that declines everything
	// WHEN: Purchasing
	// THEN: ErrPaymentFailed and the ledger is untouched

	h := newHarness(t, &checkout.Sandbox{Decline: true})
	ctx := context.Background()

	_, err := h.orchestrator.PurchasePackage(ctx, validRequest())
	require.ErrorIs(t, err, checkout.ErrPaymentFailed)

	var pfe *checkout.PaymentFailedError
	require.ErrorAs(t, err, &pfe)
	assert.Equal(t, checkout.MethodCard, pfe.Method)

	summary, err := h.ledger.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, summary.AvailableHours.IsZero())

	batches, err := h.store.BatchesByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestPurchase_CancelledDuringCharge_IntentStillFailed(t *testing.T) {
	// GIVEN: A slow provider and a caller deadline shorter than the
	//        gateway delay
	// WHEN: The purchase times out waiting for confirmation
	// THEN: The intent is marked failed despite the dead context, so a
	//       later retry is not blocked by a stuck pending intent

	h := newHarness(t, &checkout.Sandbox{Delay: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.orchestrator.PurchasePackage(ctx, validRequest())
	require.ErrorIs(t, err, checkout.ErrPaymentFailed)

	intent, err := h.intents.GetIntent(context.Background(), "intent-abc")
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, checkout.IntentFailed, intent.Status)
}

func TestPurchase_StaleQuote_Rejected(t *testing.T) {
	h := newHarness(t, &checkout.Sandbox{})

	req := validRequest()
	req.QuoteVersion = "v0"

	_, err := h.orchestrator.PurchasePackage(context.Background(), req)
	assert.ErrorIs(t, err, checkout.ErrQuoteStale)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestPurchase_UnknownMethod_Rejected(t *testing.T) {
	h := newHarness(t, &checkout.Sandbox{})

	req := validRequest()
	req.Method = "barter"

	_, err := h.orchestrator.PurchasePackage(context.Background(), req)
	assert.ErrorIs(t, err, credit.ErrInvalidPurchase)
}

func TestPurchase_MissingIntentToken_Rejected(t *testing.T) {
	h := newHarness(t, &checkout.Sandbox{})

	req := validRequest()
	req.IntentToken = ""

	_, err := h.orchestrator.PurchasePackage(context.Background(), req)
	assert.ErrorIs(t, err, credit.ErrInvalidPurchase)
}

func TestPurchase_HoursOutOfRange_Rejected(t *testing.T) {
	h := newHarness(t, &checkout.Sandbox{})
	ctx := context.Background()

	for _, hours := range []string{"0", "1", "421"} {
		req := validRequest()
		req.Hours = d(hours)

		_, err := h.orchestrator.PurchasePackage(ctx, req)
		require.Error(t, err, "hours=%s", hours)

		var ipe *credit.InvalidPurchaseError
		assert.ErrorAs(t, err, &ipe, "hours=%s", hours)
	}
}
