/*
Package checkout coordinates package purchases.

PURPOSE:
  The Orchestrator converts a confirmed payment into a new credit
  batch, and nothing else: price the request, record a purchase
  intent, charge the payment collaborator, then persist the batch
  atomically with the intent's completion.

IDEMPOTENCY:
  Every purchase carries a client-supplied intent token. Retrying a
  request with the same token can never create two batches:
  - completed intent  -> the original receipt is returned, no charge
  - pending intent    -> ErrPurchaseInFlight (another request owns it)
  - failed intent     -> the retry re-claims the intent and charges
                         again (the failed attempt created no batch)

NO SPECULATIVE STATE:
  The batch is created ONLY on explicit payment confirmation. A
  declined charge, an error, or a caller timeout marks the intent
  failed and leaves the ledger untouched - there is no dangling
  unconfirmed batch to clean up.

SEE ALSO:
  - payment.go: Provider boundary and Sandbox
  - credit/ledger.go: Batch construction and expiry policy
  - store/sqlite/sqlite.go: Atomic CompleteIntent implementation
*/
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/limpahora/hours-engine/credit"
	"github.com/limpahora/hours-engine/pricing"
)

// =============================================================================
// PURCHASE INTENT
// =============================================================================

// IntentStatus tracks an intent through its lifecycle.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentCompleted IntentStatus = "completed"
	IntentFailed    IntentStatus = "failed"
)

// Intent is the durable record of one purchase attempt, keyed by the
// client-supplied token.
type Intent struct {
	Token         string
	PurchaseID    string
	CustomerID    string
	Hours         decimal.Decimal
	FinalPrice    decimal.Decimal
	Currency      string
	Method        Method
	Status        IntentStatus
	BatchID       string
	ProviderRef   string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IntentStore persists purchase intents.
//
// Contract:
//   - ClaimIntent inserts the intent as pending and reports
//     claimed=true. If the token already exists: a failed intent is
//     reset to pending and claimed (retry); otherwise the existing
//     intent is returned with claimed=false.
//   - CompleteIntent atomically inserts the batch AND marks the
//     pending intent completed; if the intent is not pending, nothing
//     is written.
//   - FailIntent marks a pending intent failed with a reason.
type IntentStore interface {
	ClaimIntent(ctx context.Context, intent Intent) (*Intent, bool, error)
	GetIntent(ctx context.Context, token string) (*Intent, error)
	CompleteIntent(ctx context.Context, token string, batch credit.Batch, providerRef string) error
	FailIntent(ctx context.Context, token string, reason string) error
}

// =============================================================================
// RECEIPT
// =============================================================================

// Receipt is returned to the caller after a successful (or previously
// completed) purchase.
type Receipt struct {
	PurchaseID string
	BatchID    string
	Hours      decimal.Decimal
	FinalPrice decimal.Decimal
	Currency   string
	Breakdown  *pricing.Breakdown // nil when replaying a completed intent
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator wires the calculator, the payment provider, the intent
// store, and the credit ledger into the purchase flow.
type Orchestrator struct {
	Pricing  *pricing.Source
	Provider Provider
	Intents  IntentStore
	Ledger   *credit.Ledger
	Logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator. A nil logger is replaced
// with a no-op one.
func NewOrchestrator(src *pricing.Source, provider Provider, intents IntentStore, ledger *credit.Ledger, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Pricing:  src,
		Provider: provider,
		Intents:  intents,
		Ledger:   ledger,
		Logger:   logger,
	}
}

// PurchaseRequest is one purchase attempt.
type PurchaseRequest struct {
	CustomerID  string
	Hours       decimal.Decimal
	Method      Method
	IntentToken string

	// QuoteVersion, when set, is the pricing config version of a
	// quote the caller is relying on. A mismatch with the current
	// version fails the purchase with ErrQuoteStale instead of
	// silently charging a different price.
	QuoteVersion string
}

// PurchasePackage executes the full purchase flow. See the package
// comment for the idempotency and no-speculative-state guarantees.
func (o *Orchestrator) PurchasePackage(ctx context.Context, req PurchaseRequest) (Receipt, error) {
	if !req.Method.Valid() {
		return Receipt{}, fmt.Errorf("%w: unknown payment method %q", credit.ErrInvalidPurchase, req.Method)
	}
	if req.IntentToken == "" {
		return Receipt{}, fmt.Errorf("%w: purchase intent token is required", credit.ErrInvalidPurchase)
	}

	calc := o.Pricing.Current()
	if req.QuoteVersion != "" && req.QuoteVersion != calc.Version() {
		return Receipt{}, ErrQuoteStale
	}

	breakdown, err := calc.ComputePrice(req.Hours, pricing.DefaultCharacteristics())
	if err != nil {
		// Out-of-range hours on a purchase are a purchase problem.
		if errors.Is(err, pricing.ErrInvalidHours) {
			return Receipt{}, &credit.InvalidPurchaseError{CustomerID: req.CustomerID, Hours: req.Hours}
		}
		return Receipt{}, err
	}

	intent := Intent{
		Token:      req.IntentToken,
		PurchaseID: uuid.NewString(),
		CustomerID: req.CustomerID,
		Hours:      req.Hours,
		FinalPrice: breakdown.FinalPrice,
		Currency:   calc.Currency(),
		Method:     req.Method,
		Status:     IntentPending,
	}

	existing, claimed, err := o.Intents.ClaimIntent(ctx, intent)
	if err != nil {
		return Receipt{}, err
	}
	if !claimed {
		switch existing.Status {
		case IntentCompleted:
			// Retried request after success: replay the receipt,
			// charge nothing, credit nothing.
			return Receipt{
				PurchaseID: existing.PurchaseID,
				BatchID:    existing.BatchID,
				Hours:      existing.Hours,
				FinalPrice: existing.FinalPrice,
				Currency:   existing.Currency,
			}, nil
		default:
			return Receipt{}, ErrPurchaseInFlight
		}
	}

	result, err := o.Provider.Charge(ctx, ChargeRequest{
		Amount:      breakdown.FinalPrice,
		Currency:    calc.Currency(),
		Method:      req.Method,
		IntentToken: req.IntentToken,
	})
	if err != nil {
		o.failIntent(ctx, req, err)
		if errors.Is(err, ErrPaymentFailed) {
			return Receipt{}, err
		}
		return Receipt{}, &PaymentFailedError{Method: req.Method, Reason: err.Error()}
	}

	batch, err := o.Ledger.BatchFor(req.CustomerID, req.Hours)
	if err != nil {
		o.failIntent(ctx, req, err)
		return Receipt{}, err
	}

	// Batch and intent completion commit together; a crash between
	// charge and commit leaves a pending intent for reconciliation,
	// never a half-credited purchase.
	if err := o.Intents.CompleteIntent(ctx, req.IntentToken, batch, result.ProviderRef); err != nil {
		return Receipt{}, err
	}

	o.Logger.Info("package purchased",
		zap.String("customer_id", req.CustomerID),
		zap.String("batch_id", batch.ID),
		zap.String("hours", req.Hours.String()),
		zap.String("final_price", breakdown.FinalPrice.String()),
	)

	return Receipt{
		PurchaseID: intent.PurchaseID,
		BatchID:    batch.ID,
		Hours:      req.Hours,
		FinalPrice: breakdown.FinalPrice,
		Currency:   calc.Currency(),
		Breakdown:  &breakdown,
	}, nil
}

// failIntent records the failure even when the caller's context is
// already cancelled - otherwise a timed-out purchase would stay
// pending forever and block retries.
func (o *Orchestrator) failIntent(ctx context.Context, req PurchaseRequest, cause error) {
	o.Logger.Warn("purchase failed",
		zap.String("customer_id", req.CustomerID),
		zap.String("hours", req.Hours.String()),
		zap.Error(cause),
	)
	if err := o.Intents.FailIntent(context.WithoutCancel(ctx), req.IntentToken, cause.Error()); err != nil {
		o.Logger.Error("failed to mark intent failed",
			zap.String("intent_token", req.IntentToken),
			zap.Error(err),
		)
	}
}
