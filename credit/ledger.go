/*
ledger.go - Credit ledger operations

PURPOSE:
  The Ledger is the sole mutator of batch balances. It folds batches
  into CustomerCredit views, creates batches on confirmed purchases,
  and redeems hours FIFO across batches.

CRITICAL INVARIANTS:
  1. NON-NEGATIVITY: availableHours(customer) >= 0 after any sequence
     of CreateBatch/Redeem calls. Two concurrent redeems for the same
     customer must never both succeed in overdrawing.
  2. FIFO: redemption exhausts the oldest non-expired batch(es) before
     touching newer ones; expired batches are never consumed.
  3. ALL-OR-NOTHING: a redemption either deducts exactly the requested
     hours across however many batches it spans, or deducts nothing.

CONCURRENCY:
  Writes are serialized PER CUSTOMER, not globally: a keyed mutex
  covers in-process callers, and the store's optimistic-lock check
  (ApplyDecrements) covers out-of-band writers. CAS conflicts are
  retried a bounded number of times before ConcurrentUpdateError
  surfaces. Operations on different customers never contend.

OBSERVABILITY:
  Every failed redemption is logged with customer id and requested
  quantity, for reconciliation.

SEE ALSO:
  - store.go: Persistence contract
  - checkout/checkout.go: Creates batches on confirmed payment
*/
package credit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER
// =============================================================================

const defaultRedeemRetries = 3

// Ledger coordinates all batch reads and writes for the engine.
type Ledger struct {
	store      Store
	logger     *zap.Logger
	expiryDays int
	maxRetries int
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-customer write serialization
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithExpiryDays overrides the 365-day batch lifetime.
func WithExpiryDays(days int) Option {
	return func(l *Ledger) { l.expiryDays = days }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger attaches a logger for redemption/purchase audit logs.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithMaxRetries bounds the optimistic-lock retry budget.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) { l.maxRetries = n }
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		logger:     zap.NewNop(),
		expiryDays: 365,
		maxRetries: defaultRedeemRetries,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// customerLock returns the mutex serializing writes for one customer.
func (l *Ledger) customerLock(customerID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[customerID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[customerID] = m
	}
	return m
}

// =============================================================================
// READS
// =============================================================================

// Balance folds the customer's non-expired batches into a credit view.
// Pure read; consistent with concurrent writers because each batch row
// is read atomically and expired batches contribute nothing either way.
func (l *Ledger) Balance(ctx context.Context, customerID string) (CustomerCredit, error) {
	batches, err := l.store.BatchesByCustomer(ctx, customerID)
	if err != nil {
		return CustomerCredit{}, err
	}
	return Fold(batches, l.now()), nil
}

// Batches returns the customer's full batch history, oldest first.
func (l *Ledger) Batches(ctx context.Context, customerID string) ([]Batch, error) {
	return l.store.BatchesByCustomer(ctx, customerID)
}

// Fold computes the derived credit view over a set of batches.
// Expired batches are excluded entirely: a batch past ExpiresAt
// contributes 0 regardless of its HoursRemaining.
func Fold(batches []Batch, now time.Time) CustomerCredit {
	total := decimal.Zero
	available := decimal.Zero
	for _, b := range batches {
		if b.Expired(now) {
			continue
		}
		total = total.Add(b.HoursPurchased)
		available = available.Add(b.HoursRemaining)
	}
	return CustomerCredit{
		TotalHours:     total,
		UsedHours:      total.Sub(available),
		AvailableHours: available,
	}
}

// =============================================================================
// BATCH CREATION
// =============================================================================

// NewBatch constructs (without persisting) a batch for a confirmed
// purchase. Exposed so the checkout orchestrator can persist the batch
// atomically with its payment record.
func NewBatch(customerID string, hours decimal.Decimal, now time.Time, expiryDays int) (Batch, error) {
	if !hours.IsPositive() {
		return Batch{}, &InvalidPurchaseError{CustomerID: customerID, Hours: hours}
	}
	return Batch{
		ID:             uuid.NewString(),
		CustomerID:     customerID,
		HoursPurchased: hours,
		HoursRemaining: hours,
		PurchasedAt:    now,
		ExpiresAt:      now.AddDate(0, 0, expiryDays),
	}, nil
}

// BatchFor builds a batch using the ledger's clock and expiry policy.
func (l *Ledger) BatchFor(customerID string, hours decimal.Decimal) (Batch, error) {
	return NewBatch(customerID, hours, l.now().UTC(), l.expiryDays)
}

// CreateBatch persists a new batch of purchased hours.
// Invoked by the checkout orchestrator after payment confirmation;
// fails with InvalidPurchaseError for non-positive quantities.
func (l *Ledger) CreateBatch(ctx context.Context, customerID string, hours decimal.Decimal) (Batch, error) {
	b, err := l.BatchFor(customerID, hours)
	if err != nil {
		return Batch{}, err
	}

	lock := l.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()

	if err := l.store.InsertBatch(ctx, b); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// =============================================================================
// REDEMPTION
// =============================================================================

// Redeem consumes hoursRequested from the customer's oldest non-expired
// batches, splitting across batches as needed. All-or-nothing: on any
// failure no batch is changed. FeeWaived is true on success because
// prepaid redemption bypasses the service fee.
func (l *Ledger) Redeem(ctx context.Context, customerID string, hoursRequested decimal.Decimal) (RedemptionResult, error) {
	if !hoursRequested.IsPositive() {
		return RedemptionResult{}, &InvalidPurchaseError{CustomerID: customerID, Hours: hoursRequested}
	}

	lock := l.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < l.maxRetries; attempt++ {
		result, err := l.redeemOnce(ctx, customerID, hoursRequested)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			l.logFailedRedeem(customerID, hoursRequested, err)
			return RedemptionResult{}, err
		}
	}

	err := &ConcurrentUpdateError{CustomerID: customerID, Attempts: l.maxRetries}
	l.logFailedRedeem(customerID, hoursRequested, err)
	return RedemptionResult{}, err
}

// redeemOnce makes one optimistic attempt: read, plan FIFO, apply.
func (l *Ledger) redeemOnce(ctx context.Context, customerID string, hoursRequested decimal.Decimal) (RedemptionResult, error) {
	now := l.now()

	batches, err := l.store.BatchesByCustomer(ctx, customerID)
	if err != nil {
		return RedemptionResult{}, err
	}

	// Plan the FIFO consumption. BatchesByCustomer returns oldest first.
	var (
		decs      []Decrement
		consumed  []Consumption
		remaining = hoursRequested
		available = decimal.Zero
	)
	for _, b := range batches {
		if b.Expired(now) || b.Exhausted() {
			continue
		}
		available = available.Add(b.HoursRemaining)
		if !remaining.IsPositive() {
			continue
		}
		take := decimal.Min(b.HoursRemaining, remaining)
		decs = append(decs, Decrement{
			BatchID:  b.ID,
			Hours:    take,
			Expected: b.HoursRemaining,
		})
		consumed = append(consumed, Consumption{BatchID: b.ID, Hours: take})
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		return RedemptionResult{}, &InsufficientCreditError{
			CustomerID: customerID,
			Available:  available,
			Requested:  hoursRequested,
			Shortfall:  hoursRequested.Sub(available),
		}
	}

	// Atomic apply: any CAS mismatch rolls everything back and we retry.
	if err := l.store.ApplyDecrements(ctx, decs); err != nil {
		return RedemptionResult{}, err
	}

	return RedemptionResult{
		HoursRedeemed: hoursRequested,
		FeeWaived:     true,
		Consumed:      consumed,
	}, nil
}

func (l *Ledger) logFailedRedeem(customerID string, hours decimal.Decimal, err error) {
	l.logger.Warn("redemption failed",
		zap.String("customer_id", customerID),
		zap.String("hours_requested", hours.String()),
		zap.Error(err),
	)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// ArchiveExpired marks expired batches as archived. Storage hygiene
// only: expired batches already contribute nothing to balances.
func (l *Ledger) ArchiveExpired(ctx context.Context) (int, error) {
	return l.store.ArchiveExpired(ctx, l.now())
}
