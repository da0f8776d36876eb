/*
store.go - Persistence interface for credit batches

PURPOSE:
  Defines the interface between the ledger and the database. Batches
  are insert-then-decrement: a batch row is created once and only its
  hours_remaining ever changes, always through ApplyDecrements with an
  optimistic-lock check.

OPTIMISTIC LOCKING:
  Every Decrement carries the HoursRemaining value the ledger read.
  The store applies the decrement only if the stored value still
  matches; otherwise the whole call fails with
  ErrConcurrentModification and NOTHING is applied. This is what makes
  multi-batch redemption all-or-nothing.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Durable SQLite store (production)
  - credit/store/memory.go: In-memory store for tests

SEE ALSO:
  - ledger.go: Retry loop and per-customer serialization on top
*/
package credit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DECREMENT - One optimistic batch deduction
// =============================================================================

// Decrement deducts Hours from a batch, guarded by the remaining
// value the caller observed.
type Decrement struct {
	BatchID  string
	Hours    decimal.Decimal
	Expected decimal.Decimal // observed HoursRemaining; CAS guard
}

// =============================================================================
// STORE
// =============================================================================

// Store persists credit batches.
//
// Contract:
//   - InsertBatch never overwrites an existing batch id.
//   - BatchesByCustomer returns batches ordered by PurchasedAt
//     ascending (FIFO order), including exhausted/expired ones.
//   - ApplyDecrements is atomic: all decrements apply or none do, and
//     a failed CAS returns ErrConcurrentModification.
//   - ArchiveExpired marks every unarchived batch with
//     ExpiresAt <= now and returns how many were archived.
type Store interface {
	InsertBatch(ctx context.Context, b Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	BatchesByCustomer(ctx context.Context, customerID string) ([]Batch, error)
	ApplyDecrements(ctx context.Context, decs []Decrement) error
	ArchiveExpired(ctx context.Context, now time.Time) (int, error)
}
