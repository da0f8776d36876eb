/*
errors.go - Centralized error types for the credit ledger

PURPOSE:
  All ledger error types in one place. The taxonomy follows the
  engine's error handling design:
  - Validation errors (InvalidPurchaseError): caller-input problems
  - Business-rule errors (InsufficientCreditError): expected and
    recoverable, not a system fault
  - Concurrency conflicts (ErrConcurrentModification): transient,
    retried internally; ConcurrentUpdateError surfaces only after
    retries are exhausted

USAGE:
  if errors.Is(err, credit.ErrInsufficientCredit) {
      // prompt the customer to buy more hours or pay full price
  }
*/
package credit

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientCredit is returned when a redemption asks for
	// more hours than the customer has available.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrInvalidPurchase is returned when a batch would be created
	// with a non-positive hour quantity.
	ErrInvalidPurchase = errors.New("invalid purchase")

	// ErrConcurrentModification is returned by stores when an
	// optimistic-lock check fails. Transient; the ledger retries.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrBatchNotFound is returned when a referenced batch does not exist.
	ErrBatchNotFound = errors.New("batch not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditError details a balance shortage.
type InsufficientCreditError struct {
	CustomerID string
	Available  decimal.Decimal
	Requested  decimal.Decimal
	Shortfall  decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for %s: available %s, requested %s, shortfall %s",
		e.CustomerID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// InvalidPurchaseError details a rejected batch creation.
type InvalidPurchaseError struct {
	CustomerID string
	Hours      decimal.Decimal
}

func (e *InvalidPurchaseError) Error() string {
	return fmt.Sprintf("invalid purchase for %s: hours must be positive, got %s",
		e.CustomerID, e.Hours)
}

func (e *InvalidPurchaseError) Unwrap() error { return ErrInvalidPurchase }

// ConcurrentUpdateError is surfaced after the bounded retry budget
// for optimistic-lock conflicts is exhausted.
type ConcurrentUpdateError struct {
	CustomerID string
	Attempts   int
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("concurrent update on credit for %s: gave up after %d attempts",
		e.CustomerID, e.Attempts)
}

func (e *ConcurrentUpdateError) Unwrap() error { return ErrConcurrentModification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports whether the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError reports whether the error is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrInvalidPurchase)
}
