/*
payment.go - Payment Collaborator boundary

PURPOSE:
  The engine never moves money itself. This file defines the opaque
  boundary to the external payment collaborator: a Provider charges an
  amount against a method and either confirms or fails. Everything
  about gateways, cards, and PIX lives on the other side.

CANCELLATION:
  Charge takes a context; a caller timeout cancels the wait for
  confirmation. The orchestrator guarantees a cancelled or failed
  charge never leaves a credit batch behind.

SANDBOX:
  Sandbox is a configurable stand-in for development and demos. It
  approves after an optional delay and can be pinned to decline, so
  the full purchase flow works without a real integration.
*/
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PROVIDER INTERFACE
// =============================================================================

// Method identifies how the customer pays.
type Method string

const (
	MethodCard Method = "card"
	MethodPIX  Method = "pix"
)

// Valid reports whether the method is known.
func (m Method) Valid() bool {
	return m == MethodCard || m == MethodPIX
}

// ChargeRequest is what the engine hands the payment collaborator.
type ChargeRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Method      Method
	IntentToken string
}

// ChargeResult is a confirmed payment.
type ChargeResult struct {
	ProviderRef string
}

// Provider is the external payment collaborator. Charge returns only
// after the payment is confirmed or definitively failed; ctx
// cancellation aborts the wait.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrPaymentFailed is the sentinel for declined, errored, or
	// timed-out payments.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrPurchaseInFlight is returned when a purchase intent with the
	// same token is still pending in another request.
	ErrPurchaseInFlight = errors.New("purchase already in flight")

	// ErrQuoteStale is returned when a caller-supplied quote was
	// priced under a config version that is no longer current.
	ErrQuoteStale = errors.New("quote is stale")
)

// PaymentFailedError details a failed charge.
type PaymentFailedError struct {
	Method Method
	Reason string
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment failed (%s): %s", e.Method, e.Reason)
}

func (e *PaymentFailedError) Unwrap() error { return ErrPaymentFailed }

// =============================================================================
// SANDBOX PROVIDER
// =============================================================================

// Sandbox approves (or declines) charges without touching a gateway.
type Sandbox struct {
	// Delay simulates gateway latency. The charge respects ctx
	// cancellation during the delay.
	Delay time.Duration

	// Decline forces every charge to fail.
	Decline bool
}

func (s *Sandbox) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return ChargeResult{}, &PaymentFailedError{Method: req.Method, Reason: "confirmation timed out"}
		}
	}
	if s.Decline {
		return ChargeResult{}, &PaymentFailedError{Method: req.Method, Reason: "declined by sandbox"}
	}
	return ChargeResult{ProviderRef: "sandbox-" + uuid.NewString()}, nil
}
