/*
errors.go - Pricing error types

PURPOSE:
  Caller-input errors raised by the calculator. These are validation
  errors in the engine's taxonomy: returned synchronously, never
  retried, and mapped to 400 responses by the API layer.
*/
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidHours is returned when a duration is outside the
	// bookable range.
	ErrInvalidHours = errors.New("invalid hours")

	// ErrInvalidCharacteristics is returned when job characteristics
	// are malformed (non-positive counts, unknown complexity).
	ErrInvalidCharacteristics = errors.New("invalid job characteristics")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidHoursError reports a duration outside [Min, Max].
type InvalidHoursError struct {
	Hours decimal.Decimal
	Min   decimal.Decimal
	Max   decimal.Decimal
}

func (e *InvalidHoursError) Error() string {
	return fmt.Sprintf("invalid hours: %s not in bookable range [%s, %s]",
		e.Hours, e.Min, e.Max)
}

func (e *InvalidHoursError) Unwrap() error { return ErrInvalidHours }

// InvalidCharacteristicsError reports malformed multiplier inputs.
type InvalidCharacteristicsError struct {
	Characteristics JobCharacteristics
}

func (e *InvalidCharacteristicsError) Error() string {
	return fmt.Sprintf("invalid job characteristics: environments=%d people=%d complexity=%q",
		e.Characteristics.Environments, e.Characteristics.People, e.Characteristics.Complexity)
}

func (e *InvalidCharacteristicsError) Unwrap() error { return ErrInvalidCharacteristics }
