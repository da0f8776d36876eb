/*
calculator.go - Itemized price computation

PURPOSE:
  Converts a requested duration plus job characteristics into an
  itemized price breakdown. This is the computational core of the
  engine: everything else (catalog, checkout) prices through here.

PRICING MODEL:
  1. Tier lookup: the TOTAL hour quantity selects one rate tier, and
     every hour in the booking is billed at that tier's rate. This is
     bucket pricing, not marginal/blended pricing - a deliberate,
     auditable business rule (a 60h booking is 60 x tier(60) rate,
     not 59h at one rate plus 1h at another).
  2. basePrice = hours x ratePerHour x characteristics multiplier.
  3. Fees are percentages of the adjusted basePrice (service 40%,
     post-work 20%, organization 10% by default) plus a flat product
     fee.
  4. finalPrice = sum of the five components, rounded half-up to
     2 decimal places exactly once. Intermediate values are kept as
     exact decimals and never rounded.

PURITY:
  A Calculator is immutable once compiled. ComputePrice has no side
  effects and no hidden inputs; reloading config produces a NEW
  Calculator (see Source), it never mutates an existing one.

SEE ALSO:
  - config.go: The raw YAML schema this is compiled from
  - catalog/catalog.go: Precomputes packages through ComputePrice
*/
package pricing

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// =============================================================================
// JOB CHARACTERISTICS
// =============================================================================

// Complexity grades how demanding a cleaning job is.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Valid reports whether the complexity is a known grade.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	}
	return false
}

// JobCharacteristics are the multiplier inputs to the calculator.
type JobCharacteristics struct {
	Environments int
	People       int
	Complexity   Complexity
}

// DefaultCharacteristics is the neutral job profile used to price
// catalog packages: one environment, one person, low complexity.
func DefaultCharacteristics() JobCharacteristics {
	return JobCharacteristics{Environments: 1, People: 1, Complexity: ComplexityLow}
}

// =============================================================================
// RATE TIER
// =============================================================================

// RateTier maps a contiguous hour range to a per-hour rate.
// MaxHours nil means the tier is unbounded.
type RateTier struct {
	MinHours    int
	MaxHours    *int
	RatePerHour decimal.Decimal
}

// Contains reports whether the given total falls into this tier.
func (t RateTier) Contains(hours decimal.Decimal) bool {
	if hours.LessThan(decimal.NewFromInt(int64(t.MinHours))) {
		return false
	}
	if t.MaxHours == nil {
		return true
	}
	return hours.LessThanOrEqual(decimal.NewFromInt(int64(*t.MaxHours)))
}

// =============================================================================
// PRICE BREAKDOWN
// =============================================================================

// Breakdown is the itemized price for one booking. Immutable value
// object: constructed only by ComputePrice, never modified after.
//
// FinalPrice is the only rounded figure; the components are exact.
type Breakdown struct {
	Hours           decimal.Decimal
	PricePerHour    decimal.Decimal
	BasePrice       decimal.Decimal
	ServiceFee      decimal.Decimal
	PostWorkFee     decimal.Decimal
	OrganizationFee decimal.Decimal
	ProductFee      decimal.Decimal
	FinalPrice      decimal.Decimal

	// ConfigVersion identifies the pricing snapshot that produced
	// this breakdown, for quote staleness checks at checkout.
	ConfigVersion string
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator is the compiled, immutable pricing snapshot.
type Calculator struct {
	version  string
	currency string

	minHours decimal.Decimal
	maxHours decimal.Decimal

	tiers []RateTier

	servicePct      decimal.Decimal
	postWorkPct     decimal.Decimal
	organizationPct decimal.Decimal
	productFee      decimal.Decimal

	complexity          map[Complexity]decimal.Decimal
	perExtraEnvironment decimal.Decimal
	perExtraPerson      decimal.Decimal

	catalogHours []int
	expiryDays   int
}

// Compile turns a validated Config into an immutable Calculator.
// version tags the snapshot (bumped on every reload).
func Compile(cfg *Config, version string) *Calculator {
	c := &Calculator{
		version:             version,
		currency:            cfg.Currency,
		minHours:            decimal.NewFromInt(int64(cfg.MinBookableHours)),
		maxHours:            decimal.NewFromInt(int64(cfg.MaxBookableHours)),
		servicePct:          dec(cfg.Fees.ServicePct),
		postWorkPct:         dec(cfg.Fees.PostWorkPct),
		organizationPct:     dec(cfg.Fees.OrganizationPct),
		productFee:          dec(cfg.Fees.ProductFee),
		complexity:          make(map[Complexity]decimal.Decimal, len(cfg.Multipliers.Complexity)),
		perExtraEnvironment: dec(cfg.Multipliers.PerExtraEnvironment),
		perExtraPerson:      dec(cfg.Multipliers.PerExtraPerson),
		catalogHours:        append([]int(nil), cfg.Catalog.Hours...),
		expiryDays:          cfg.Credit.ExpiryDays,
	}
	for _, t := range cfg.Tiers {
		tier := RateTier{MinHours: t.MinHours, RatePerHour: dec(t.RatePerHour)}
		if t.MaxHours != nil {
			max := *t.MaxHours
			tier.MaxHours = &max
		}
		c.tiers = append(c.tiers, tier)
	}
	for name, v := range cfg.Multipliers.Complexity {
		c.complexity[Complexity(name)] = dec(v)
	}
	return c
}

// Version returns the snapshot version tag.
func (c *Calculator) Version() string { return c.version }

// Currency returns the configured currency code.
func (c *Calculator) Currency() string { return c.currency }

// CatalogHours returns the configured package sizes, ascending.
func (c *Calculator) CatalogHours() []int { return append([]int(nil), c.catalogHours...) }

// CreditExpiryDays returns the configured lifetime of a credit batch.
func (c *Calculator) CreditExpiryDays() int { return c.expiryDays }

// Bounds returns the bookable hour range.
func (c *Calculator) Bounds() (min, max decimal.Decimal) { return c.minHours, c.maxHours }

// TierFor returns the single tier containing the given total.
// The config validator guarantees exactly one tier matches any value
// at or above the first tier's minimum.
func (c *Calculator) TierFor(hours decimal.Decimal) (RateTier, bool) {
	for _, t := range c.tiers {
		if t.Contains(hours) {
			return t, true
		}
	}
	return RateTier{}, false
}

// ComputePrice computes the itemized breakdown for a booking.
// Pure: no side effects, no inputs beyond the arguments and the
// compiled snapshot.
func (c *Calculator) ComputePrice(hours decimal.Decimal, ch JobCharacteristics) (Breakdown, error) {
	if hours.LessThan(c.minHours) || hours.GreaterThan(c.maxHours) {
		return Breakdown{}, &InvalidHoursError{Hours: hours, Min: c.minHours, Max: c.maxHours}
	}
	if err := c.validateCharacteristics(ch); err != nil {
		return Breakdown{}, err
	}

	tier, ok := c.TierFor(hours)
	if !ok {
		// Unreachable with a validated config; kept as a guard.
		return Breakdown{}, &InvalidHoursError{Hours: hours, Min: c.minHours, Max: c.maxHours}
	}

	base := hours.Mul(tier.RatePerHour).Mul(c.multiplier(ch))

	service := base.Mul(c.servicePct)
	postWork := base.Mul(c.postWorkPct)
	organization := base.Mul(c.organizationPct)

	// Single rounding step, half-up, at the very end.
	final := base.Add(service).Add(postWork).Add(organization).Add(c.productFee).Round(2)

	return Breakdown{
		Hours:           hours,
		PricePerHour:    tier.RatePerHour,
		BasePrice:       base,
		ServiceFee:      service,
		PostWorkFee:     postWork,
		OrganizationFee: organization,
		ProductFee:      c.productFee,
		FinalPrice:      final,
		ConfigVersion:   c.version,
	}, nil
}

// multiplier evaluates the characteristics multiplier table.
func (c *Calculator) multiplier(ch JobCharacteristics) decimal.Decimal {
	one := decimal.NewFromInt(1)
	m := c.complexity[ch.Complexity]
	m = m.Mul(one.Add(c.perExtraEnvironment.Mul(decimal.NewFromInt(int64(ch.Environments - 1)))))
	m = m.Mul(one.Add(c.perExtraPerson.Mul(decimal.NewFromInt(int64(ch.People - 1)))))
	return m
}

func (c *Calculator) validateCharacteristics(ch JobCharacteristics) error {
	if ch.Environments < 1 || ch.People < 1 || !ch.Complexity.Valid() {
		return &InvalidCharacteristicsError{Characteristics: ch}
	}
	return nil
}

// =============================================================================
// SOURCE - Copy-on-write snapshot holder
// =============================================================================

// Source publishes the current Calculator to concurrent readers.
// Reload compiles a fresh Calculator and Swap publishes it; readers
// holding the old snapshot finish their computation on consistent
// data. Never mutated in place.
type Source struct {
	v atomic.Pointer[Calculator]
}

// NewSource creates a source with an initial snapshot.
func NewSource(c *Calculator) *Source {
	s := &Source{}
	s.v.Store(c)
	return s
}

// Current returns the live snapshot.
func (s *Source) Current() *Calculator { return s.v.Load() }

// Swap publishes a new snapshot.
func (s *Source) Swap(c *Calculator) { s.v.Store(c) }
