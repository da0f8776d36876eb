/*
config.go - Declarative pricing configuration

PURPOSE:
  Defines the YAML schema for the pricing configuration: rate tiers,
  fee percentages, the characteristics multiplier table, and the
  package catalog hours. The raw YAML types use plain floats/ints and
  are compiled into a Calculator holding exact decimals, so the rest
  of the engine never touches float arithmetic.

WHY A SEPARATE RAW SCHEMA?
  Business rules (tier rates, fee percentages, multipliers) are tuned
  by operations without redeploying. Keeping them in a config file
  means the Calculator stays a pure function over explicit inputs -
  no inlined arithmetic anywhere else.

VALIDATION:
  Validate() rejects configs that would break the tier invariant:
  - Tiers must be contiguous, non-overlapping, ascending by min_hours
  - The last tier must be unbounded (no max_hours)
  - Every bookable hour value must fall into exactly one tier
  - Fee percentages and multipliers must be non-negative
  - Catalog hours must be ascending and within the bookable range

RELOAD:
  Load() is called at startup and again on file change (fsnotify in
  cmd/server). Each successful load produces a new immutable
  Calculator; swapping it in is the caller's job (see Source).

SEE ALSO:
  - calculator.go: Compiled form and price computation
  - catalog/catalog.go: Consumes the compiled catalog hours
*/
package pricing

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// RAW YAML SCHEMA
// =============================================================================

// Config is the raw pricing configuration as read from YAML.
type Config struct {
	Currency string `yaml:"currency"`

	// Bookable range. Bookings below min or above max are rejected.
	MinBookableHours int `yaml:"min_bookable_hours"`
	MaxBookableHours int `yaml:"max_bookable_hours"`

	Tiers       []TierConfig     `yaml:"tiers"`
	Fees        FeesConfig       `yaml:"fees"`
	Multipliers MultiplierConfig `yaml:"multipliers"`
	Catalog     CatalogConfig    `yaml:"catalog"`
	Credit      CreditConfig     `yaml:"credit"`
}

// TierConfig is one rate tier row. MaxHours nil means unbounded.
type TierConfig struct {
	MinHours    int     `yaml:"min_hours"`
	MaxHours    *int    `yaml:"max_hours"`
	RatePerHour float64 `yaml:"rate_per_hour"`
}

// FeesConfig holds the fee percentages applied to the adjusted base
// price, plus the flat product fee.
type FeesConfig struct {
	ServicePct      float64 `yaml:"service_pct"`
	PostWorkPct     float64 `yaml:"post_work_pct"`
	OrganizationPct float64 `yaml:"organization_pct"`
	ProductFee      float64 `yaml:"product_fee"`
}

// MultiplierConfig is the characteristics multiplier table.
// The effective multiplier for a job is:
//
//	complexity[c] * (1 + per_extra_environment*(env-1)) * (1 + per_extra_person*(people-1))
type MultiplierConfig struct {
	Complexity          map[string]float64 `yaml:"complexity"`
	PerExtraEnvironment float64            `yaml:"per_extra_environment"`
	PerExtraPerson      float64            `yaml:"per_extra_person"`
}

// CatalogConfig lists the purchasable package sizes, in hours.
type CatalogConfig struct {
	Hours []int `yaml:"hours"`
}

// CreditConfig holds credit-ledger tunables.
type CreditConfig struct {
	ExpiryDays int `yaml:"expiry_days"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads and validates a pricing config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing config: %w", err)
	}
	return Parse(b)
}

// Parse parses and validates raw YAML bytes.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse pricing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Currency == "" {
		c.Currency = "BRL"
	}
	if c.MinBookableHours == 0 {
		c.MinBookableHours = 2
	}
	if c.MaxBookableHours == 0 {
		c.MaxBookableHours = 420
	}
	if c.Credit.ExpiryDays == 0 {
		c.Credit.ExpiryDays = 365
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the tier invariant and the sanity of every table.
func (c *Config) Validate() error {
	if c.MinBookableHours < 1 {
		return fmt.Errorf("pricing config: min_bookable_hours must be >= 1, got %d", c.MinBookableHours)
	}
	if c.MaxBookableHours < c.MinBookableHours {
		return fmt.Errorf("pricing config: max_bookable_hours %d below min_bookable_hours %d",
			c.MaxBookableHours, c.MinBookableHours)
	}

	if len(c.Tiers) == 0 {
		return fmt.Errorf("pricing config: at least one tier is required")
	}
	for i, t := range c.Tiers {
		if t.RatePerHour <= 0 {
			return fmt.Errorf("pricing config: tier %d rate_per_hour must be positive", i)
		}
		if t.MaxHours != nil && *t.MaxHours < t.MinHours {
			return fmt.Errorf("pricing config: tier %d max_hours %d below min_hours %d", i, *t.MaxHours, t.MinHours)
		}
		if i > 0 {
			prev := c.Tiers[i-1]
			if prev.MaxHours == nil {
				return fmt.Errorf("pricing config: tier %d follows an unbounded tier", i)
			}
			// Contiguity: this tier must start exactly where the previous ended.
			if t.MinHours != *prev.MaxHours+1 {
				return fmt.Errorf("pricing config: tier %d starts at %d, expected %d (tiers must be contiguous)",
					i, t.MinHours, *prev.MaxHours+1)
			}
		}
	}
	if last := c.Tiers[len(c.Tiers)-1]; last.MaxHours != nil {
		return fmt.Errorf("pricing config: last tier must be unbounded (omit max_hours)")
	}
	if c.Tiers[0].MinHours > c.MinBookableHours {
		return fmt.Errorf("pricing config: first tier starts at %d but min_bookable_hours is %d",
			c.Tiers[0].MinHours, c.MinBookableHours)
	}

	if c.Fees.ServicePct < 0 || c.Fees.PostWorkPct < 0 || c.Fees.OrganizationPct < 0 || c.Fees.ProductFee < 0 {
		return fmt.Errorf("pricing config: fees must be non-negative")
	}

	if len(c.Multipliers.Complexity) == 0 {
		return fmt.Errorf("pricing config: multipliers.complexity table is required")
	}
	for _, name := range []Complexity{ComplexityLow, ComplexityMedium, ComplexityHigh} {
		v, ok := c.Multipliers.Complexity[string(name)]
		if !ok {
			return fmt.Errorf("pricing config: multipliers.complexity missing %q", name)
		}
		if v <= 0 {
			return fmt.Errorf("pricing config: multipliers.complexity[%q] must be positive", name)
		}
	}
	if c.Multipliers.PerExtraEnvironment < 0 || c.Multipliers.PerExtraPerson < 0 {
		return fmt.Errorf("pricing config: per-extra multipliers must be non-negative")
	}

	if len(c.Catalog.Hours) == 0 {
		return fmt.Errorf("pricing config: catalog.hours is required")
	}
	for i, h := range c.Catalog.Hours {
		if h < c.MinBookableHours || h > c.MaxBookableHours {
			return fmt.Errorf("pricing config: catalog hour %d outside bookable range [%d, %d]",
				h, c.MinBookableHours, c.MaxBookableHours)
		}
		if i > 0 && h <= c.Catalog.Hours[i-1] {
			return fmt.Errorf("pricing config: catalog.hours must be strictly ascending")
		}
	}

	if c.Credit.ExpiryDays < 1 {
		return fmt.Errorf("pricing config: credit.expiry_days must be >= 1")
	}

	return nil
}

// =============================================================================
// COMPILATION HELPERS
// =============================================================================

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }
