/*
Package catalog provides the hour-package catalog and suggestion engine.

PURPOSE:
  Enumerates the purchasable hour packages and recommends the best-fit
  package for a requested duration. Packages are NOT invented ad hoc:
  each one is precomputed through the price calculator with default
  characteristics when the catalog is built, so the catalog and the
  calculator can never disagree on a package price.

COPY-ON-WRITE:
  Rebuilding (on config reload) constructs a complete new snapshot and
  publishes it with a single atomic pointer swap. Readers either see
  the old snapshot or the new one, never a half-updated catalog, and
  List/Suggest take no locks.

SUGGESTION RULE:
  Suggest(h) returns the smallest package with hours >= h; an exact
  match wins outright. When h exceeds every entry the LARGEST package
  is returned - suggestion never fails and always terminates with a
  concrete recommendation.

SEE ALSO:
  - pricing/calculator.go: ComputePrice, CatalogHours
*/
package catalog

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/limpahora/hours-engine/pricing"
)

// =============================================================================
// HOUR PACKAGE
// =============================================================================

// HourPackage is one purchasable package. Immutable value object.
type HourPackage struct {
	Hours        decimal.Decimal
	PricePerHour decimal.Decimal
	TotalPrice   decimal.Decimal
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog holds the current package snapshot.
type Catalog struct {
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	packages []HourPackage
	version  string
}

// New builds a catalog from the calculator's configured hours.
func New(calc *pricing.Calculator) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Reload(calc); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rebuilds the catalog from a new pricing snapshot and
// publishes it atomically. On error the previous snapshot stays live.
func (c *Catalog) Reload(calc *pricing.Calculator) error {
	hours := calc.CatalogHours()
	packages := make([]HourPackage, 0, len(hours))

	for _, h := range hours {
		hd := decimal.NewFromInt(int64(h))
		bd, err := calc.ComputePrice(hd, pricing.DefaultCharacteristics())
		if err != nil {
			return fmt.Errorf("build catalog package %dh: %w", h, err)
		}
		packages = append(packages, HourPackage{
			Hours:        hd,
			PricePerHour: bd.PricePerHour,
			TotalPrice:   bd.FinalPrice,
		})
	}

	// Config validation already enforces ascending order; sorting here
	// keeps the suggestion invariant independent of that.
	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Hours.LessThan(packages[j].Hours)
	})

	c.snap.Store(&snapshot{packages: packages, version: calc.Version()})
	return nil
}

// List returns the packages in ascending hour order.
// The returned slice is a copy; callers may not observe later reloads
// through it.
func (c *Catalog) List() []HourPackage {
	s := c.snap.Load()
	out := make([]HourPackage, len(s.packages))
	copy(out, s.packages)
	return out
}

// Version returns the pricing config version the snapshot was built from.
func (c *Catalog) Version() string { return c.snap.Load().version }

// Suggest returns the smallest package covering hoursNeeded, or the
// largest package when the request exceeds the whole catalog.
func (c *Catalog) Suggest(hoursNeeded decimal.Decimal) HourPackage {
	s := c.snap.Load()
	for _, p := range s.packages {
		if p.Hours.GreaterThanOrEqual(hoursNeeded) {
			return p
		}
	}
	return s.packages[len(s.packages)-1]
}
