package pricing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limpahora/hours-engine/pricing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testConfigYAML = `
currency: BRL
min_bookable_hours: 2
max_bookable_hours: 420
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

func newTestCalculator(t *testing.T) *pricing.Calculator {
	cfg, err := pricing.Parse([]byte(testConfigYAML))
	require.NoError(t, err)
	return pricing.Compile(cfg, "v1")
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// ITEMIZED BREAKDOWN TESTS
// =============================================================================

func TestComputePrice_StandardPackage_ItemizedBreakdown(t *testing.T) {
	// GIVEN: 40 hours, neutral characteristics, tier rate 40/h
	// WHEN: Computing the price
	// THEN: base=1600, service=640, postWork=320, org=160, product=50,
	//       final=2770.00

	calc := newTestCalculator(t)

	bd, err := calc.ComputePrice(d("40"), pricing.DefaultCharacteristics())
	require.NoError(t, err)

	assert.True(t, bd.PricePerHour.Equal(d("40")), "price per hour")
	assert.True(t, bd.BasePrice.Equal(d("1600")), "base price, got %s", bd.BasePrice)
	assert.True(t, bd.ServiceFee.Equal(d("640")), "service fee, got %s", bd.ServiceFee)
	assert.True(t, bd.PostWorkFee.Equal(d("320")), "post-work fee, got %s", bd.PostWorkFee)
	assert.True(t, bd.OrganizationFee.Equal(d("160")), "organization fee, got %s", bd.OrganizationFee)
	assert.True(t, bd.ProductFee.Equal(d("50")), "product fee")
	assert.Equal(t, "2770.00", bd.FinalPrice.StringFixed(2))
	assert.Equal(t, "v1", bd.ConfigVersion)
}

func TestComputePrice_FinalPrice_IsSumOfComponents(t *testing.T) {
	// GIVEN: Any breakdown
	// THEN: finalPrice equals the rounded sum of its five components

	calc := newTestCalculator(t)

	for _, hours := range []string{"2", "17.5", "40", "59", "60", "119", "120", "420"} {
		bd, err := calc.ComputePrice(d(hours), pricing.DefaultCharacteristics())
		require.NoError(t, err, "hours=%s", hours)

		sum := bd.BasePrice.
			Add(bd.ServiceFee).
			Add(bd.PostWorkFee).
			Add(bd.OrganizationFee).
			Add(bd.ProductFee).
			Round(2)
		assert.True(t, bd.FinalPrice.Equal(sum),
			"hours=%s: final %s != sum %s", hours, bd.FinalPrice, sum)
	}
}

func TestComputePrice_BucketPricing_WholeBookingAtOneTier(t *testing.T) {
	// GIVEN: Bookings on either side of a tier boundary
	// WHEN: Computing prices
	// THEN: Every hour is billed at the single tier the TOTAL falls
	//       into - no blending across tiers

	calc := newTestCalculator(t)
	ch := pricing.DefaultCharacteristics()

	cases := []struct {
		hours string
		rate  string
	}{
		{"59", "40"},
		{"60", "32"},
		{"119", "32"},
		{"120", "25"},
		{"420", "25"},
	}

	for _, tc := range cases {
		bd, err := calc.ComputePrice(d(tc.hours), ch)
		require.NoError(t, err)
		assert.True(t, bd.PricePerHour.Equal(d(tc.rate)),
			"%sh should bill at %s/h, got %s", tc.hours, tc.rate, bd.PricePerHour)
		assert.True(t, bd.BasePrice.Equal(d(tc.hours).Mul(d(tc.rate))),
			"%sh base should be hours*rate", tc.hours)
	}
}

func TestComputePrice_LargerTierCanCostLessInTotal(t *testing.T) {
	// GIVEN: 59h at 40/h and 60h at 32/h
	// THEN: The bigger booking is cheaper in total (2360 vs 1920 base).
	//       This discontinuity is the intended bucket behavior.

	calc := newTestCalculator(t)
	ch := pricing.DefaultCharacteristics()

	at59, err := calc.ComputePrice(d("59"), ch)
	require.NoError(t, err)
	at60, err := calc.ComputePrice(d("60"), ch)
	require.NoError(t, err)

	assert.True(t, at60.FinalPrice.LessThan(at59.FinalPrice),
		"60h (%s) should cost less than 59h (%s)", at60.FinalPrice, at59.FinalPrice)
}

// =============================================================================
// MULTIPLIER TESTS
// =============================================================================

func TestComputePrice_CharacteristicsMultiplier(t *testing.T) {
	// GIVEN: 40h, medium complexity, 2 environments, 3 people
	// WHEN: Computing the price
	// THEN: base = 40*40 * 1.15 * (1+0.05) * (1+0.03*2)

	calc := newTestCalculator(t)

	bd, err := calc.ComputePrice(d("40"), pricing.JobCharacteristics{
		Environments: 2,
		People:       3,
		Complexity:   pricing.ComplexityMedium,
	})
	require.NoError(t, err)

	want := d("1600").Mul(d("1.15")).Mul(d("1.05")).Mul(d("1.06"))
	assert.True(t, bd.BasePrice.Equal(want),
		"base %s, want %s", bd.BasePrice, want)
}

func TestComputePrice_NeutralCharacteristics_NoSurcharge(t *testing.T) {
	// GIVEN: The default profile (1 env, 1 person, low)
	// THEN: The multiplier is exactly 1

	calc := newTestCalculator(t)

	bd, err := calc.ComputePrice(d("10"), pricing.DefaultCharacteristics())
	require.NoError(t, err)
	assert.True(t, bd.BasePrice.Equal(d("400")), "10h * 40/h with no surcharge")
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestComputePrice_HoursOutOfRange_Rejected(t *testing.T) {
	calc := newTestCalculator(t)
	ch := pricing.DefaultCharacteristics()

	for _, hours := range []string{"0", "-5", "1", "1.99", "420.5", "1000"} {
		_, err := calc.ComputePrice(d(hours), ch)
		assert.ErrorIs(t, err, pricing.ErrInvalidHours, "hours=%s", hours)

		var ihe *pricing.InvalidHoursError
		require.ErrorAs(t, err, &ihe)
		assert.True(t, ihe.Min.Equal(d("2")))
		assert.True(t, ihe.Max.Equal(d("420")))
	}
}

func TestComputePrice_BadCharacteristics_Rejected(t *testing.T) {
	calc := newTestCalculator(t)

	bad := []pricing.JobCharacteristics{
		{Environments: 0, People: 1, Complexity: pricing.ComplexityLow},
		{Environments: 1, People: 0, Complexity: pricing.ComplexityLow},
		{Environments: 1, People: 1, Complexity: "extreme"},
		{Environments: 1, People: 1},
	}

	for _, ch := range bad {
		_, err := calc.ComputePrice(d("40"), ch)
		assert.ErrorIs(t, err, pricing.ErrInvalidCharacteristics, "%+v", ch)
	}
}

func TestComputePrice_FractionalHours_Allowed(t *testing.T) {
	// GIVEN: 2.5 hours within the bookable range
	// THEN: Priced normally at the first tier

	calc := newTestCalculator(t)

	bd, err := calc.ComputePrice(d("2.5"), pricing.DefaultCharacteristics())
	require.NoError(t, err)
	assert.True(t, bd.BasePrice.Equal(d("100")), "2.5h * 40/h")
}

// =============================================================================
// SOURCE TESTS
// =============================================================================

func TestSource_SwapPublishesNewSnapshot(t *testing.T) {
	// GIVEN: A source holding v1
	// WHEN: Swapping in a v2 snapshot
	// THEN: Current returns v2; the old pointer still works

	cfg, err := pricing.Parse([]byte(testConfigYAML))
	require.NoError(t, err)

	v1 := pricing.Compile(cfg, "v1")
	src := pricing.NewSource(v1)
	require.Equal(t, "v1", src.Current().Version())

	v2 := pricing.Compile(cfg, "v2")
	src.Swap(v2)
	assert.Equal(t, "v2", src.Current().Version())

	// Old snapshot keeps computing consistently.
	bd, err := v1.ComputePrice(d("40"), pricing.DefaultCharacteristics())
	require.NoError(t, err)
	assert.Equal(t, "v1", bd.ConfigVersion)
}
