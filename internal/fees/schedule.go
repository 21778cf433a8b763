package fees

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Tier applies Bps to order notional at or above MinNotional.
type Tier struct {
	MinNotional decimal.Decimal
	Bps         int64
}

// Schedule estimates commission from a tiered basis-point table with a
// per-order minimum. Tiers are kept sorted ascending by MinNotional.
type Schedule struct {
	tiers         []Tier
	minCommission decimal.Decimal
}

func NewSchedule(tiers []Tier, minCommission decimal.Decimal) *Schedule {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinNotional.LessThan(sorted[j].MinNotional)
	})
	return &Schedule{tiers: sorted, minCommission: minCommission}
}

// DefaultSchedule mirrors the standard retail commission table.
func DefaultSchedule() *Schedule {
	return NewSchedule([]Tier{
		{MinNotional: decimal.Zero, Bps: 10},
		{MinNotional: decimal.NewFromInt(100_000), Bps: 7},
		{MinNotional: decimal.NewFromInt(1_000_000), Bps: 4},
	}, decimal.NewFromInt(1))
}

var bpsDivisor = decimal.NewFromInt(10_000)

// Estimate returns the commission for the given order notional.
func (s *Schedule) Estimate(notional decimal.Decimal) decimal.Decimal {
	if notional.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	bps := int64(0)
	for _, tier := range s.tiers {
		if notional.GreaterThanOrEqual(tier.MinNotional) {
			bps = tier.Bps
		}
	}
	fee := notional.Mul(decimal.NewFromInt(bps)).Div(bpsDivisor)
	if fee.LessThan(s.minCommission) {
		return s.minCommission
	}
	return fee
}
