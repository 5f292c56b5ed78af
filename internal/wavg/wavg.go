// Package wavg computes quantity-weighted average rates over sets of
// (quantity, rate) pairs. It is the shared averaging primitive for the
// stock aggregator and both P&L modes.
//
// Accumulation is done in decimal (arbitrary precision), so large line
// counts do not accumulate rounding error the way repeated float64 sums
// would.
package wavg

import (
	"github.com/shopspring/decimal"
)

// Pair is one contribution to a weighted average. Quantity must be >= 0;
// the unit of Quantity is the caller's concern, since only relative weights
// matter.
type Pair struct {
	Quantity decimal.Decimal
	Rate     decimal.Decimal
}

// Weighted returns Σ(quantity·rate) / Σ(quantity).
//
// When Σ(quantity) is zero the result is zero, not an error: "no quantity"
// and "rate zero" are deliberately indistinguishable here, and callers
// display the quantity alongside the rate to resolve the ambiguity.
func Weighted(pairs []Pair) decimal.Decimal {
	var totalQty, totalValue decimal.Decimal
	for _, p := range pairs {
		totalQty = totalQty.Add(p.Quantity)
		totalValue = totalValue.Add(p.Quantity.Mul(p.Rate))
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalValue.Div(totalQty)
}

// TotalQuantity returns Σ(quantity) across the pairs.
func TotalQuantity(pairs []Pair) decimal.Decimal {
	var total decimal.Decimal
	for _, p := range pairs {
		total = total.Add(p.Quantity)
	}
	return total
}
