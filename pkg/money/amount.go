package money

import "github.com/shopspring/decimal"

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Sum adds amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// NonNegative reports whether every amount is zero or greater.
func NonNegative(amounts ...decimal.Decimal) bool {
	for _, a := range amounts {
		if a.IsNegative() {
			return false
		}
	}
	return true
}

// MaxAmount is the largest magnitude a numeric(14,2) column stores.
var MaxAmount = decimal.New(1, 12).Sub(decimal.New(1, -2))

// WithinLimit reports whether no amount exceeds MaxAmount in magnitude.
func WithinLimit(amounts ...decimal.Decimal) bool {
	for _, a := range amounts {
		if a.Abs().GreaterThan(MaxAmount) {
			return false
		}
	}
	return true
}
