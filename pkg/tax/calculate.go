package tax

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Slice is the part of an income taxed inside one bracket.
type Slice struct {
	Bracket Bracket         `json:"bracket"`
	Amount  decimal.Decimal `json:"amount"`
	Tax     decimal.Decimal `json:"tax"`
}

// Result is a full progressive computation. Breakdown is ordered from the lowest bracket.
type Result struct {
	TaxableIncome decimal.Decimal `json:"taxable_income"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	Breakdown     []Slice         `json:"breakdown"`
}

// Calculate peels income from the top down: each step looks up the bracket
// holding the residual and taxes the part above that bracket's floor.
func (s *Schedule) Calculate(income decimal.Decimal) (Result, error) {
	if income.IsNegative() {
		return Result{}, fmt.Errorf("income must not be negative")
	}
	res := Result{TaxableIncome: income, TaxAmount: decimal.Zero}

	remaining := income
	var slices []Slice
	for remaining.IsPositive() {
		b := s.brackets[s.find(remaining)]
		chunk := remaining.Sub(b.Min)
		if width, ok := b.Width(); ok && chunk.GreaterThan(width) {
			chunk = width
		}
		if !chunk.IsPositive() {
			break
		}
		tax := chunk.Mul(b.Rate)
		slices = append(slices, Slice{Bracket: b, Amount: chunk, Tax: tax})
		res.TaxAmount = res.TaxAmount.Add(tax)
		remaining = remaining.Sub(chunk)
	}

	res.Breakdown = make([]Slice, 0, len(slices))
	for i := len(slices) - 1; i >= 0; i-- {
		res.Breakdown = append(res.Breakdown, slices[i])
	}
	return res, nil
}

// Tax returns only the total owed on income.
func (s *Schedule) Tax(income decimal.Decimal) (decimal.Decimal, error) {
	res, err := s.Calculate(income)
	if err != nil {
		return decimal.Zero, err
	}
	return res.TaxAmount, nil
}
