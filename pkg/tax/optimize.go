package tax

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Component is a salary head that may absorb up to MaxShare of the total salary.
type Component struct {
	Name     string          `json:"name"`
	MaxShare decimal.Decimal `json:"max_share"`
}

// Allocation is a component chosen by OptimizeSalaryStructure.
type Allocation struct {
	Component  string          `json:"component"`
	Amount     decimal.Decimal `json:"amount"`
	TaxBenefit decimal.Decimal `json:"tax_benefit"`
}

// benefitShare is the fraction of a component's standalone tax that it saves.
var benefitShare = decimal.RequireFromString("0.5")

// DefaultStep is the capacity granularity used when step <= 0.
const DefaultStep = 1000

// OptimizeSalaryStructure picks the subset of components, each taken at its
// full share, that maximises the estimated tax benefit without exceeding
// total. It is a 0/1 knapsack over capacity measured in step-sized units.
func (s *Schedule) OptimizeSalaryStructure(total decimal.Decimal, components []Component, step int64) ([]Allocation, error) {
	if total.IsNegative() {
		return nil, fmt.Errorf("total salary must not be negative")
	}
	if step <= 0 {
		step = DefaultStep
	}
	unit := decimal.NewFromInt(step)
	capacity := int(total.Div(unit).IntPart())

	weights := make([]int, len(components))
	amounts := make([]decimal.Decimal, len(components))
	benefits := make([]decimal.Decimal, len(components))
	for i, c := range components {
		if c.MaxShare.IsNegative() || c.MaxShare.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("component %q: share outside [0,1]", c.Name)
		}
		amount := total.Mul(c.MaxShare).Floor()
		tax, err := s.Tax(amount)
		if err != nil {
			return nil, err
		}
		weights[i] = int(amount.Div(unit).Ceil().IntPart())
		amounts[i] = amount
		benefits[i] = tax.Mul(benefitShare)
	}

	// best[i][j]: max benefit using the first i components within j units.
	best := make([][]decimal.Decimal, len(components)+1)
	for i := range best {
		best[i] = make([]decimal.Decimal, capacity+1)
	}
	for i := 1; i <= len(components); i++ {
		w := weights[i-1]
		for j := 0; j <= capacity; j++ {
			best[i][j] = best[i-1][j]
			if w > 0 && j >= w {
				if v := best[i-1][j-w].Add(benefits[i-1]); v.GreaterThan(best[i][j]) {
					best[i][j] = v
				}
			}
		}
	}

	var out []Allocation
	j := capacity
	for i := len(components); i > 0; i-- {
		if best[i][j].Equal(best[i-1][j]) {
			continue
		}
		out = append(out, Allocation{
			Component:  components[i-1].Name,
			Amount:     amounts[i-1],
			TaxBenefit: benefits[i-1],
		})
		j -= weights[i-1]
	}
	return out, nil
}
