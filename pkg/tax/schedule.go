// Package tax computes progressive income tax over an ordered bracket schedule.
package tax

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Bracket taxes income in (Min, Max] at Rate. A nil Max marks the open top bracket.
type Bracket struct {
	Min  decimal.Decimal  `json:"min_amount"`
	Max  *decimal.Decimal `json:"max_amount,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

// Width returns Max-Min, or false for the open bracket.
func (b Bracket) Width() (decimal.Decimal, bool) {
	if b.Max == nil {
		return decimal.Zero, false
	}
	return b.Max.Sub(b.Min), true
}

// Schedule is a validated, ascending, contiguous list of brackets starting at zero.
type Schedule struct {
	brackets []Bracket
}

// NewSchedule validates brackets and returns a schedule over them.
func NewSchedule(brackets []Bracket) (*Schedule, error) {
	if len(brackets) == 0 {
		return nil, fmt.Errorf("at least one bracket is required")
	}
	if !brackets[0].Min.IsZero() {
		return nil, fmt.Errorf("first bracket must start at zero")
	}
	one := decimal.NewFromInt(1)
	for i, b := range brackets {
		if b.Rate.IsNegative() || b.Rate.GreaterThan(one) {
			return nil, fmt.Errorf("bracket %d: rate %s outside [0,1]", i, b.Rate)
		}
		last := i == len(brackets)-1
		if last && b.Max != nil {
			return nil, fmt.Errorf("last bracket must be unbounded")
		}
		if !last {
			if b.Max == nil {
				return nil, fmt.Errorf("bracket %d: only the last bracket may be unbounded", i)
			}
			if !b.Max.GreaterThan(b.Min) {
				return nil, fmt.Errorf("bracket %d: max must exceed min", i)
			}
			if !brackets[i+1].Min.Equal(*b.Max) {
				return nil, fmt.Errorf("bracket %d: gap or overlap with next bracket", i)
			}
		}
	}
	out := make([]Bracket, len(brackets))
	copy(out, brackets)
	return &Schedule{brackets: out}, nil
}

// Brackets returns a copy of the schedule's brackets.
func (s *Schedule) Brackets() []Bracket {
	out := make([]Bracket, len(s.brackets))
	copy(out, s.brackets)
	return out
}

// find returns the index of the bracket holding amount, using binary search
// for the last bracket whose Min is strictly below amount.
func (s *Schedule) find(amount decimal.Decimal) int {
	i := sort.Search(len(s.brackets), func(i int) bool {
		return !s.brackets[i].Min.LessThan(amount)
	})
	if i == 0 {
		return 0
	}
	return i - 1
}

func bound(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// DefaultBrackets is the standard annual slab table.
func DefaultBrackets() []Bracket {
	return []Bracket{
		{Min: decimal.Zero, Max: bound(500000), Rate: decimal.RequireFromString("0.01")},
		{Min: decimal.NewFromInt(500000), Max: bound(700000), Rate: decimal.RequireFromString("0.10")},
		{Min: decimal.NewFromInt(700000), Max: bound(1000000), Rate: decimal.RequireFromString("0.20")},
		{Min: decimal.NewFromInt(1000000), Max: bound(2000000), Rate: decimal.RequireFromString("0.30")},
		{Min: decimal.NewFromInt(2000000), Rate: decimal.RequireFromString("0.36")},
	}
}

// Default returns a schedule over DefaultBrackets.
func Default() *Schedule {
	s, err := NewSchedule(DefaultBrackets())
	if err != nil {
		panic(err)
	}
	return s
}
