// Package money holds currency helpers shared by payroll and reporting.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ones = [...]string{
	"", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine",
	"Ten", "Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen", "Sixteen",
	"Seventeen", "Eighteen", "Nineteen",
}

var tens = [...]string{
	"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety",
}

var scales = [...]string{
	"", "Thousand", "Million", "Billion", "Trillion", "Quadrillion",
	"Quintillion", "Sextillion", "Septillion", "Octillion", "Nonillion", "Decillion",
}

// MaxWords is the largest magnitude Words can spell.
var MaxWords = decimal.New(1, int32(3*len(scales))).Sub(decimal.New(1, -2))

// ErrTooLarge is returned by Words for amounts beyond MaxWords.
var ErrTooLarge = errors.New("amount too large to spell")

// Words renders amount in English, e.g. 53000 -> "Fifty-Three Thousand" and
// 1250.5 -> "One Thousand Two Hundred Fifty and 50/100". The fraction is
// rounded to two places.
func Words(amount decimal.Decimal) (string, error) {
	amount = amount.Round(2)
	if amount.Abs().GreaterThan(MaxWords) {
		return "", ErrTooLarge
	}
	if amount.IsZero() {
		return "Zero", nil
	}
	if amount.IsNegative() {
		out, err := Words(amount.Abs())
		return "Negative " + out, err
	}

	whole := amount.Truncate(0)
	cents := amount.Sub(whole).Shift(2).IntPart()

	out := "Zero"
	if whole.IsPositive() {
		out = wholeWords(whole)
	}
	if cents > 0 {
		out += " and " + twoDigits(cents) + "/100"
	}
	return out, nil
}

func wholeWords(n decimal.Decimal) string {
	thousand := decimal.NewFromInt(1000)
	var groups []string
	for scale := 0; n.IsPositive(); scale++ {
		group := n.Mod(thousand).IntPart()
		if group > 0 {
			words := groupWords(group)
			if scales[scale] != "" {
				words += " " + scales[scale]
			}
			groups = append([]string{words}, groups...)
		}
		n = n.Div(thousand).Truncate(0)
	}
	return strings.Join(groups, " ")
}

func groupWords(n int64) string {
	var parts []string
	if h := n / 100; h > 0 {
		parts = append(parts, ones[h]+" Hundred")
	}
	rest := n % 100
	switch {
	case rest == 0:
	case rest < 20:
		parts = append(parts, ones[rest])
	default:
		word := tens[rest/10]
		if rest%10 > 0 {
			word += "-" + ones[rest%10]
		}
		parts = append(parts, word)
	}
	return strings.Join(parts, " ")
}

func twoDigits(n int64) string {
	return fmt.Sprintf("%02d", n)
}
