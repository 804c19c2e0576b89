package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/money"
)

const maxPaidDays = 31

// Totals are the derived amounts of a payroll record.
type Totals struct {
	Gross      decimal.Decimal
	Deductions decimal.Decimal
	Net        decimal.Decimal
}

// ComputeTotals sums both lists and derives net payable.
func ComputeTotals(earnings, deductions models.LineItems) Totals {
	gross := earnings.Sum()
	ded := deductions.Sum()
	return Totals{Gross: gross, Deductions: ded, Net: gross.Sub(ded)}
}

// MonthYear renders the statement month, e.g. "January 2024".
func MonthYear(payDate time.Time) string {
	return payDate.Format("January 2006")
}

// apply writes totals, words and month onto the record. Totals past the
// column limit are rejected before they are spelled.
func apply(p *models.Payroll) error {
	totals := ComputeTotals(p.Earnings, p.Deductions)
	p.GrossEarnings = totals.Gross
	p.TotalDeductions = totals.Deductions
	p.NetPayable = totals.Net
	if err := checkLimit(p); err != nil {
		return err
	}
	words, err := money.Words(totals.Net)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "net payable too large to spell")
	}
	p.AmountInWords = words
	p.MonthYear = MonthYear(p.PayDate)
	return nil
}

// Verify checks the ledger invariants on a fully populated record.
func Verify(p *models.Payroll) error {
	if !money.NonNegative(p.GrossEarnings, p.TotalDeductions) {
		return invariantError("totals must not be negative")
	}
	if err := checkLimit(p); err != nil {
		return err
	}
	for _, item := range p.Earnings {
		if item.Amount.IsNegative() {
			return invariantError("earning amounts must not be negative")
		}
	}
	for _, item := range p.Deductions {
		if item.Amount.IsNegative() {
			return invariantError("deduction amounts must not be negative")
		}
	}
	if !p.GrossEarnings.Equal(p.Earnings.Sum()) {
		return invariantError("gross earnings do not match the sum of earnings")
	}
	if !p.TotalDeductions.Equal(p.Deductions.Sum()) {
		return invariantError("total deductions do not match the sum of deductions")
	}
	if !p.NetPayable.Equal(p.GrossEarnings.Sub(p.TotalDeductions)) {
		return invariantError("net payable does not equal gross minus deductions")
	}
	return nil
}

func invariantError(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg)
}

func checkLimit(p *models.Payroll) error {
	if money.WithinLimit(p.GrossEarnings, p.TotalDeductions, p.NetPayable) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "totals exceed the maximum amount").
		WithDetails(map[string]any{"max_amount": money.MaxAmount.StringFixed(2)})
}

// lineItems validates caller input and rounds amounts to cents. kind is
// "earning" or "deduction" and only shapes error details.
func lineItems(kind string, in []LineItemInput) (models.LineItems, error) {
	out := make(models.LineItems, 0, len(in))
	for i, item := range in {
		name := strings.TrimSpace(item.Type)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, kind+" type is required").
				WithDetails(map[string]any{"field": fmt.Sprintf("%ss[%d].type", kind, i)})
		}
		field := fmt.Sprintf("%ss[%d].amount", kind, i)
		if item.Amount.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, kind+" amount must not be negative").
				WithDetails(map[string]any{"field": field})
		}
		amount := money.Round2(item.Amount)
		if !money.WithinLimit(amount) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, kind+" amount exceeds the maximum").
				WithDetails(map[string]any{"field": field, "max_amount": money.MaxAmount.StringFixed(2)})
		}
		out = append(out, models.LineItem{Type: name, Amount: amount})
	}
	return out, nil
}

func validateDays(paidDays, lossOfPayDays int) error {
	if paidDays < 0 || paidDays > maxPaidDays {
		return pkgerrors.New(pkgerrors.CodeValidation, "paid days must be between 0 and 31")
	}
	if lossOfPayDays < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "loss of pay days must not be negative")
	}
	return nil
}

// dateOnly truncates to midnight UTC so period keys compare equal across callers.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
