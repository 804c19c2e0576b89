package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payroll-backend/api/responses"
	"github.com/angelmondragon/payroll-backend/api/validators"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/money"
	"github.com/angelmondragon/payroll-backend/pkg/tax"
)

// maxOptimizeUnits bounds the knapsack table built per request.
const maxOptimizeUnits = 100000

type taxCalculateRequest struct {
	Income decimal.Decimal `json:"income" validate:"nonneg"`
}

type taxOptimizeRequest struct {
	TotalSalary decimal.Decimal `json:"total_salary" validate:"nonneg"`
	Components  []tax.Component `json:"components" validate:"required,min=1,dive"`
	Step        int64           `json:"step,omitempty" validate:"omitempty,min=1"`
}

type taxOptimizeResponse struct {
	Allocations  []tax.Allocation `json:"allocations"`
	TotalBenefit decimal.Decimal  `json:"total_benefit"`
}

type amountWordsResponse struct {
	Amount decimal.Decimal `json:"amount"`
	Words  string          `json:"words"`
}

func TaxBrackets(schedule *tax.Schedule) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, schedule.Brackets())
	}
}

// TaxCalculate returns the progressive tax and per-bracket breakdown for an annual income.
func TaxCalculate(schedule *tax.Schedule, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload taxCalculateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := schedule.Calculate(payload.Income)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()))
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func TaxOptimize(schedule *tax.Schedule, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload taxOptimizeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		step := payload.Step
		if step <= 0 {
			step = tax.DefaultStep
		}
		if payload.TotalSalary.Div(decimal.NewFromInt(step)).GreaterThan(decimal.NewFromInt(maxOptimizeUnits)) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "step too small for total salary").WithDetails(map[string]any{"max_units": maxOptimizeUnits}))
			return
		}
		allocations, err := schedule.OptimizeSalaryStructure(payload.TotalSalary, payload.Components, step)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()))
			return
		}
		total := decimal.Zero
		for _, a := range allocations {
			total = total.Add(a.TaxBenefit)
		}
		if allocations == nil {
			allocations = []tax.Allocation{}
		}
		responses.WriteSuccess(w, taxOptimizeResponse{Allocations: allocations, TotalBenefit: total})
	}
}

// AmountInWords spells an amount the way payslips print it.
func AmountInWords(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		amount, err := validators.ParseQueryDecimal(r, "amount")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		words, err := money.Words(amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()).
				WithDetails(map[string]any{"field": "amount", "max_amount": money.MaxWords.StringFixed(2)}))
			return
		}
		responses.WriteSuccess(w, amountWordsResponse{Amount: amount, Words: words})
	}
}
