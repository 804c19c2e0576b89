package payroll

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

// LineItemInput is one earning or deduction as submitted by the caller.
type LineItemInput struct {
	Type   string
	Amount decimal.Decimal
}

// CreateInput carries everything needed to issue a payroll record. The
// (EmployeeID, OrganizationID, PeriodStart, PeriodEnd) tuple is the
// idempotency key.
type CreateInput struct {
	EmployeeID     uuid.UUID
	OrganizationID uuid.UUID
	CustomerID     uuid.UUID
	PeriodStart    time.Time
	PeriodEnd      time.Time
	PaidDays       int
	LossOfPayDays  int
	PayDate        time.Time
	Earnings       []LineItemInput
	Deductions     []LineItemInput
	Notes          *string
	GeneratedBy    *uuid.UUID
	Status         enums.PayrollStatus
}

// UpdateInput lists mutable fields. Nil leaves the stored value untouched.
// Delivery state is not updatable here.
type UpdateInput struct {
	PaidDays      *int
	LossOfPayDays *int
	PayDate       *time.Time
	Earnings      *[]LineItemInput
	Deductions    *[]LineItemInput
	Notes         *string
	Status        *enums.PayrollStatus
}

// ListParams filters a customer's payroll records. Results are newest first.
type ListParams struct {
	CustomerID     uuid.UUID
	OrganizationID *uuid.UUID
	EmployeeID     *uuid.UUID
	Status         *enums.PayrollStatus
	MonthYear      string
	Limit          int
	Cursor         string
}

type listQuery struct {
	customerID     uuid.UUID
	organizationID *uuid.UUID
	employeeID     *uuid.UUID
	status         *enums.PayrollStatus
	monthYear      string
	limit          int
	cursorAt       *time.Time
	cursorID       uuid.UUID
}

type ListResult struct {
	Items  []PayrollDTO `json:"items"`
	Cursor string       `json:"cursor,omitempty"`
}

type LineItemDTO struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

type PeriodDTO struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

// PayrollDTO is the API view of a payroll record.
type PayrollDTO struct {
	ID              uuid.UUID           `json:"id"`
	EmployeeID      uuid.UUID           `json:"employee_id"`
	OrganizationID  uuid.UUID           `json:"organization_id"`
	CustomerID      uuid.UUID           `json:"customer_id"`
	PayPeriod       PeriodDTO           `json:"pay_period"`
	MonthYear       string              `json:"month_year"`
	PaidDays        int                 `json:"paid_days"`
	LossOfPayDays   int                 `json:"loss_of_pay_days"`
	PayDate         string              `json:"pay_date"`
	Earnings        []LineItemDTO       `json:"earnings"`
	Deductions      []LineItemDTO       `json:"deductions"`
	GrossEarnings   decimal.Decimal     `json:"gross_earnings"`
	TotalDeductions decimal.Decimal     `json:"total_deductions"`
	NetPayable      decimal.Decimal     `json:"net_payable"`
	AmountInWords   string              `json:"amount_in_words"`
	EmailSent       bool                `json:"email_sent"`
	EmailSentAt     *time.Time          `json:"email_sent_at,omitempty"`
	Notes           *string             `json:"notes,omitempty"`
	GeneratedBy     *uuid.UUID          `json:"generated_by,omitempty"`
	Status          enums.PayrollStatus `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

const dateLayout = "2006-01-02"

// FromModel maps a stored record to its API view.
func FromModel(p models.Payroll) PayrollDTO {
	return PayrollDTO{
		ID:             p.ID,
		EmployeeID:     p.EmployeeID,
		OrganizationID: p.OrganizationID,
		CustomerID:     p.CustomerID,
		PayPeriod: PeriodDTO{
			Start: p.PeriodStart.Format(dateLayout),
			End:   p.PeriodEnd.Format(dateLayout),
		},
		MonthYear:       p.MonthYear,
		PaidDays:        p.PaidDays,
		LossOfPayDays:   p.LossOfPayDays,
		PayDate:         p.PayDate.Format(dateLayout),
		Earnings:        lineItemDTOs(p.Earnings),
		Deductions:      lineItemDTOs(p.Deductions),
		GrossEarnings:   p.GrossEarnings,
		TotalDeductions: p.TotalDeductions,
		NetPayable:      p.NetPayable,
		AmountInWords:   p.AmountInWords,
		EmailSent:       p.EmailSent,
		EmailSentAt:     p.EmailSentAt,
		Notes:           p.Notes,
		GeneratedBy:     p.GeneratedBy,
		Status:          p.Status,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func lineItemDTOs(items models.LineItems) []LineItemDTO {
	out := make([]LineItemDTO, 0, len(items))
	for _, item := range items {
		out = append(out, LineItemDTO{Type: item.Type, Amount: item.Amount})
	}
	return out
}
