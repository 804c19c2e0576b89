package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/payroll-backend/api/middleware"
	"github.com/angelmondragon/payroll-backend/api/responses"
	"github.com/angelmondragon/payroll-backend/api/validators"
	"github.com/angelmondragon/payroll-backend/internal/delivery"
	"github.com/angelmondragon/payroll-backend/internal/payroll"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/pagination"
)

const requestDateLayout = "2006-01-02"

// PayslipDeliverer renders and sends payslips for committed records.
type PayslipDeliverer interface {
	Deliver(ctx context.Context, p *models.Payroll) delivery.Result
	Statement(ctx context.Context, p *models.Payroll) ([]byte, string, error)
}

// PayrollHandlers serves the payroll ledger. With Inline set, create and send
// deliver within the request; otherwise delivery goes through the outbox.
type PayrollHandlers struct {
	Service   payroll.Service
	Deliverer PayslipDeliverer
	Inline    bool
	Logger    *logger.Logger
}

type lineItemRequest struct {
	Type   string          `json:"type" validate:"required,max=100"`
	Amount decimal.Decimal `json:"amount" validate:"nonneg"`
}

type payPeriodRequest struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}

type createPayrollRequest struct {
	EmployeeID     string            `json:"employee_id" validate:"required,uuid"`
	OrganizationID string            `json:"organization_id" validate:"required,uuid"`
	PayPeriod      payPeriodRequest  `json:"pay_period"`
	PaidDays       int               `json:"paid_days" validate:"min=0,max=31"`
	LossOfPayDays  int               `json:"loss_of_pay_days" validate:"min=0"`
	PayDate        string            `json:"pay_date" validate:"required,datetime=2006-01-02"`
	Earnings       []lineItemRequest `json:"earnings" validate:"dive"`
	Deductions     []lineItemRequest `json:"deductions" validate:"dive"`
	Notes          *string           `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Status         string            `json:"status,omitempty" validate:"omitempty,oneof=pending paid cancelled"`
}

type updatePayrollRequest struct {
	PaidDays      *int               `json:"paid_days,omitempty" validate:"omitempty,min=0,max=31"`
	LossOfPayDays *int               `json:"loss_of_pay_days,omitempty" validate:"omitempty,min=0"`
	PayDate       *string            `json:"pay_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Earnings      *[]lineItemRequest `json:"earnings,omitempty" validate:"omitempty,dive"`
	Deductions    *[]lineItemRequest `json:"deductions,omitempty" validate:"omitempty,dive"`
	Notes         *string            `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Status        *string            `json:"status,omitempty" validate:"omitempty,oneof=pending paid cancelled"`
}

type deliveryOutcome struct {
	Delivered bool   `json:"delivered"`
	Queued    bool   `json:"queued,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type payrollWriteResponse struct {
	Payroll  payroll.PayrollDTO `json:"payroll"`
	Created  bool               `json:"created"`
	Delivery deliveryOutcome    `json:"delivery"`
}

type payrollSendResponse struct {
	PayrollID      uuid.UUID       `json:"payroll_id"`
	AlreadyPending bool            `json:"already_pending,omitempty"`
	Delivery       deliveryOutcome `json:"delivery"`
}

func outcomeOf(res delivery.Result) deliveryOutcome {
	return deliveryOutcome{
		Delivered: res.Delivered,
		Skipped:   res.Skipped,
		MessageID: res.MessageID,
		Error:     res.Error,
	}
}

// Create issues a payroll record. A replay of an existing period answers 200
// with created=false; a new record answers 201.
func (h PayrollHandlers) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Service == nil {
			responses.WriteError(r.Context(), h.Logger, w, serviceUnavailable("payroll service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}

		var payload createPayrollRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		input, err := payload.toInput(customerID, middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}

		record, created, err := h.Service.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		if record.CustomerID != customerID {
			responses.WriteError(r.Context(), h.Logger, w, pkgerrors.New(pkgerrors.CodeConflict, "pay period already issued by another account"))
			return
		}

		resp := payrollWriteResponse{Created: created}
		switch {
		case !created:
			resp.Delivery = deliveryOutcome{Delivered: record.EmailSent, Skipped: true}
		case h.Inline && h.Deliverer != nil:
			resp.Delivery = outcomeOf(h.Deliverer.Deliver(context.WithoutCancel(r.Context()), record))
			if resp.Delivery.Delivered {
				record = h.reload(r.Context(), customerID, record)
			}
		default:
			resp.Delivery = deliveryOutcome{Queued: true}
		}
		resp.Payroll = payroll.FromModel(*record)

		if created {
			responses.WriteSuccessStatus(w, http.StatusCreated, resp)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

func (h PayrollHandlers) reload(ctx context.Context, customerID uuid.UUID, record *models.Payroll) *models.Payroll {
	fresh, err := h.Service.Get(ctx, customerID, record.ID)
	if err != nil {
		return record
	}
	return fresh
}

func (h PayrollHandlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Service == nil {
			responses.WriteError(r.Context(), h.Logger, w, serviceUnavailable("payroll service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}

		params := payroll.ListParams{
			CustomerID: customerID,
			MonthYear:  validators.SanitizeString(r.URL.Query().Get("month_year"), 32),
			Cursor:     strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if params.OrganizationID, err = validators.ParseQueryUUID(r, "organization_id"); err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		if params.EmployeeID, err = validators.ParseQueryUUID(r, "employee_id"); err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, parseErr := enums.ParsePayrollStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), h.Logger, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid status filter"))
				return
			}
			params.Status = &status
		}
		if params.Limit, err = validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit); err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}

		result, err := h.Service.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func (h PayrollHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, ok := h.load(w, r)
		if !ok {
			return
		}
		responses.WriteSuccess(w, payroll.FromModel(*record))
	}
}

// Update applies a partial change. Totals are re-derived by the ledger;
// delivery state is never touched here.
func (h PayrollHandlers) Update() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Service == nil {
			responses.WriteError(r.Context(), h.Logger, w, serviceUnavailable("payroll service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "payrollId")
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}

		var payload updatePayrollRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}

		record, err := h.Service.Update(r.Context(), customerID, id, input)
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		responses.WriteSuccess(w, payroll.FromModel(*record))
	}
}

func (h PayrollHandlers) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Service == nil {
			responses.WriteError(r.Context(), h.Logger, w, serviceUnavailable("payroll service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "payrollId")
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		if err := h.Service.Delete(r.Context(), customerID, id); err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Send retries delivery for one record. Inline mode answers with the delivery
// result; otherwise a manual resend is queued and 202 is returned.
func (h PayrollHandlers) Send() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Inline && h.Deliverer != nil {
			record, ok := h.load(w, r)
			if !ok {
				return
			}
			if record.Status == enums.PayrollStatusCancelled {
				responses.WriteError(r.Context(), h.Logger, w, pkgerrors.New(pkgerrors.CodeConflict, "cancelled payroll cannot be delivered"))
				return
			}
			res := h.Deliverer.Deliver(context.WithoutCancel(r.Context()), record)
			responses.WriteSuccess(w, payrollSendResponse{PayrollID: record.ID, Delivery: outcomeOf(res)})
			return
		}

		if h.Service == nil {
			responses.WriteError(r.Context(), h.Logger, w, serviceUnavailable("payroll service"))
			return
		}
		customerID, err := customerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "payrollId")
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		queued, err := h.Service.Resend(r.Context(), customerID, id)
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, payrollSendResponse{
			PayrollID:      id,
			AlreadyPending: !queued,
			Delivery:       deliveryOutcome{Queued: true},
		})
	}
}

// Statement streams the unencrypted payslip PDF.
func (h PayrollHandlers) Statement() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Deliverer == nil {
			responses.WriteError(r.Context(), h.Logger, w, serviceUnavailable("statement renderer"))
			return
		}
		record, ok := h.load(w, r)
		if !ok {
			return
		}
		pdf, filename, err := h.Deliverer.Statement(r.Context(), record)
		if err != nil {
			responses.WriteError(r.Context(), h.Logger, w, err)
			return
		}
		responses.WriteFile(w, "application/pdf", filename, pdf)
	}
}

func (h PayrollHandlers) load(w http.ResponseWriter, r *http.Request) (*models.Payroll, bool) {
	if h.Service == nil {
		responses.WriteError(r.Context(), h.Logger, w, serviceUnavailable("payroll service"))
		return nil, false
	}
	customerID, err := customerFromRequest(r)
	if err != nil {
		responses.WriteError(r.Context(), h.Logger, w, err)
		return nil, false
	}
	id, err := validators.ParseUUIDParam(r, "payrollId")
	if err != nil {
		responses.WriteError(r.Context(), h.Logger, w, err)
		return nil, false
	}
	record, err := h.Service.Get(r.Context(), customerID, id)
	if err != nil {
		responses.WriteError(r.Context(), h.Logger, w, err)
		return nil, false
	}
	return record, true
}

func (p createPayrollRequest) toInput(customerID uuid.UUID, userID *uuid.UUID) (payroll.CreateInput, error) {
	start, err := parseRequestDate("pay_period.start", p.PayPeriod.Start)
	if err != nil {
		return payroll.CreateInput{}, err
	}
	end, err := parseRequestDate("pay_period.end", p.PayPeriod.End)
	if err != nil {
		return payroll.CreateInput{}, err
	}
	payDate, err := parseRequestDate("pay_date", p.PayDate)
	if err != nil {
		return payroll.CreateInput{}, err
	}
	input := payroll.CreateInput{
		EmployeeID:     uuid.MustParse(p.EmployeeID),
		OrganizationID: uuid.MustParse(p.OrganizationID),
		CustomerID:     customerID,
		PeriodStart:    start,
		PeriodEnd:      end,
		PaidDays:       p.PaidDays,
		LossOfPayDays:  p.LossOfPayDays,
		PayDate:        payDate,
		Earnings:       lineItemInputs(p.Earnings),
		Deductions:     lineItemInputs(p.Deductions),
		Notes:          p.Notes,
		GeneratedBy:    userID,
		Status:         enums.PayrollStatus(p.Status),
	}
	return input, nil
}

func (p updatePayrollRequest) toInput() (payroll.UpdateInput, error) {
	input := payroll.UpdateInput{
		PaidDays:      p.PaidDays,
		LossOfPayDays: p.LossOfPayDays,
		Notes:         p.Notes,
	}
	if p.PayDate != nil {
		payDate, err := parseRequestDate("pay_date", *p.PayDate)
		if err != nil {
			return payroll.UpdateInput{}, err
		}
		input.PayDate = &payDate
	}
	if p.Earnings != nil {
		items := lineItemInputs(*p.Earnings)
		input.Earnings = &items
	}
	if p.Deductions != nil {
		items := lineItemInputs(*p.Deductions)
		input.Deductions = &items
	}
	if p.Status != nil {
		status := enums.PayrollStatus(*p.Status)
		input.Status = &status
	}
	return input, nil
}

func lineItemInputs(items []lineItemRequest) []payroll.LineItemInput {
	out := make([]payroll.LineItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, payroll.LineItemInput{Type: strings.TrimSpace(item.Type), Amount: item.Amount})
	}
	return out
}

func parseRequestDate(field, raw string) (time.Time, error) {
	t, err := time.Parse(requestDateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid date").WithDetails(map[string]any{"field": field})
	}
	return t, nil
}
