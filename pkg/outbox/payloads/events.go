package payloads

import (
	"github.com/google/uuid"
)

// PayrollCreatedEvent is emitted in the same transaction as a new payroll row.
type PayrollCreatedEvent struct {
	PayrollID      uuid.UUID `json:"payroll_id"`
	EmployeeID     uuid.UUID `json:"employee_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	PeriodStart    string    `json:"period_start"`
	PeriodEnd      string    `json:"period_end"`
	NetPayable     string    `json:"net_payable"`
}

// PayrollDeliveryRequestedEvent asks the worker to (re)send a payslip.
type PayrollDeliveryRequestedEvent struct {
	PayrollID uuid.UUID `json:"payroll_id"`
	Reason    string    `json:"reason"`
}

// OrganizationCreatedEvent announces a new organization.
type OrganizationCreatedEvent struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	Code           string    `json:"code"`
}

// Delivery request reasons.
const (
	ReasonManualResend = "manual_resend"
	ReasonRedelivery   = "redelivery_sweep"
)
