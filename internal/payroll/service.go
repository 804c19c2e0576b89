package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/metrics"
	"github.com/angelmondragon/payroll-backend/pkg/outbox"
	"github.com/angelmondragon/payroll-backend/pkg/outbox/payloads"
	pkgpagination "github.com/angelmondragon/payroll-backend/pkg/pagination"
)

type repository interface {
	FindByPeriod(ctx context.Context, employeeID, organizationID uuid.UUID, start, end time.Time) (*models.Payroll, error)
	CreateWithTx(tx *gorm.DB, p *models.Payroll) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payroll, error)
	UpdateFieldsWithTx(tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	List(ctx context.Context, q listQuery) ([]models.Payroll, error)
	Delete(ctx context.Context, id uuid.UUID) (int64, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotPending(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// employment guards Create: the organization must belong to the customer and
// the employee to the organization.
type employment interface {
	Employment(ctx context.Context, customerID, organizationID, employeeID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the payroll ledger. Create is idempotent on the period key.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Payroll, bool, error)
	Update(ctx context.Context, customerID, id uuid.UUID, input UpdateInput) (*models.Payroll, error)
	Get(ctx context.Context, customerID, id uuid.UUID) (*models.Payroll, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Delete(ctx context.Context, customerID, id uuid.UUID) error
	Resend(ctx context.Context, customerID, id uuid.UUID) (bool, error)
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	Repo              repository
	TransactionRunner txRunner
	Employment        employment
	// Outbox is optional; without it no delivery events are queued.
	Outbox  outboxPublisher
	Metrics *metrics.PayrollMetrics
	Logger  *logger.Logger
}

type service struct {
	repo    repository
	tx      txRunner
	staff   employment
	outbox  outboxPublisher
	metrics *metrics.PayrollMetrics
	logg    *logger.Logger
}

// NewService builds the ledger service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payroll repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Employment == nil {
		return nil, fmt.Errorf("employment checker required")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.TransactionRunner,
		staff:   params.Employment,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// Create issues a payroll record. When a record already exists for the
// employee, organization and period it is returned unchanged with created
// false, whether found up front or after losing an insert race.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Payroll, bool, error) {
	if err := validateCreate(input); err != nil {
		return nil, false, err
	}
	if err := s.staff.Employment(ctx, input.CustomerID, input.OrganizationID, input.EmployeeID); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			s.metrics.IncLedgerWrite(metrics.LedgerFailed)
		}
		return nil, false, err
	}
	start, end := dateOnly(input.PeriodStart), dateOnly(input.PeriodEnd)

	existing, err := s.repo.FindByPeriod(ctx, input.EmployeeID, input.OrganizationID, start, end)
	if err == nil {
		s.replayed(ctx, existing)
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.metrics.IncLedgerWrite(metrics.LedgerFailed)
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payroll period")
	}

	record, err := buildRecord(input, start, end)
	if err != nil {
		return nil, false, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.CreateWithTx(tx, record); err != nil {
			return err
		}
		if s.outbox == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayrollCreated,
			AggregateType: enums.AggregatePayroll,
			AggregateID:   record.ID,
			Actor:         actor(input.GeneratedBy, input.CustomerID),
			Data: payloads.PayrollCreatedEvent{
				PayrollID:      record.ID,
				EmployeeID:     record.EmployeeID,
				OrganizationID: record.OrganizationID,
				CustomerID:     record.CustomerID,
				PeriodStart:    record.PeriodStart.Format(dateLayout),
				PeriodEnd:      record.PeriodEnd.Format(dateLayout),
				NetPayable:     record.NetPayable.StringFixed(2),
			},
		})
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeDuplicate) {
			winner, findErr := s.repo.FindByPeriod(ctx, input.EmployeeID, input.OrganizationID, start, end)
			if findErr != nil {
				s.metrics.IncLedgerWrite(metrics.LedgerFailed)
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "reload payroll after duplicate")
			}
			s.replayed(ctx, winner)
			return winner, false, nil
		}
		s.metrics.IncLedgerWrite(metrics.LedgerFailed)
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payroll")
	}

	s.metrics.IncLedgerWrite(metrics.LedgerCreated)
	if s.logg != nil {
		logCtx := s.logg.WithPayrollID(s.logg.WithOrganizationID(ctx, record.OrganizationID.String()), record.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "month_year", record.MonthYear), "payroll created")
	}
	return record, true, nil
}

func (s *service) replayed(ctx context.Context, p *models.Payroll) {
	s.metrics.IncLedgerWrite(metrics.LedgerReplayed)
	if s.logg != nil {
		s.logg.Info(s.logg.WithPayrollID(ctx, p.ID.String()), "payroll already exists for period")
	}
}

func buildRecord(input CreateInput, start, end time.Time) (*models.Payroll, error) {
	earnings, err := lineItems("earning", input.Earnings)
	if err != nil {
		return nil, err
	}
	deductions, err := lineItems("deduction", input.Deductions)
	if err != nil {
		return nil, err
	}
	status := input.Status
	if status == "" {
		status = enums.PayrollStatusPending
	}
	record := &models.Payroll{
		ID:             uuid.New(),
		EmployeeID:     input.EmployeeID,
		OrganizationID: input.OrganizationID,
		CustomerID:     input.CustomerID,
		PeriodStart:    start,
		PeriodEnd:      end,
		PaidDays:       input.PaidDays,
		LossOfPayDays:  input.LossOfPayDays,
		PayDate:        dateOnly(input.PayDate),
		Earnings:       earnings,
		Deductions:     deductions,
		Notes:          input.Notes,
		GeneratedBy:    input.GeneratedBy,
		Status:         status,
	}
	if err := apply(record); err != nil {
		return nil, err
	}
	if err := Verify(record); err != nil {
		return nil, err
	}
	return record, nil
}

func validateCreate(input CreateInput) error {
	missing := []string{}
	if input.EmployeeID == uuid.Nil {
		missing = append(missing, "employee_id")
	}
	if input.OrganizationID == uuid.Nil {
		missing = append(missing, "organization_id")
	}
	if input.CustomerID == uuid.Nil {
		missing = append(missing, "customer_id")
	}
	if input.PeriodStart.IsZero() || input.PeriodEnd.IsZero() {
		missing = append(missing, "pay_period")
	}
	if input.PayDate.IsZero() {
		missing = append(missing, "pay_date")
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "missing required fields").
			WithDetails(map[string]any{"missing": missing})
	}
	if dateOnly(input.PeriodEnd).Before(dateOnly(input.PeriodStart)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "pay period end precedes start")
	}
	if input.Status != "" && !input.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid payroll status")
	}
	return validateDays(input.PaidDays, input.LossOfPayDays)
}

// Update applies the changes, re-deriving totals and words when either list
// changes and month_year when the pay date changes.
func (s *service) Update(ctx context.Context, customerID, id uuid.UUID, input UpdateInput) (*models.Payroll, error) {
	record, err := s.Get(ctx, customerID, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if input.PaidDays != nil {
		record.PaidDays = *input.PaidDays
		fields["paid_days"] = record.PaidDays
	}
	if input.LossOfPayDays != nil {
		record.LossOfPayDays = *input.LossOfPayDays
		fields["loss_of_pay_days"] = record.LossOfPayDays
	}
	if err := validateDays(record.PaidDays, record.LossOfPayDays); err != nil {
		return nil, err
	}
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payroll status")
		}
		record.Status = *input.Status
		fields["status"] = record.Status
	}
	if input.Notes != nil {
		record.Notes = input.Notes
		fields["notes"] = *input.Notes
	}

	recompute := false
	if input.Earnings != nil {
		items, err := lineItems("earning", *input.Earnings)
		if err != nil {
			return nil, err
		}
		record.Earnings = items
		recompute = true
	}
	if input.Deductions != nil {
		items, err := lineItems("deduction", *input.Deductions)
		if err != nil {
			return nil, err
		}
		record.Deductions = items
		recompute = true
	}
	if input.PayDate != nil {
		if input.PayDate.IsZero() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "pay date is required")
		}
		record.PayDate = dateOnly(*input.PayDate)
		fields["pay_date"] = record.PayDate
		recompute = true
	}
	if recompute {
		if err := apply(record); err != nil {
			return nil, err
		}
		fields["earnings"] = record.Earnings
		fields["deductions"] = record.Deductions
		fields["gross_earnings"] = record.GrossEarnings
		fields["total_deductions"] = record.TotalDeductions
		fields["net_payable"] = record.NetPayable
		fields["amount_in_words"] = record.AmountInWords
		fields["month_year"] = record.MonthYear
	}
	if err := Verify(record); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return record, nil
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.UpdateFieldsWithTx(tx, id, fields)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payroll not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payroll")
	}
	return s.Get(ctx, customerID, id)
}

// Get loads a record. A nil customerID skips the ownership check for internal callers.
func (s *service) Get(ctx context.Context, customerID, id uuid.UUID) (*models.Payroll, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payroll not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payroll")
	}
	if customerID != uuid.Nil && record.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payroll not found")
	}
	return record, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payroll status")
	}

	q := listQuery{
		customerID:     params.CustomerID,
		organizationID: params.OrganizationID,
		employeeID:     params.EmployeeID,
		status:         params.Status,
		monthYear:      params.MonthYear,
		limit:          pkgpagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pkgpagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		q.cursorAt = &cursor.CreatedAt
		q.cursorID = cursor.ID
	}

	rows, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payrolls")
	}

	rows, next := pkgpagination.Trim(rows, params.Limit, func(m models.Payroll) pkgpagination.Cursor {
		return pkgpagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
	})
	items := make([]PayrollDTO, len(rows))
	for i, row := range rows {
		items[i] = FromModel(row)
	}
	return &ListResult{Items: items, Cursor: next}, nil
}

func (s *service) Delete(ctx context.Context, customerID, id uuid.UUID) error {
	if _, err := s.Get(ctx, customerID, id); err != nil {
		return err
	}
	affected, err := s.repo.Delete(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete payroll")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payroll not found")
	}
	return nil
}

// Resend queues a delivery request for the record. It reports false when a
// request is already pending.
func (s *service) Resend(ctx context.Context, customerID, id uuid.UUID) (bool, error) {
	record, err := s.Get(ctx, customerID, id)
	if err != nil {
		return false, err
	}
	if record.Status == enums.PayrollStatusCancelled {
		return false, pkgerrors.New(pkgerrors.CodeConflict, "cancelled payroll cannot be delivered")
	}
	if s.outbox == nil {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "delivery queue not configured")
	}
	var queued bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var emitErr error
		queued, emitErr = s.outbox.EmitIfNotPending(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayrollDeliveryRequested,
			AggregateType: enums.AggregatePayroll,
			AggregateID:   record.ID,
			Actor:         actor(nil, record.CustomerID),
			Data: payloads.PayrollDeliveryRequestedEvent{
				PayrollID: record.ID,
				Reason:    payloads.ReasonManualResend,
			},
		})
		return emitErr
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payroll delivery")
	}
	return queued, nil
}

func actor(userID *uuid.UUID, customerID uuid.UUID) *outbox.ActorRef {
	ref := &outbox.ActorRef{}
	if userID != nil {
		ref.UserID = *userID
	}
	if customerID != uuid.Nil {
		ref.CustomerID = &customerID
	}
	return ref
}
