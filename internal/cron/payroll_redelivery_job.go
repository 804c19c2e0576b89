package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/enums"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/outbox"
	"github.com/angelmondragon/payroll-backend/pkg/outbox/payloads"
)

const (
	defaultRedeliveryAfter = 10 * time.Minute
	defaultRedeliveryBatch = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type undeliveredLister interface {
	ListUndelivered(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type deliveryRequester interface {
	EmitIfNotPending(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type PayrollRedeliveryJobParams struct {
	Logger   *logger.Logger
	DB       txRunner
	Payrolls undeliveredLister
	Outbox   deliveryRequester
	// After is how old an unsent record must be before it is retried.
	After     time.Duration
	BatchSize int
}

// NewPayrollRedeliveryJob queues delivery requests for payroll records whose
// payslip email never went out.
func NewPayrollRedeliveryJob(params PayrollRedeliveryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Payrolls == nil {
		return nil, fmt.Errorf("payroll repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	after := params.After
	if after <= 0 {
		after = defaultRedeliveryAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRedeliveryBatch
	}
	return &payrollRedeliveryJob{
		logg:     params.Logger,
		db:       params.DB,
		payrolls: params.Payrolls,
		outbox:   params.Outbox,
		after:    after,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type payrollRedeliveryJob struct {
	logg     *logger.Logger
	db       txRunner
	payrolls undeliveredLister
	outbox   deliveryRequester
	after    time.Duration
	batch    int
	now      func() time.Time
}

func (j *payrollRedeliveryJob) Name() string { return "payroll-redelivery" }

func (j *payrollRedeliveryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	ids, err := j.payrolls.ListUndelivered(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list undelivered payrolls: %w", err)
	}

	queued, pending := 0, 0
	for _, id := range ids {
		var written bool
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := j.outbox.EmitIfNotPending(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPayrollDeliveryRequested,
				AggregateType: enums.AggregatePayroll,
				AggregateID:   id,
				Data: payloads.PayrollDeliveryRequestedEvent{
					PayrollID: id,
					Reason:    payloads.ReasonRedelivery,
				},
			})
			written = ok
			return err
		})
		if err != nil {
			return fmt.Errorf("queue redelivery for %s: %w", id, err)
		}
		if written {
			queued++
		} else {
			pending++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":          cutoff,
		"candidates":      len(ids),
		"queued":          queued,
		"already_pending": pending,
	})
	j.logg.Info(logCtx, "payroll redelivery sweep complete")
	return nil
}
