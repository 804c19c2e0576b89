package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payroll-backend/internal/payroll"
	"github.com/angelmondragon/payroll-backend/pkg/db/dbtest"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/outbox"
)

func seedPayroll(t *testing.T, createdAt time.Time, sent bool, status enums.PayrollStatus) models.Payroll {
	t.Helper()
	return models.Payroll{
		EmployeeID:      uuid.New(),
		OrganizationID:  uuid.New(),
		CustomerID:      uuid.New(),
		PeriodStart:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		MonthYear:       "January 2024",
		PaidDays:        31,
		PayDate:         time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Earnings:        models.LineItems{{Type: "Basic", Amount: decimal.NewFromInt(1000)}},
		Deductions:      models.LineItems{},
		GrossEarnings:   decimal.NewFromInt(1000),
		TotalDeductions: decimal.Zero,
		NetPayable:      decimal.NewFromInt(1000),
		AmountInWords:   "One Thousand Rupees Only",
		EmailSent:       sent,
		Status:          status,
		CreatedAt:       createdAt,
	}
}

func TestPayrollRedeliveryJobQueuesUnsentRecordsOnce(t *testing.T) {
	client := dbtest.Open(t)
	conn := client.DB()
	now := time.Now().UTC()

	stale := seedPayroll(t, now.Add(-time.Hour), false, enums.PayrollStatusPending)
	fresh := seedPayroll(t, now, false, enums.PayrollStatusPending)
	delivered := seedPayroll(t, now.Add(-time.Hour), true, enums.PayrollStatusPaid)
	cancelled := seedPayroll(t, now.Add(-time.Hour), false, enums.PayrollStatusCancelled)
	for _, p := range []*models.Payroll{&stale, &fresh, &delivered, &cancelled} {
		require.NoError(t, conn.Create(p).Error)
	}

	job, err := NewPayrollRedeliveryJob(PayrollRedeliveryJobParams{
		Logger:   logger.Nop(),
		DB:       client,
		Payrolls: payroll.NewRepository(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		After:    10 * time.Minute,
	})
	require.NoError(t, err)
	require.Equal(t, "payroll-redelivery", job.Name())

	ctx := context.Background()
	require.NoError(t, job.Run(ctx))
	require.NoError(t, job.Run(ctx))

	var events []models.OutboxEvent
	require.NoError(t, conn.Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, stale.ID, events[0].AggregateID)
	require.Equal(t, enums.EventPayrollDeliveryRequested, events[0].EventType)
}

type fakeRepairer struct {
	batch int
	err   error
}

func (f *fakeRepairer) RepairAllCounts(_ context.Context, batchSize int) (int, error) {
	f.batch = batchSize
	return 3, f.err
}

func TestCountRepairJob(t *testing.T) {
	repairer := &fakeRepairer{}
	job, err := NewCountRepairJob(CountRepairJobParams{Logger: logger.Nop(), Repairer: repairer})
	require.NoError(t, err)
	require.Equal(t, "count-repair", job.Name())
	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, defaultRepairBatch, repairer.batch)

	repairer.err = errors.New("db gone")
	require.Error(t, job.Run(context.Background()))
}

func TestPayrollJobsRequireDependencies(t *testing.T) {
	_, err := NewPayrollRedeliveryJob(PayrollRedeliveryJobParams{Logger: logger.Nop()})
	require.Error(t, err)
	_, err = NewCountRepairJob(CountRepairJobParams{Logger: logger.Nop()})
	require.Error(t, err)
}
