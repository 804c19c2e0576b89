package delivery

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payroll-backend/internal/directory"
	"github.com/angelmondragon/payroll-backend/internal/payroll"
	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db"
	"github.com/angelmondragon/payroll-backend/pkg/db/dbtest"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/encryption"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	"github.com/angelmondragon/payroll-backend/pkg/mailer"
	"github.com/angelmondragon/payroll-backend/pkg/metrics"
	"github.com/angelmondragon/payroll-backend/pkg/statement"
)

type recordingSender struct {
	mu    sync.Mutex
	fail  error
	block bool
	sent  []mailer.Message
}

func (s *recordingSender) Send(ctx context.Context, msg mailer.Message) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	s.sent = append(s.sent, msg)
	return "<msg-" + uuid.NewString() + "@acme.test>", nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type panickingRenderer struct{}

func (panickingRenderer) Render(context.Context, models.Payroll, statement.Employee, statement.Organization) ([]byte, error) {
	panic("font table corrupted")
}

type deliveryFixture struct {
	client *db.Client
	repo   *payroll.Repository
	sender *recordingSender
	reg    *prometheus.Registry
	record models.Payroll
	member models.OrganizationMember
	orch   *Orchestrator
	params Params
}

func newDeliveryFixture(t *testing.T, cfg config.DeliveryConfig) *deliveryFixture {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()

	customerID := uuid.New()
	org := models.Organization{Code: "ORG001", CustomerID: customerID, Name: "Acme", Email: "hr@acme.test", SignatoryName: "R. Kumar"}
	require.NoError(t, conn.Create(&org).Error)
	member := models.OrganizationMember{Code: "USER007", OrganizationID: org.ID, CustomerID: customerID, Name: "Priya Sharma", Email: "priya@acme.test"}
	require.NoError(t, conn.Create(&member).Error)

	record := models.Payroll{
		EmployeeID:      member.ID,
		OrganizationID:  org.ID,
		CustomerID:      customerID,
		PeriodStart:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		MonthYear:       "January 2024",
		PaidDays:        31,
		PayDate:         time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Earnings:        models.LineItems{{Type: "Basic", Amount: decimal.NewFromInt(60000)}},
		Deductions:      models.LineItems{{Type: "PF", Amount: decimal.NewFromInt(7000)}},
		GrossEarnings:   decimal.NewFromInt(60000),
		TotalDeductions: decimal.NewFromInt(7000),
		NetPayable:      decimal.NewFromInt(53000),
		AmountInWords:   "Fifty-Three Thousand Rupees Only",
		Status:          enums.PayrollStatusPending,
	}
	require.NoError(t, conn.Create(&record).Error)

	f := &deliveryFixture{
		client: client,
		repo:   payroll.NewRepository(conn),
		sender: &recordingSender{},
		reg:    prometheus.NewRegistry(),
		record: record,
		member: member,
	}
	f.params = Params{
		Payrolls:  f.repo,
		Directory: directory.NewReader(conn),
		Renderer:  statement.NewRenderer(),
		Cipher:    encryption.New(encryption.SHA256Key),
		Sender:    f.sender,
		Config:    cfg,
		Metrics:   metrics.NewPayrollMetrics(f.reg),
	}
	orch, err := NewOrchestrator(f.params)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *deliveryFixture) reload(t *testing.T) *models.Payroll {
	t.Helper()
	p, err := f.repo.FindByID(context.Background(), f.record.ID)
	require.NoError(t, err)
	return p
}

func TestDeliverSendsPayslipAndFlagsRecord(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})

	res := f.orch.Deliver(context.Background(), &f.record)
	require.True(t, res.Delivered, res.Error)
	require.Empty(t, res.Error)
	require.NotEmpty(t, res.MessageID)

	require.Equal(t, 1, f.sender.count())
	msg := f.sender.sent[0]
	require.Equal(t, "priya@acme.test", msg.To)
	require.Equal(t, "Acme Payroll", msg.FromName)
	require.Equal(t, "Your Payslip for January 2024", msg.Subject)
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, "Payslip_Priya_Sharma_January_2024.pdf", msg.Attachments[0].Filename)
	require.True(t, bytes.HasPrefix(msg.Attachments[0].Data, []byte("%PDF-")))

	stored := f.reload(t)
	require.True(t, stored.EmailSent)
	require.NotNil(t, stored.EmailSentAt)
	require.Equal(t, float64(1), counterValue(t, f.reg, "payroll_delivery_attempts_total", metrics.DeliveryDelivered))
}

func TestDeliverFailureLeavesLedgerUntouched(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	f.sender.fail = errors.New("relay refused connection")

	before := f.reload(t)
	res := f.orch.Deliver(context.Background(), &f.record)
	require.False(t, res.Delivered)
	require.Equal(t, StageSend, res.Stage)
	require.True(t, strings.HasPrefix(res.Error, "send: "))
	require.Contains(t, res.Error, "relay refused connection")

	after := f.reload(t)
	require.False(t, after.EmailSent)
	require.Nil(t, after.EmailSentAt)
	require.True(t, before.NetPayable.Equal(after.NetPayable))
	require.Equal(t, before.AmountInWords, after.AmountInWords)
	require.Equal(t, float64(1), counterValue(t, f.reg, "payroll_delivery_attempts_total", metrics.DeliveryFailed))
}

func TestDeliverRetryAfterFailureSucceeds(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	f.sender.fail = errors.New("temporary failure")

	first := f.orch.DeliverByID(context.Background(), f.record.ID, true)
	require.False(t, first.Delivered)

	f.sender.fail = nil
	second := f.orch.DeliverByID(context.Background(), f.record.ID, true)
	require.True(t, second.Delivered, second.Error)
	require.True(t, f.reload(t).EmailSent)
}

func TestDeliverByIDSkipsAlreadyDelivered(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	ctx := context.Background()

	require.True(t, f.orch.DeliverByID(ctx, f.record.ID, true).Delivered)
	sentAt := f.reload(t).EmailSentAt

	again := f.orch.DeliverByID(ctx, f.record.ID, true)
	require.True(t, again.Delivered)
	require.True(t, again.Skipped)
	require.Equal(t, 1, f.sender.count())

	forced := f.orch.DeliverByID(ctx, f.record.ID, false)
	require.True(t, forced.Delivered)
	require.False(t, forced.Skipped)
	require.Equal(t, 2, f.sender.count())
	require.True(t, sentAt.Equal(*f.reload(t).EmailSentAt))
}

func TestDeliverEncryptsAttachment(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{EncryptStatements: true})

	res := f.orch.Deliver(context.Background(), &f.record)
	require.True(t, res.Delivered, res.Error)

	att := f.sender.sent[0].Attachments[0]
	require.Equal(t, "Payslip_Priya_Sharma_January_2024.pdf.enc", att.Filename)
	require.False(t, bytes.HasPrefix(att.Data, []byte("%PDF-")))
	require.Contains(t, f.sender.sent[0].HTMLBody, "encrypted")

	plain, err := encryption.New(encryption.SHA256Key).Decrypt(att.Data, encryption.StatementKey("Priya Sharma", "USER007"))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(plain, []byte("%PDF-")))
}

func TestDeliverReportsMissingEmployee(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	orphan := f.record
	orphan.EmployeeID = uuid.New()

	res := f.orch.Deliver(context.Background(), &orphan)
	require.False(t, res.Delivered)
	require.Equal(t, StageDirectory, res.Stage)
	require.Contains(t, res.Error, "employee not found")
	require.Zero(t, f.sender.count())
}

func TestDeliverByIDUnknownRecord(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})

	res := f.orch.DeliverByID(context.Background(), uuid.New(), true)
	require.False(t, res.Delivered)
	require.Equal(t, StageLoad, res.Stage)
}

func TestDeliverSendTimeout(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{SendTimeout: 30 * time.Millisecond})
	f.sender.block = true

	start := time.Now()
	res := f.orch.Deliver(context.Background(), &f.record)
	require.False(t, res.Delivered)
	require.Equal(t, StageSend, res.Stage)
	require.Contains(t, res.Error, context.DeadlineExceeded.Error())
	require.Less(t, time.Since(start), 5*time.Second)
	require.False(t, f.reload(t).EmailSent)
}

func TestDeliverRecoversFromRendererPanic(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	params := f.params
	params.Renderer = panickingRenderer{}
	orch, err := NewOrchestrator(params)
	require.NoError(t, err)

	res := orch.Deliver(context.Background(), &f.record)
	require.False(t, res.Delivered)
	require.Equal(t, StageRender, res.Stage)
	require.Contains(t, res.Error, "font table corrupted")
}

func TestStatementRendersWithoutDelivery(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{EncryptStatements: true})

	pdf, name, err := f.orch.Statement(context.Background(), &f.record)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
	require.Equal(t, "Payslip_Priya_Sharma_January_2024.pdf", name)
	require.Zero(t, f.sender.count())
	require.False(t, f.reload(t).EmailSent)
}

func TestNewOrchestratorRequiresCipherForEncryption(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	params := f.params
	params.Cipher = nil
	params.Config.EncryptStatements = true
	_, err := NewOrchestrator(params)
	require.Error(t, err)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}
