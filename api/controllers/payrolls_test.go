package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/payroll-backend/api/middleware"
	"github.com/angelmondragon/payroll-backend/internal/delivery"
	"github.com/angelmondragon/payroll-backend/internal/payroll"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/payroll-backend/pkg/errors"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
)

type stubPayrollService struct {
	payroll.Service
	records map[uuid.UUID]*models.Payroll
	inputs  []payroll.CreateInput
	resends int
}

func newStubPayrollService() *stubPayrollService {
	return &stubPayrollService{records: map[uuid.UUID]*models.Payroll{}}
}

func (s *stubPayrollService) Create(_ context.Context, input payroll.CreateInput) (*models.Payroll, bool, error) {
	s.inputs = append(s.inputs, input)
	for _, rec := range s.records {
		if rec.EmployeeID == input.EmployeeID && rec.PeriodStart.Equal(input.PeriodStart) && rec.PeriodEnd.Equal(input.PeriodEnd) {
			return rec, false, nil
		}
	}
	rec := &models.Payroll{
		ID:             uuid.New(),
		EmployeeID:     input.EmployeeID,
		OrganizationID: input.OrganizationID,
		CustomerID:     input.CustomerID,
		PeriodStart:    input.PeriodStart,
		PeriodEnd:      input.PeriodEnd,
		MonthYear:      "January 2024",
		PaidDays:       input.PaidDays,
		PayDate:        input.PayDate,
		NetPayable:     decimal.NewFromInt(53000),
		Status:         enums.PayrollStatusPending,
	}
	s.records[rec.ID] = rec
	return rec, true, nil
}

func (s *stubPayrollService) Get(_ context.Context, customerID, id uuid.UUID) (*models.Payroll, error) {
	rec, ok := s.records[id]
	if !ok || rec.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payroll not found")
	}
	return rec, nil
}

func (s *stubPayrollService) Resend(ctx context.Context, customerID, id uuid.UUID) (bool, error) {
	if _, err := s.Get(ctx, customerID, id); err != nil {
		return false, err
	}
	s.resends++
	return s.resends == 1, nil
}

type stubDeliverer struct {
	delivered []uuid.UUID
	markSent  func(*models.Payroll)
}

func (d *stubDeliverer) Deliver(_ context.Context, p *models.Payroll) delivery.Result {
	d.delivered = append(d.delivered, p.ID)
	if d.markSent != nil {
		d.markSent(p)
	}
	return delivery.Result{Delivered: true, MessageID: "<m-1@acme.test>"}
}

func (d *stubDeliverer) Statement(context.Context, *models.Payroll) ([]byte, string, error) {
	return []byte("%PDF-1.3 test"), "Payslip_Priya_Sharma_January_2024.pdf", nil
}

func payrollRouter(h PayrollHandlers, customerID uuid.UUID) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := middleware.WithActor(req.Context(), customerID, nil, enums.ActorRoleAdmin)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Post("/payrolls", h.Create())
	r.Get("/payrolls/{payrollId}", h.Get())
	r.Post("/payrolls/{payrollId}/send", h.Send())
	r.Get("/payrolls/{payrollId}/statement", h.Statement())
	return r
}

const createBody = `{
	"employee_id": "%s",
	"organization_id": "%s",
	"pay_period": {"start": "2024-01-01", "end": "2024-01-31"},
	"paid_days": 31,
	"pay_date": "2024-01-31",
	"earnings": [{"type": "Basic", "amount": "60000"}],
	"deductions": [{"type": "PF", "amount": "7000"}]
}`

func createRequest(employeeID, orgID uuid.UUID) *http.Request {
	body := strings.Replace(createBody, "%s", employeeID.String(), 1)
	body = strings.Replace(body, "%s", orgID.String(), 1)
	return httptest.NewRequest(http.MethodPost, "/payrolls", strings.NewReader(body))
}

type writeEnvelope struct {
	Data struct {
		Payroll  payroll.PayrollDTO `json:"payroll"`
		Created  bool               `json:"created"`
		Delivery deliveryOutcome    `json:"delivery"`
	} `json:"data"`
}

func decodeWrite(t *testing.T, rec *httptest.ResponseRecorder) writeEnvelope {
	t.Helper()
	var env writeEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestPayrollCreateQueuesDeliveryAndReplays(t *testing.T) {
	svc := newStubPayrollService()
	customerID := uuid.New()
	router := payrollRouter(PayrollHandlers{Service: svc, Logger: logger.Nop()}, customerID)
	employeeID, orgID := uuid.New(), uuid.New()

	first := httptest.NewRecorder()
	router.ServeHTTP(first, createRequest(employeeID, orgID))
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	env := decodeWrite(t, first)
	require.True(t, env.Data.Created)
	require.True(t, env.Data.Delivery.Queued)
	require.Equal(t, "2024-01-01", env.Data.Payroll.PayPeriod.Start)

	require.Len(t, svc.inputs, 1)
	in := svc.inputs[0]
	require.Equal(t, customerID, in.CustomerID)
	require.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), in.PeriodEnd)
	require.True(t, in.Earnings[0].Amount.Equal(decimal.NewFromInt(60000)))

	replay := httptest.NewRecorder()
	router.ServeHTTP(replay, createRequest(employeeID, orgID))
	require.Equal(t, http.StatusOK, replay.Code)
	again := decodeWrite(t, replay)
	require.False(t, again.Data.Created)
	require.True(t, again.Data.Delivery.Skipped)
	require.Equal(t, env.Data.Payroll.ID, again.Data.Payroll.ID)
}

func TestPayrollCreateInlineDelivery(t *testing.T) {
	svc := newStubPayrollService()
	d := &stubDeliverer{markSent: func(p *models.Payroll) { p.EmailSent = true }}
	router := payrollRouter(PayrollHandlers{Service: svc, Deliverer: d, Inline: true, Logger: logger.Nop()}, uuid.New())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, createRequest(uuid.New(), uuid.New()))
	require.Equal(t, http.StatusCreated, rec.Code)
	env := decodeWrite(t, rec)
	require.True(t, env.Data.Delivery.Delivered)
	require.False(t, env.Data.Delivery.Queued)
	require.Equal(t, "<m-1@acme.test>", env.Data.Delivery.MessageID)
	require.True(t, env.Data.Payroll.EmailSent)
	require.Len(t, d.delivered, 1)
}

func TestPayrollCreateRejectsBadDate(t *testing.T) {
	svc := newStubPayrollService()
	router := payrollRouter(PayrollHandlers{Service: svc, Logger: logger.Nop()}, uuid.New())

	body := `{"employee_id":"` + uuid.NewString() + `","organization_id":"` + uuid.NewString() + `","pay_period":{"start":"01/01/2024","end":"2024-01-31"},"paid_days":31,"pay_date":"2024-01-31"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payrolls", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, svc.inputs)
}

func TestPayrollSendQueuesResend(t *testing.T) {
	svc := newStubPayrollService()
	customerID := uuid.New()
	router := payrollRouter(PayrollHandlers{Service: svc, Logger: logger.Nop()}, customerID)

	created := httptest.NewRecorder()
	router.ServeHTTP(created, createRequest(uuid.New(), uuid.New()))
	id := decodeWrite(t, created).Data.Payroll.ID

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payrolls/"+id.String()+"/send", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotContains(t, rec.Body.String(), "already_pending")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payrolls/"+id.String()+"/send", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"already_pending":true`)
}

func TestPayrollGetScopedToCustomer(t *testing.T) {
	svc := newStubPayrollService()
	owner := payrollRouter(PayrollHandlers{Service: svc, Logger: logger.Nop()}, uuid.New())
	created := httptest.NewRecorder()
	owner.ServeHTTP(created, createRequest(uuid.New(), uuid.New()))
	id := decodeWrite(t, created).Data.Payroll.ID

	other := payrollRouter(PayrollHandlers{Service: svc, Logger: logger.Nop()}, uuid.New())
	rec := httptest.NewRecorder()
	other.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payrolls/"+id.String(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	owner.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payrolls/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayrollStatementDownload(t *testing.T) {
	svc := newStubPayrollService()
	router := payrollRouter(PayrollHandlers{Service: svc, Deliverer: &stubDeliverer{}, Logger: logger.Nop()}, uuid.New())
	created := httptest.NewRecorder()
	router.ServeHTTP(created, createRequest(uuid.New(), uuid.New()))
	id := decodeWrite(t, created).Data.Payroll.ID

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payrolls/"+id.String()+"/statement", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "Payslip_Priya_Sharma_January_2024.pdf")
	require.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))
}
