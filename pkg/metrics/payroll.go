package metrics

import (
	"cmp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Admission outcomes.
const (
	AdmissionAdmitted = "admitted"
	AdmissionDenied   = "denied"
	AdmissionError    = "error"
)

// Ledger create results.
const (
	LedgerCreated  = "created"
	LedgerReplayed = "replayed"
	LedgerFailed   = "failed"
)

// Delivery outcomes.
const (
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// PayrollMetrics covers quota admission, ledger writes and statement delivery.
type PayrollMetrics struct {
	admissions       *prometheus.CounterVec
	ledgerWrites     *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
}

// NewPayrollMetrics registers the payroll metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewPayrollMetrics(reg prometheus.Registerer) *PayrollMetrics {
	if reg == nil {
		return &PayrollMetrics{}
	}
	admissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_admission_decisions_total",
		Help: "Quota admission decisions by resource and outcome.",
	}, []string{"resource", "outcome"})
	ledgerWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_ledger_writes_total",
		Help: "Payroll create calls by result (created, replayed).",
	}, []string{"result"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_delivery_attempts_total",
		Help: "Statement delivery attempts by outcome and failing stage.",
	}, []string{"outcome", "stage"})
	deliveryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payroll_delivery_duration_seconds",
		Help:    "End-to-end statement delivery duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	reg.MustRegister(admissions, ledgerWrites, deliveries, deliveryDuration)
	return &PayrollMetrics{
		admissions:       admissions,
		ledgerWrites:     ledgerWrites,
		deliveries:       deliveries,
		deliveryDuration: deliveryDuration,
	}
}

// IncAdmission counts one admission decision.
func (m *PayrollMetrics) IncAdmission(resource, outcome string) {
	if m == nil || m.admissions == nil {
		return
	}
	m.admissions.WithLabelValues(normalizeLabel(resource), normalizeLabel(outcome)).Inc()
}

// IncLedgerWrite counts a payroll create call.
func (m *PayrollMetrics) IncLedgerWrite(result string) {
	if m == nil || m.ledgerWrites == nil {
		return
	}
	m.ledgerWrites.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveDelivery records one delivery attempt. stage is empty on success.
func (m *PayrollMetrics) ObserveDelivery(outcome, stage string, duration time.Duration) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(outcome), cmp.Or(stage, "none")).Inc()
	m.deliveryDuration.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

// normalizeLabel keeps label values lower-case and never empty.
func normalizeLabel(v string) string {
	return cmp.Or(strings.ToLower(strings.TrimSpace(v)), "unknown")
}
