package enums

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregatePayroll      OutboxAggregateType = "payroll"
	AggregateOrganization OutboxAggregateType = "organization"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregatePayroll || a == AggregateOrganization
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse[OutboxAggregateType](value, "aggregate type")
}

// OutboxEventType is the event_type column and the event_type message
// attribute consumers filter on.
type OutboxEventType string

const (
	EventPayrollCreated           OutboxEventType = "payroll_created"
	EventPayrollDeliveryRequested OutboxEventType = "payroll_delivery_requested"
	EventOrganizationCreated      OutboxEventType = "organization_created"
)

func (e OutboxEventType) IsValid() bool {
	return e.RequestsDelivery() || e == EventOrganizationCreated
}

// RequestsDelivery reports whether consumers should attempt payslip delivery.
func (e OutboxEventType) RequestsDelivery() bool {
	return e == EventPayrollCreated || e == EventPayrollDeliveryRequested
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse[OutboxEventType](value, "event type")
}

// OutboxDLQErrorReason records why a row was moved to the dead-letter table.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
