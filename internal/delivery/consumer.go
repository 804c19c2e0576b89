package delivery

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/payroll-backend/pkg/enums"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/outbox"
	"github.com/angelmondragon/payroll-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/payroll-backend/pkg/outbox/registry"
)

const payslipDeliveryConsumer = "payslip-delivery"

type deliverer interface {
	DeliverByID(ctx context.Context, id uuid.UUID, onlyPending bool) Result
}

type claimer interface {
	Claim(ctx context.Context, consumer, eventID string) (bool, error)
	Complete(ctx context.Context, consumer, eventID string) error
	Release(ctx context.Context, consumer, eventID string) error
}

// Consumer turns payroll events from Pub/Sub into payslip deliveries.
type Consumer struct {
	deliverer    deliverer
	subscription *pubsub.Subscriber
	idempotency  claimer
	decoders     *registry.DecoderRegistry[deliveryRequest]
	logg         *logger.Logger
}

// NewConsumer builds the payslip delivery consumer. subscription may be nil
// when messages are fed through process directly.
func NewConsumer(d deliverer, subscription *pubsub.Subscriber, manager claimer, logg *logger.Logger) (*Consumer, error) {
	if d == nil {
		return nil, fmt.Errorf("deliverer required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		deliverer:    d,
		subscription: subscription,
		idempotency:  manager,
		decoders:     payrollDecoders(),
		logg:         logg,
	}, nil
}

func payrollDecoders() *registry.DecoderRegistry[deliveryRequest] {
	reg := registry.NewDecoderRegistry[deliveryRequest]()
	reg.Register(enums.EventPayrollCreated, outbox.CurrentVersion, registry.JSON(func(p payloads.PayrollCreatedEvent) deliveryRequest {
		return deliveryRequest{payrollID: p.PayrollID, onlyPending: true}
	}))
	// Manual resends go out even when a previous send succeeded.
	reg.Register(enums.EventPayrollDeliveryRequested, outbox.CurrentVersion, registry.JSON(func(p payloads.PayrollDeliveryRequestedEvent) deliveryRequest {
		return deliveryRequest{payrollID: p.PayrollID, onlyPending: p.Reason != payloads.ReasonManualResend}
	}))
	return reg
}

type deliveryRequest struct {
	payrollID   uuid.UUID
	onlyPending bool
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("payroll subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Attributes, msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack       bool
	nack      bool
	delivery  *Result
	duplicate bool
}

// process handles one message body. Failed deliveries are acked: the ledger
// is untouched and the redelivery sweep picks the record up again.
func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) processResult {
	eventType := enums.OutboxEventType(attrs["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": string(eventType),
	})

	if !c.decoders.Handles(eventType) {
		c.logg.Info(logCtx, "skipping non-delivery event")
		return processResult{ack: true}
	}

	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithField(logCtx, "event_id", envelope.EventID)

	req, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	if req.payrollID == uuid.Nil {
		c.logg.Warn(logCtx, "payroll id missing from event")
		return processResult{ack: true}
	}

	claimed, err := c.idempotency.Claim(ctx, payslipDeliveryConsumer, envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !claimed {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true, duplicate: true}
	}

	result := c.deliverer.DeliverByID(ctx, req.payrollID, req.onlyPending)
	if result.Delivered {
		if err := c.idempotency.Complete(ctx, payslipDeliveryConsumer, envelope.EventID); err != nil {
			c.logg.Error(logCtx, "failed to complete idempotency claim", err)
		}
	} else if err := c.idempotency.Release(ctx, payslipDeliveryConsumer, envelope.EventID); err != nil {
		// Let a redelivery of this event try again.
		c.logg.Error(logCtx, "failed to release idempotency claim", err)
	}
	return processResult{ack: true, delivery: &result}
}
