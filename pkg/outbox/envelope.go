package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the envelope version written when an event sets none.
const CurrentVersion = 1

var (
	ErrMissingEventID = errors.New("envelope event id missing")
	ErrMissingData    = errors.New("envelope data missing")
)

// ActorRef identifies who caused the event. UserID is zero for actions taken
// by the system on a customer's behalf.
type ActorRef struct {
	UserID     uuid.UUID  `json:"userId"`
	CustomerID *uuid.UUID `json:"customerId,omitempty"`
	Role       string     `json:"role,omitempty"`
}

// PayloadEnvelope is what outbox_events.payload holds and what goes on the
// wire as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// NewEnvelope marshals data under a fresh event id.
func NewEnvelope(version int, occurredAt time.Time, actor *ActorRef, data any) (PayloadEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("marshal event data: %w", err)
	}
	if version <= 0 {
		version = CurrentVersion
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	env := PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Actor:      actor,
		Data:       raw,
	}
	return env, env.Validate()
}

// DecodeEnvelope parses a message body and validates it.
func DecodeEnvelope(body []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, env.Validate()
}

// Validate requires a uuid event id and non-null data.
func (e PayloadEnvelope) Validate() error {
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingEventID, err)
	}
	trimmed := bytes.TrimSpace(e.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ErrMissingData
	}
	return nil
}

// UnmarshalData decodes the event-specific payload into dest.
func (e PayloadEnvelope) UnmarshalData(dest any) error {
	if err := json.Unmarshal(e.Data, dest); err != nil {
		return fmt.Errorf("decode event data: %w", err)
	}
	return nil
}
