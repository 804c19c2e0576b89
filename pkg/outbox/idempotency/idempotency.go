// Package idempotency keeps Pub/Sub consumers from acting on the same outbox
// event twice. A consumer first claims the event with a short lease, then
// either completes it (kept for the full TTL) or releases it so a redelivery
// can try again. A worker that dies mid-flight loses its lease when it
// expires.
//
// Keys: pr:idempotency:evt:processed:<consumer>:<event_id>.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/payroll-backend/pkg/redis"
)

// DefaultLease bounds how long an in-flight claim blocks redeliveries.
const DefaultLease = 10 * time.Minute

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

var (
	errConsumerRequired = errors.New("consumer name is required")
	errEventIDRequired  = errors.New("event id is required")
)

type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	lease time.Duration
	now   func() time.Time
}

// NewManager keeps completed events for ttl; zero keeps them forever. The
// lease is DefaultLease, capped at ttl.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	lease := DefaultLease
	if ttl > 0 {
		lease = min(lease, ttl)
	}
	return &Manager{store: store, ttl: ttl, lease: lease, now: time.Now}, nil
}

// Claim takes the lease on eventID for consumer. false means another
// delivery holds the lease or already completed the event.
func (m *Manager) Claim(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, key, m.stamp(stateProcessing), m.lease)
}

// Complete turns a lease into a permanent record for the configured TTL.
func (m *Manager) Complete(ctx context.Context, consumer, eventID string) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, m.stamp(stateDone), m.ttl)
}

// Release drops the lease so a redelivered message is handled again.
func (m *Manager) Release(ctx context.Context, consumer, eventID string) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// Completed reports whether the event finished under consumer.
func (m *Manager) Completed(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	value, err := m.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	state, _, _ := strings.Cut(value, "@")
	return state == stateDone, nil
}

func (m *Manager) stamp(state string) string {
	return state + "@" + m.now().UTC().Format(time.RFC3339)
}

func (m *Manager) key(consumer, eventID string) (string, error) {
	consumer, eventID = strings.TrimSpace(consumer), strings.TrimSpace(eventID)
	switch {
	case consumer == "":
		return "", errConsumerRequired
	case eventID == "":
		return "", errEventIDRequired
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, eventID), nil
}
