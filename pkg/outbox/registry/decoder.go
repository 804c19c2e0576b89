package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/payroll-backend/pkg/enums"
)

var (
	ErrUnhandledEvent = errors.New("event type not handled")
	ErrUnknownVersion = errors.New("envelope version not supported")
)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps (event type, envelope version) to a function that
// turns the envelope data into the consumer's own request type R.
type DecoderRegistry[R any] struct {
	mu       sync.RWMutex
	decoders map[decoderKey]func(json.RawMessage) (R, error)
	handled  map[enums.OutboxEventType]struct{}
}

func NewDecoderRegistry[R any]() *DecoderRegistry[R] {
	return &DecoderRegistry[R]{
		decoders: map[decoderKey]func(json.RawMessage) (R, error){},
		handled:  map[enums.OutboxEventType]struct{}{},
	}
}

// Register replaces any decoder already stored for the same key.
func (r *DecoderRegistry[R]) Register(eventType enums.OutboxEventType, version int, decode func(json.RawMessage) (R, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[decoderKey{eventType, version}] = decode
	r.handled[eventType] = struct{}{}
}

// Handles reports whether any version of eventType is registered.
func (r *DecoderRegistry[R]) Handles(eventType enums.OutboxEventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handled[eventType]
	return ok
}

func (r *DecoderRegistry[R]) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (R, error) {
	r.mu.RLock()
	decode, ok := r.decoders[decoderKey{eventType, version}]
	_, known := r.handled[eventType]
	r.mu.RUnlock()

	var zero R
	switch {
	case ok:
		return decode(data)
	case known:
		return zero, fmt.Errorf("%w: %s@v%d", ErrUnknownVersion, eventType, version)
	default:
		return zero, fmt.Errorf("%w: %s", ErrUnhandledEvent, eventType)
	}
}

// JSON builds a decoder that unmarshals into P and maps it to R.
func JSON[P, R any](mapTo func(P) R) func(json.RawMessage) (R, error) {
	return func(data json.RawMessage) (R, error) {
		var p P
		if err := json.Unmarshal(data, &p); err != nil {
			var zero R
			return zero, err
		}
		return mapTo(p), nil
	}
}
