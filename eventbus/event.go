package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/terraskye/pipeline"
)

// Event is a domain event raised by a handler during a unit of work.
type Event interface {
	EventType() string
}

// Envelope carries an event together with its delivery metadata.
type Envelope struct {
	EventID       uuid.UUID
	CorrelationID uuid.UUID
	Event         Event
	OccurredAt    time.Time
}

// NewEnvelope wraps ev, taking the correlation id from ctx.
func NewEnvelope(ctx context.Context, ev Event) Envelope {
	return Envelope{
		EventID:       uuid.New(),
		CorrelationID: pipeline.CorrelationIDFromContext(ctx),
		Event:         ev,
		OccurredAt:    time.Now().UTC(),
	}
}

type ctxKey string

const envelopeKey ctxKey = "envelope"

// WithEnvelope stores the envelope being delivered in ctx.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, envelopeKey, env)
}

// EnvelopeFromContext returns the envelope currently being delivered.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(envelopeKey).(Envelope)
	return env, ok
}
