// Package redisstream forwards committed domain events to a Redis stream so
// that out-of-process consumers can follow them.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/terraskye/pipeline/eventbus"
)

// StreamAdder is the subset of redis.Cmdable the forwarder needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

var _ StreamAdder = (*redis.Client)(nil)

type Forwarder struct {
	rdb     StreamAdder
	stream  string
	maxLen  int64
	limiter *rate.Limiter
}

type Option func(*Forwarder)

// WithMaxLen caps the stream at roughly n entries.
func WithMaxLen(n int64) Option {
	return func(f *Forwarder) { f.maxLen = n }
}

// WithLimiter throttles writes to the stream. Handle waits for a token and
// fails when the delivery context ends first.
func WithLimiter(l *rate.Limiter) Option {
	return func(f *Forwarder) { f.limiter = l }
}

func NewForwarder(rdb StreamAdder, stream string, opts ...Option) *Forwarder {
	f := &Forwarder{
		rdb:    rdb,
		stream: strings.TrimSpace(stream),
	}
	if f.stream == "" {
		f.stream = "pipeline:events"
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Stream returns the target stream key.
func (f *Forwarder) Stream() string { return f.stream }

// Handle appends env to the stream. It has the eventbus.Handler shape.
func (f *Forwarder) Handle(ctx context.Context, env eventbus.Envelope) error {
	if f == nil || f.rdb == nil {
		return nil
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("throttle %s: %w", f.stream, err)
		}
	}

	payload, err := json.Marshal(env.Event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Event.EventType(), err)
	}

	args := &redis.XAddArgs{
		Stream: f.stream,
		Values: map[string]any{
			"event_id":       env.EventID.String(),
			"event_type":     env.Event.EventType(),
			"correlation_id": env.CorrelationID.String(),
			"occurred_at":    env.OccurredAt.Format(time.RFC3339Nano),
			"payload":        string(payload),
		},
	}
	if f.maxLen > 0 {
		args.MaxLen = f.maxLen
		args.Approx = true
	}

	if err := f.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", f.stream, err)
	}
	return nil
}

// Register subscribes the forwarder to every event on bus.
func (f *Forwarder) Register(bus *eventbus.Bus) error {
	return bus.SubscribeAll("redis-stream:"+f.stream, f.Handle)
}
