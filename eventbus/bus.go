// Package eventbus delivers domain events to in-process subscribers after a
// unit of work has committed.
//
// Delivery is synchronous and ordered: for each envelope, the subscribers for
// the event's concrete type and the catch-all subscribers run interleaved in
// the order they were registered. A failing subscriber never affects the
// others or the caller.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/terraskye/pipeline"
)

var (
	ErrEmptyName      = errors.New("subscriber name is empty")
	ErrNilSubscriber  = errors.New("subscriber is nil")
	ErrDuplicateName  = errors.New("subscriber already registered")
	ErrSubscriberFail = errors.New("subscriber failed")
)

// Handler receives envelopes. It is the shape of catch-all subscribers and the
// unit the logging decorator wraps.
type Handler func(ctx context.Context, env Envelope) error

// SubscriberFailure describes one failed delivery.
type SubscriberFailure struct {
	Subscriber string
	EventType  string
	EventID    uuid.UUID
	Err        error
}

func (f *SubscriberFailure) Error() string {
	return fmt.Sprintf("subscriber %q failed on %s (%s): %v", f.Subscriber, f.EventType, f.EventID, f.Err)
}

func (f *SubscriberFailure) Unwrap() error { return f.Err }

func (f *SubscriberFailure) Is(target error) bool { return target == ErrSubscriberFail }

type subscription struct {
	seq    uint64
	name   string
	handle Handler
}

type Bus struct {
	mu       sync.RWMutex
	typed    map[reflect.Type][]subscription
	catchAll []subscription
	seq      uint64

	logger    *slog.Logger
	retry     func() backoff.BackOff
	onFailure func(context.Context, *SubscriberFailure)
}

type Option func(*Bus)

// WithLogger sets the logger used to report subscriber failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithRetry retries a failing subscriber with a fresh policy from newPolicy
// for every delivery. Panics are not retried.
func WithRetry(newPolicy func() backoff.BackOff) Option {
	return func(b *Bus) { b.retry = newPolicy }
}

// WithFailureHook is called once per failed delivery, after retries.
func WithFailureHook(fn func(context.Context, *SubscriberFailure)) Option {
	return func(b *Bus) { b.onFailure = fn }
}

func New(opts ...Option) *Bus {
	b := &Bus{
		typed:  make(map[reflect.Type][]subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn for events of type E. Names must be unique per
// event type.
func Subscribe[E Event](b *Bus, name string, fn func(ctx context.Context, ev E) error) error {
	if fn == nil {
		return ErrNilSubscriber
	}
	t := reflect.TypeFor[E]()
	return b.add(t, name, func(ctx context.Context, env Envelope) error {
		ev, ok := env.Event.(E)
		if !ok {
			return fmt.Errorf("unexpected event type %T", env.Event)
		}
		return fn(ctx, ev)
	})
}

// SubscribeAll registers fn for every event.
func (b *Bus) SubscribeAll(name string, fn Handler) error {
	if fn == nil {
		return ErrNilSubscriber
	}
	return b.add(nil, name, fn)
}

func (b *Bus) add(t reflect.Type, name string, fn Handler) error {
	if name == "" {
		return ErrEmptyName
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.catchAll
	if t != nil {
		existing = b.typed[t]
	}
	for _, s := range existing {
		if s.name == name {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}

	b.seq++
	sub := subscription{seq: b.seq, name: name, handle: fn}
	if t == nil {
		b.catchAll = append(b.catchAll, sub)
	} else {
		b.typed[t] = append(b.typed[t], sub)
	}
	return nil
}

func (b *Bus) subscribers(ev Event) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	typed, all := b.typed[reflect.TypeOf(ev)], b.catchAll
	out := make([]subscription, 0, len(typed)+len(all))
	for len(typed) > 0 && len(all) > 0 {
		if typed[0].seq < all[0].seq {
			out, typed = append(out, typed[0]), typed[1:]
		} else {
			out, all = append(out, all[0]), all[1:]
		}
	}
	out = append(out, typed...)
	return append(out, all...)
}

// Publish delivers envs in order. Delivery continues when ctx is cancelled
// because the events describe changes that are already committed.
// Subscriber failures are reported through the logger, metrics and failure
// hook and are never returned.
func (b *Bus) Publish(ctx context.Context, envs []Envelope) {
	ctx = context.WithoutCancel(ctx)
	for _, env := range envs {
		if env.Event == nil {
			continue
		}
		evCtx := WithEnvelope(pipeline.WithCorrelationID(ctx, env.CorrelationID), env)
		for _, sub := range b.subscribers(env.Event) {
			if err := b.deliver(evCtx, sub, env); err != nil {
				b.fail(evCtx, &SubscriberFailure{
					Subscriber: sub.name,
					EventType:  env.Event.EventType(),
					EventID:    env.EventID,
					Err:        err,
				})
			}
		}
		pipeline.EventsPublished.Add(ctx, 1,
			metric.WithAttributes(pipeline.AttrEventType.String(env.Event.EventType())))
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, env Envelope) error {
	if b.retry == nil {
		return safeCall(ctx, sub.handle, env)
	}
	return backoff.Retry(func() error {
		err := safeCall(ctx, sub.handle, env)
		if errors.Is(err, pipeline.ErrHandlerPanic) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b.retry(), ctx))
}

func safeCall(ctx context.Context, fn Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", pipeline.ErrHandlerPanic, r)
		}
	}()
	return fn(ctx, env)
}

func (b *Bus) fail(ctx context.Context, f *SubscriberFailure) {
	pipeline.SubscriberFailures.Add(ctx, 1, metric.WithAttributes(
		pipeline.AttrSubscriberName.String(f.Subscriber),
		pipeline.AttrEventType.String(f.EventType),
		pipeline.AttrErrorType.String(pipeline.ErrorType(f.Err)),
	))
	b.logger.ErrorContext(ctx, "subscriber failed",
		"subscriber", f.Subscriber,
		"event_type", f.EventType,
		"event_id", f.EventID.String(),
		"error", f.Err,
	)
	if b.onFailure != nil {
		b.onFailure(ctx, f)
	}
}
