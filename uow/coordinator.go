// Package uow coordinates one unit of work per dispatched command: a store
// transaction plus the domain events raised while it is open. Events are
// published only after the transaction committed and are discarded on
// rollback.
package uow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"

	"github.com/terraskye/pipeline"
	"github.com/terraskye/pipeline/eventbus"
	"github.com/terraskye/pipeline/store"
)

var (
	// ErrNestedTransaction is returned when a unit of work is started while
	// another one is already open in the same context and the policy is
	// RejectNested.
	ErrNestedTransaction = errors.New("nested unit of work")

	// ErrNoUnitOfWork is returned by Raise outside a unit of work.
	ErrNoUnitOfWork = errors.New("no unit of work in context")
)

// Policy decides what happens when a unit of work starts inside another.
type Policy int

const (
	// RejectNested fails the inner request with ErrNestedTransaction.
	RejectNested Policy = iota
	// JoinAmbient runs the inner request in the outer transaction. Its events
	// are queued on the outer unit and published when the outer one commits.
	JoinAmbient
)

func (p Policy) String() string {
	switch p {
	case JoinAmbient:
		return "join"
	default:
		return "reject"
	}
}

// ParsePolicy parses "reject" or "join".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "reject":
		return RejectNested, nil
	case "join":
		return JoinAmbient, nil
	}
	return RejectNested, fmt.Errorf("unknown nested transaction policy %q", s)
}

// Publisher receives the events of a committed unit of work.
type Publisher interface {
	Publish(ctx context.Context, envs []eventbus.Envelope)
}

type unit struct {
	mu     sync.Mutex
	events []eventbus.Envelope
}

func (u *unit) raise(envs ...eventbus.Envelope) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, envs...)
}

func (u *unit) drain() []eventbus.Envelope {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.events
	u.events = nil
	return out
}

type ctxKey string

const unitKey ctxKey = "unit"

func unitFromContext(ctx context.Context) (*unit, bool) {
	u, ok := ctx.Value(unitKey).(*unit)
	return u, ok
}

// InTransaction reports whether ctx carries an open unit of work.
func InTransaction(ctx context.Context) bool {
	_, ok := unitFromContext(ctx)
	return ok
}

// Raise queues events on the unit of work in ctx. They are delivered after
// a successful commit and dropped otherwise.
func Raise(ctx context.Context, events ...eventbus.Event) error {
	u, ok := unitFromContext(ctx)
	if !ok {
		return ErrNoUnitOfWork
	}
	envs := make([]eventbus.Envelope, 0, len(events))
	for _, ev := range events {
		if ev == nil {
			continue
		}
		envs = append(envs, eventbus.NewEnvelope(ctx, ev))
	}
	u.raise(envs...)
	return nil
}

type Coordinator struct {
	store     store.Store
	publisher Publisher
	policy    Policy
	logger    *logrus.Entry
}

type Option func(*Coordinator)

func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator. publisher may be nil, in which case
// committed events are dropped.
func NewCoordinator(st store.Store, publisher Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     st,
		publisher: publisher,
		logger:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes body inside a unit of work.
//
// The body's error is returned unchanged after rolling back. A cancelled
// context before commit rolls back as well. Once commit has started it runs
// to completion on a context that ignores cancellation. A commit conflict is
// returned as *pipeline.PersistenceConflictError.
func (c *Coordinator) Run(ctx context.Context, body func(ctx context.Context) (any, error)) (any, error) {
	if InTransaction(ctx) {
		if c.policy == JoinAmbient {
			return body(ctx)
		}
		return nil, ErrNestedTransaction
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		c.record(ctx, "begin_failed")
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}

	u := &unit{}
	inner := store.WithTx(context.WithValue(ctx, unitKey, u), tx)

	res, err := body(inner)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		c.rollback(ctx, tx, u)
		return nil, err
	}

	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		c.discard(ctx, u)
		c.record(ctx, "commit_failed")
		var conflict *pipeline.PersistenceConflictError
		if errors.As(err, &conflict) {
			return nil, err
		}
		return nil, fmt.Errorf("commit unit of work: %w", err)
	}
	c.record(ctx, "committed")

	if events := u.drain(); len(events) > 0 && c.publisher != nil {
		c.publisher.Publish(context.WithoutCancel(ctx), events)
	}
	return res, nil
}

// Behavior adapts the coordinator to the transaction slot of a chain.
func (c *Coordinator) Behavior() pipeline.Behavior {
	return func(ctx context.Context, _ pipeline.RequestInfo, _ any, next pipeline.Next) (any, error) {
		return c.Run(ctx, func(ctx context.Context) (any, error) {
			return next(ctx)
		})
	}
}

func (c *Coordinator) rollback(ctx context.Context, tx store.Tx, u *unit) {
	c.discard(ctx, u)
	if err := tx.Rollback(); err != nil && !errors.Is(err, store.ErrTxDone) {
		c.logger.WithError(err).Error("rollback failed")
	}
	c.record(ctx, "rolled_back")
}

func (c *Coordinator) discard(ctx context.Context, u *unit) {
	if n := len(u.drain()); n > 0 {
		pipeline.EventsDiscarded.Add(ctx, int64(n))
		c.logger.WithField("events", n).Debug("discarded events of failed unit of work")
	}
}

func (c *Coordinator) record(ctx context.Context, outcome string) {
	pipeline.Transactions.Add(ctx, 1, metric.WithAttributes(pipeline.AttrOutcome.String(outcome)))
}
