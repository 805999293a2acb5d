package fixtures

import (
	"context"
	"sync"

	"github.com/terraskye/pipeline/eventbus"
)

// HandlerSpy is a configurable handler that records its calls.
type HandlerSpy[Req any, Res any] struct {
	mu sync.Mutex

	// Fn overrides the result. The zero Res is returned when nil.
	Fn func(ctx context.Context, req Req) (Res, error)

	Calls    int
	Requests []Req
}

func NewHandlerSpy[Req any, Res any]() *HandlerSpy[Req, Res] {
	return &HandlerSpy[Req, Res]{}
}

// Returning configures the spy to return res and err.
func (s *HandlerSpy[Req, Res]) Returning(res Res, err error) *HandlerSpy[Req, Res] {
	s.Fn = func(context.Context, Req) (Res, error) { return res, err }
	return s
}

func (s *HandlerSpy[Req, Res]) Handle(ctx context.Context, req Req) (Res, error) {
	s.mu.Lock()
	s.Calls++
	s.Requests = append(s.Requests, req)
	fn := s.Fn
	s.mu.Unlock()

	if fn == nil {
		var zero Res
		return zero, nil
	}
	return fn(ctx, req)
}

func (s *HandlerSpy[Req, Res]) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

// SubscriberSpy records the envelopes it receives.
type SubscriberSpy struct {
	mu sync.Mutex

	// OnEvent runs for every delivery before it is recorded. Its error is
	// returned to the bus.
	OnEvent func(ctx context.Context, env eventbus.Envelope) error

	Received []eventbus.Envelope
}

func NewSubscriberSpy() *SubscriberSpy {
	return &SubscriberSpy{}
}

func (s *SubscriberSpy) Handle(ctx context.Context, env eventbus.Envelope) error {
	if s.OnEvent != nil {
		if err := s.OnEvent(ctx, env); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Received = append(s.Received, env)
	return nil
}

func (s *SubscriberSpy) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Received)
}

// EventTypes returns the types of the received events in delivery order.
func (s *SubscriberSpy) EventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Received))
	for i, env := range s.Received {
		out[i] = env.Event.EventType()
	}
	return out
}
