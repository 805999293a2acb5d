package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// RegisterOption customizes the behaviors applied to one request type.
type RegisterOption func(*registerSettings)

type registerSettings struct {
	name        string
	validation  bool
	logging     bool
	transaction bool
}

// WithName overrides the request name used in logs and spans.
func WithName(name string) RegisterOption {
	return func(s *registerSettings) { s.name = name }
}

// WithoutValidation skips the validation slot for the request type.
func WithoutValidation() RegisterOption {
	return func(s *registerSettings) { s.validation = false }
}

// WithoutLogging skips the logging slot for the request type.
func WithoutLogging() RegisterOption {
	return func(s *registerSettings) { s.logging = false }
}

// WithoutTransaction skips the transaction slot for the request type.
// Handlers registered this way cannot write or raise events.
func WithoutTransaction() RegisterOption {
	return func(s *registerSettings) { s.transaction = false }
}

// WithTransaction runs a query inside the transaction slot, e.g. to read
// under the same isolation as writes.
func WithTransaction() RegisterOption {
	return func(s *registerSettings) { s.transaction = true }
}

type registration struct {
	info     RequestInfo
	settings registerSettings
	handle   func(ctx context.Context, req any) (any, error)
}

// Registry collects handler registrations during the configuration phase.
// It is passed to NewDispatcher, which seals it; later registrations fail
// with ErrRegistrySealed.
type Registry struct {
	mu      sync.Mutex
	byType  map[reflect.Type]int
	entries []registration
	sealed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]int),
	}
}

// Register binds handler to the concrete request type Req.
//
// Registering a second handler for the same Req fails immediately with a
// *DuplicateHandlerRegistrationError. Commands use every configured behavior
// slot by default; queries skip the transaction slot.
//
// Example:
//
//	err := pipeline.Register(reg, pipeline.KindCommand, pipeline.HandlerFunc[PlaceOrder, pipeline.Empty](placeOrder))
func Register[Req any, Res any](reg *Registry, kind Kind, handler Handler[Req, Res], opts ...RegisterOption) error {
	reqType := reflect.TypeFor[Req]()
	if handler == nil {
		return fmt.Errorf("register %s: %w", reqType, ErrNilHandler)
	}
	if reqType.Kind() == reflect.Interface {
		return fmt.Errorf("register %s: %w", reqType, ErrAbstractRequestType)
	}

	settings := registerSettings{
		name:        reqType.String(),
		validation:  true,
		logging:     true,
		transaction: kind == KindCommand,
	}
	for _, opt := range opts {
		opt(&settings)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.sealed {
		return fmt.Errorf("register %s: %w", reqType, ErrRegistrySealed)
	}
	if _, exists := reg.byType[reqType]; exists {
		return &DuplicateHandlerRegistrationError{RequestType: reqType.String()}
	}

	key := len(reg.entries)
	reg.entries = append(reg.entries, registration{
		info: RequestInfo{
			Key:         key,
			Name:        settings.name,
			Kind:        kind,
			RequestType: reqType,
			ResultType:  reflect.TypeFor[Res](),
		},
		settings: settings,
		handle: func(ctx context.Context, req any) (any, error) {
			r, ok := req.(Req)
			if !ok {
				return nil, fmt.Errorf("expected request type %s but got %T", reqType, req)
			}
			return handler.Handle(ctx, r)
		},
	})
	reg.byType[reqType] = key
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister[Req any, Res any](reg *Registry, kind Kind, handler Handler[Req, Res], opts ...RegisterOption) {
	if err := Register(reg, kind, handler, opts...); err != nil {
		panic(err)
	}
}

// RegisterCommand registers a command handler.
func RegisterCommand[Req any, Res any](reg *Registry, fn func(ctx context.Context, cmd Req) (Res, error), opts ...RegisterOption) error {
	if fn == nil {
		return fmt.Errorf("register %s: %w", reflect.TypeFor[Req](), ErrNilHandler)
	}
	return Register[Req, Res](reg, KindCommand, HandlerFunc[Req, Res](fn), opts...)
}

// RegisterQuery registers a query handler.
func RegisterQuery[Req any, Res any](reg *Registry, fn func(ctx context.Context, qry Req) (Res, error), opts ...RegisterOption) error {
	if fn == nil {
		return fmt.Errorf("register %s: %w", reflect.TypeFor[Req](), ErrNilHandler)
	}
	return Register[Req, Res](reg, KindQuery, HandlerFunc[Req, Res](fn), opts...)
}

// Len returns the number of registered request types.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// seal freezes the registry and returns its entries in key order.
func (r *Registry) seal() []registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	out := make([]registration, len(r.entries))
	copy(out, r.entries)
	return out
}
