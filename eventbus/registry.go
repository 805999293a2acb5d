package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownEvent = errors.New("event not registered")

// Registry maps event type names to concrete event types so that events
// read back from an external stream can be decoded.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]func(data []byte) (Event, error)
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]func([]byte) (Event, error))}
}

// RegisterEvent registers E under the name returned by its EventType.
//
// Example Usage:
//
//	eventbus.RegisterEvent[OrderPlaced](reg)
func RegisterEvent[E Event](r *Registry) error {
	var zero E
	return RegisterEventAs[E](r, zero.EventType())
}

// RegisterEventAs registers E under a custom name.
func RegisterEventAs[E Event](r *Registry, name string) error {
	if name == "" {
		return fmt.Errorf("register event: %w", ErrEmptyName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decoders[name]; exists {
		return fmt.Errorf("event already registered: %s", name)
	}
	r.decoders[name] = func(data []byte) (Event, error) {
		var ev E
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev); err != nil {
				return nil, err
			}
		}
		return ev, nil
	}
	return nil
}

// Decode creates the event registered under name from its JSON payload.
func (r *Registry) Decode(name string, data []byte) (Event, error) {
	r.mu.RLock()
	decode, ok := r.decoders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	ev, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return ev, nil
}

// Len returns the number of registered event names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.decoders)
}
