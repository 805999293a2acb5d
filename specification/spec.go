// Package specification describes queries declaratively and compiles them
// into an executable form.
//
// A compiled query always runs the same fixed pipeline: filter, eager loads,
// ordering, window. The total count is taken after the filter and before the
// window.
package specification

import (
	"slices"
)

// Predicate selects entities.
type Predicate[T any] func(T) bool

// And matches when every predicate matches. No predicates match everything.
func And[T any](ps ...Predicate[T]) Predicate[T] {
	return func(v T) bool {
		for _, p := range ps {
			if p != nil && !p(v) {
				return false
			}
		}
		return true
	}
}

// Or matches when any predicate matches. No predicates match nothing.
func Or[T any](ps ...Predicate[T]) Predicate[T] {
	return func(v T) bool {
		for _, p := range ps {
			if p != nil && p(v) {
				return true
			}
		}
		return false
	}
}

func Not[T any](p Predicate[T]) Predicate[T] {
	return func(v T) bool { return !p(v) }
}

type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Order is one ordering key. Later keys break ties of earlier ones.
type Order struct {
	Key       string
	Direction Direction
}

// Window is a paging window.
type Window struct {
	Offset int
	Limit  int
}

// Spec is an immutable query description. Build one with New.
type Spec[T any] struct {
	filter   Predicate[T]
	includes []string
	orders   []Order
	window   *Window
}

// Filter returns the combined filter, or nil when none was set.
func (s Spec[T]) Filter() Predicate[T] { return s.filter }

func (s Spec[T]) Includes() []string { return slices.Clone(s.includes) }

func (s Spec[T]) Orders() []Order { return slices.Clone(s.orders) }

// Window returns the paging window, if one was requested.
func (s Spec[T]) Window() (Window, bool) {
	if s.window == nil {
		return Window{}, false
	}
	return *s.window, true
}

// WithWindow returns a copy of s with the given window.
func (s Spec[T]) WithWindow(offset, limit int) Spec[T] {
	s.includes = slices.Clone(s.includes)
	s.orders = slices.Clone(s.orders)
	s.window = &Window{Offset: offset, Limit: limit}
	return s
}

type Builder[T any] struct {
	spec Spec[T]
}

// New starts a specification for entities of type T.
//
// Example:
//
//	spec := specification.New[Order]().
//	    Filter(func(o Order) bool { return o.Status == StatusPaid }).
//	    Include("customer").
//	    OrderBy("placedAt", specification.Descending).
//	    Page(0, 20).
//	    Build()
func New[T any]() *Builder[T] {
	return &Builder[T]{}
}

// Filter adds a predicate. Several filters must all match.
func (b *Builder[T]) Filter(p Predicate[T]) *Builder[T] {
	if p == nil {
		return b
	}
	if b.spec.filter == nil {
		b.spec.filter = p
	} else {
		b.spec.filter = And(b.spec.filter, p)
	}
	return b
}

// Include eagerly loads a relation. Dotted paths load every ancestor first.
func (b *Builder[T]) Include(path string) *Builder[T] {
	if !slices.Contains(b.spec.includes, path) {
		b.spec.includes = append(b.spec.includes, path)
	}
	return b
}

// OrderBy appends an ordering key.
func (b *Builder[T]) OrderBy(key string, dir Direction) *Builder[T] {
	b.spec.orders = append(b.spec.orders, Order{Key: key, Direction: dir})
	return b
}

// Page requests the window [offset, offset+limit).
func (b *Builder[T]) Page(offset, limit int) *Builder[T] {
	b.spec.window = &Window{Offset: offset, Limit: limit}
	return b
}

// Build returns the specification. The builder may be reused afterwards
// without affecting it.
func (b *Builder[T]) Build() Spec[T] {
	s := b.spec
	s.includes = slices.Clone(s.includes)
	s.orders = slices.Clone(s.orders)
	if s.window != nil {
		w := *s.window
		s.window = &w
	}
	return s
}
