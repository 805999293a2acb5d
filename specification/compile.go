package specification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/terraskye/pipeline/paging"
)

var (
	// ErrUnspecifiedOrderWithPaging rejects windows over unordered results,
	// which would not be deterministic.
	ErrUnspecifiedOrderWithPaging = errors.New("paging requires an ordering")
	ErrInvalidWindow              = errors.New("invalid paging window")
	ErrUnknownOrderKey            = errors.New("unknown order key")
	ErrUnknownRelation            = errors.New("unknown relation")
)

// Comparator orders two entities like strings.Compare.
type Comparator[T any] func(a, b T) int

// Loader eagerly loads a relation into items in place.
type Loader[T any] func(ctx context.Context, items []T) error

// Schema lists the order keys and relations a query may refer to.
type Schema[T any] struct {
	keys      map[string]Comparator[T]
	relations map[string]Loader[T]
}

func NewSchema[T any]() *Schema[T] {
	return &Schema[T]{
		keys:      make(map[string]Comparator[T]),
		relations: make(map[string]Loader[T]),
	}
}

// Key registers an order key.
func (s *Schema[T]) Key(name string, cmp Comparator[T]) *Schema[T] {
	s.keys[name] = cmp
	return s
}

// Relation registers a relation loader. Nested relations use dotted paths
// such as "customer.address".
func (s *Schema[T]) Relation(path string, load Loader[T]) *Schema[T] {
	s.relations[path] = load
	return s
}

// Source provides the entities a query runs over.
type Source[T any] interface {
	All(ctx context.Context) ([]T, error)
}

// SliceSource serves a fixed slice.
type SliceSource[T any] []T

func (s SliceSource[T]) All(context.Context) ([]T, error) { return slices.Clone([]T(s)), nil }

type compiledOrder[T any] struct {
	Order
	cmp Comparator[T]
}

type relation[T any] struct {
	path string
	load Loader[T]
}

// Query is a compiled specification. It is safe for concurrent use.
type Query[T any] struct {
	filter    Predicate[T]
	relations []relation[T]
	orders    []compiledOrder[T]
	window    *Window
}

// Result is the outcome of a query. Total counts every entity that matched
// the filter regardless of the window.
type Result[T any] struct {
	Items []T
	Total int
}

// Compile checks spec against schema.
func Compile[T any](spec Spec[T], schema *Schema[T]) (*Query[T], error) {
	if schema == nil {
		schema = NewSchema[T]()
	}

	q := &Query[T]{filter: spec.filter}

	if spec.window != nil {
		if len(spec.orders) == 0 {
			return nil, ErrUnspecifiedOrderWithPaging
		}
		if spec.window.Offset < 0 || spec.window.Limit <= 0 {
			return nil, fmt.Errorf("%w: offset %d, limit %d", ErrInvalidWindow, spec.window.Offset, spec.window.Limit)
		}
		w := *spec.window
		q.window = &w
	}

	for _, o := range spec.orders {
		cmp, ok := schema.keys[o.Key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOrderKey, o.Key)
		}
		q.orders = append(q.orders, compiledOrder[T]{Order: o, cmp: cmp})
	}

	seen := make(map[string]bool)
	for _, path := range spec.includes {
		parts := strings.Split(path, ".")
		for i := range parts {
			p := strings.Join(parts[:i+1], ".")
			if seen[p] {
				continue
			}
			load, ok := schema.relations[p]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownRelation, p)
			}
			seen[p] = true
			q.relations = append(q.relations, relation[T]{path: p, load: load})
		}
	}
	return q, nil
}

// Steps describes the compiled pipeline in execution order.
func (q *Query[T]) Steps() []string {
	var steps []string
	if q.filter != nil {
		steps = append(steps, "filter")
	}
	for _, r := range q.relations {
		steps = append(steps, "include "+r.path)
	}
	for _, o := range q.orders {
		steps = append(steps, fmt.Sprintf("order %s %s", o.Key, o.Direction))
	}
	if q.window != nil {
		steps = append(steps, fmt.Sprintf("window %d+%d", q.window.Offset, q.window.Limit))
	}
	return steps
}

// Execute runs the query over the entities of src.
func (q *Query[T]) Execute(ctx context.Context, src Source[T]) (Result[T], error) {
	all, err := src.All(ctx)
	if err != nil {
		return Result[T]{}, err
	}

	items := all
	if q.filter != nil {
		items = make([]T, 0, len(all))
		for _, v := range all {
			if q.filter(v) {
				items = append(items, v)
			}
		}
	}
	total := len(items)

	for _, r := range q.relations {
		if err := ctx.Err(); err != nil {
			return Result[T]{}, err
		}
		if err := r.load(ctx, items); err != nil {
			return Result[T]{}, fmt.Errorf("include %s: %w", r.path, err)
		}
	}

	if len(q.orders) > 0 {
		slices.SortStableFunc(items, func(a, b T) int {
			for _, o := range q.orders {
				c := o.cmp(a, b)
				if o.Direction == Descending {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	if q.window != nil {
		start := min(q.window.Offset, len(items))
		end := len(items)
		if q.window.Limit < end-start {
			end = start + q.window.Limit
		}
		items = items[start:end]
	}
	if items == nil {
		items = []T{}
	}
	return Result[T]{Items: items, Total: total}, nil
}

// ExecutePage runs spec over src for the requested page. The page replaces
// any window set on spec.
func ExecutePage[T any](ctx context.Context, spec Spec[T], schema *Schema[T], src Source[T], req paging.Request) (paging.Page[T], error) {
	if err := req.Validate(); err != nil {
		return paging.Page[T]{}, err
	}
	q, err := Compile(spec.WithWindow(req.Offset(), req.Limit()), schema)
	if err != nil {
		return paging.Page[T]{}, err
	}
	res, err := q.Execute(ctx, src)
	if err != nil {
		return paging.Page[T]{}, err
	}
	return paging.New(res.Items, res.Total, req.Page, req.Size)
}
