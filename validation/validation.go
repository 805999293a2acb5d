// Package validation runs every rule set registered for a request type and
// rejects the request with all failures at once.
package validation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/terraskye/pipeline"
)

// ErrValidationFailed is matched by *FailedError.
var ErrValidationFailed = errors.New("validation failed")

// Failure is one violated rule.
type Failure struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (f Failure) String() string {
	if f.Field == "" {
		return f.Message
	}
	return f.Field + ": " + f.Message
}

// Result holds the failures of every rule set in registration order.
type Result struct {
	Failures []Failure
}

func (r Result) Valid() bool { return len(r.Failures) == 0 }

// RuleSet checks a request and returns its failures, or none.
type RuleSet[Req any] func(req Req) []Failure

// FailedError rejects a request. It carries every failure found.
type FailedError struct {
	Request  string
	Failures []Failure
}

func (e *FailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return fmt.Sprintf("%s is invalid: %s", e.Request, strings.Join(parts, "; "))
}

func (e *FailedError) Is(target error) bool { return target == ErrValidationFailed }

func (e *FailedError) ErrorType() string { return "validation_failed" }

type Registry struct {
	mu    sync.RWMutex
	rules map[reflect.Type][]func(any) []Failure
}

func NewRegistry() *Registry {
	return &Registry{rules: make(map[reflect.Type][]func(any) []Failure)}
}

// AddRules registers rule sets for requests of type Req. Several sets may
// be registered for the same type; all of them run.
func AddRules[Req any](reg *Registry, sets ...RuleSet[Req]) {
	t := reflect.TypeFor[Req]()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, set := range sets {
		if set == nil {
			continue
		}
		reg.rules[t] = append(reg.rules[t], func(req any) []Failure {
			r, ok := req.(Req)
			if !ok {
				return nil
			}
			return set(r)
		})
	}
}

// Validate runs every rule set for the dynamic type of req. A type without
// rules is valid.
func (reg *Registry) Validate(req any) Result {
	reg.mu.RLock()
	sets := reg.rules[reflect.TypeOf(req)]
	reg.mu.RUnlock()

	var res Result
	for _, set := range sets {
		res.Failures = append(res.Failures, set(req)...)
	}
	return res
}

// Behavior returns the validation slot of a chain. An invalid request never
// reaches the behaviors after it.
func Behavior(reg *Registry) pipeline.Behavior {
	return func(ctx context.Context, info pipeline.RequestInfo, req any, next pipeline.Next) (any, error) {
		if res := reg.Validate(req); !res.Valid() {
			return nil, &FailedError{Request: info.Name, Failures: res.Failures}
		}
		return next(ctx)
	}
}

// Required fails when value is empty or only whitespace.
func Required(field, value string) []Failure {
	if strings.TrimSpace(value) == "" {
		return []Failure{{Field: field, Message: "is required"}}
	}
	return nil
}

// Positive fails when n is not greater than zero.
func Positive[N int | int64 | float64](field string, n N) []Failure {
	if n <= 0 {
		return []Failure{{Field: field, Message: "must be greater than zero"}}
	}
	return nil
}

// MaxLen fails when s has more than n characters.
func MaxLen(field, s string, n int) []Failure {
	if utf8.RuneCountInString(s) > n {
		return []Failure{{Field: field, Message: fmt.Sprintf("must be at most %d characters", n)}}
	}
	return nil
}

// Check fails with message when ok is false.
func Check(ok bool, field, message string) []Failure {
	if ok {
		return nil
	}
	return []Failure{{Field: field, Message: message}}
}

// Join concatenates failure lists.
func Join(lists ...[]Failure) []Failure {
	var out []Failure
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
