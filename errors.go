package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoHandlerRegistered is returned by Send and Dispatch when no handler
	// was registered for the concrete request type.
	ErrNoHandlerRegistered = errors.New("no handler registered")

	// ErrDuplicateHandler is matched by DuplicateHandlerRegistrationError.
	ErrDuplicateHandler = errors.New("duplicate handler registration")

	ErrNilHandler          = errors.New("handler is nil")
	ErrAbstractRequestType = errors.New("request type must be concrete")
	ErrRegistrySealed      = errors.New("registry is sealed")
	ErrResultTypeMismatch  = errors.New("result type mismatch")
	ErrHandlerPanic        = errors.New("panic in handler")

	// ErrDomainRuleViolation is matched by DomainRuleViolationError.
	ErrDomainRuleViolation = errors.New("domain rule violation")

	// ErrPersistenceConflict is matched by PersistenceConflictError.
	ErrPersistenceConflict = errors.New("persistence conflict")
)

// DuplicateHandlerRegistrationError is returned at registration time when a
// handler already exists for the request type.
type DuplicateHandlerRegistrationError struct {
	RequestType string
}

func (e *DuplicateHandlerRegistrationError) Error() string {
	return fmt.Sprintf("handler already registered for request type %s", e.RequestType)
}

func (e *DuplicateHandlerRegistrationError) Is(target error) bool {
	return target == ErrDuplicateHandler
}

func (e *DuplicateHandlerRegistrationError) ErrorType() string { return "duplicate_handler" }

// DomainRuleViolationError is returned by handlers that reject a state
// transition. Current and Attempted describe the transition that was refused.
type DomainRuleViolationError struct {
	Entity    string
	ID        string
	Current   string
	Attempted string
	Reason    string
}

func (e *DomainRuleViolationError) Error() string {
	msg := fmt.Sprintf("%s %q: cannot move from %s to %s", e.Entity, e.ID, e.Current, e.Attempted)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *DomainRuleViolationError) Is(target error) bool {
	return target == ErrDomainRuleViolation
}

func (e *DomainRuleViolationError) ErrorType() string { return "domain_rule_violation" }

// PersistenceConflictError reports a concurrency token mismatch. The pipeline
// never retries it.
type PersistenceConflictError struct {
	Collection string
	ID         string
	Expected   uint64
	Actual     uint64
}

func (e *PersistenceConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s %q: (expected version %d, actual %d)",
		e.Collection, e.ID, e.Expected, e.Actual)
}

func (e *PersistenceConflictError) Is(target error) bool {
	return target == ErrPersistenceConflict
}

func (e *PersistenceConflictError) ErrorType() string { return "persistence_conflict" }

// ErrorType classifies err for logs and metrics. Errors may report their own
// class by implementing ErrorType() string.
func ErrorType(err error) string {
	var typed interface{ ErrorType() string }
	switch {
	case err == nil:
		return ""
	case errors.As(err, &typed):
		return typed.ErrorType()
	case errors.Is(err, ErrNoHandlerRegistered):
		return "no_handler"
	case errors.Is(err, ErrHandlerPanic):
		return "panic"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "handler_error"
	}
}
