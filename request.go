package pipeline

import (
	"context"
	"reflect"
)

// Kind separates requests that mutate state from requests that only read it.
type Kind int

const (
	KindCommand Kind = iota + 1
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Empty is the result type of commands that return nothing.
type Empty = struct{}

// Handler handles exactly one request type Req and produces Res.
//
// Handlers own no state between calls. They may raise domain events through
// the unit of work carried by ctx and read or write through the ambient
// transaction.
//
// Example Usage:
//
//	type PlaceOrderHandler struct{ orders *store.Repository[Order] }
//
//	func (h PlaceOrderHandler) Handle(ctx context.Context, cmd PlaceOrder) (pipeline.Empty, error) {
//	    ...
//	}
type Handler[Req any, Res any] interface {
	Handle(ctx context.Context, req Req) (Res, error)
}

// HandlerFunc allows ordinary functions to be used as a Handler.
type HandlerFunc[Req any, Res any] func(ctx context.Context, req Req) (Res, error)

// Handle calls f(ctx, req).
func (f HandlerFunc[Req, Res]) Handle(ctx context.Context, req Req) (Res, error) {
	return f(ctx, req)
}

// RequestInfo describes a registered request type. It is handed to every
// behavior and is available from the dispatch context.
type RequestInfo struct {
	// Key is the stable index assigned at registration time.
	Key         int
	Name        string
	Kind        Kind
	RequestType reflect.Type
	ResultType  reflect.Type
}
