package pipeline

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const (
	requestInfoKey   ctxKey = "requestInfo"
	correlationIDKey ctxKey = "correlationID"
)

// WithCorrelationID attaches a correlation id to ctx. Dispatch keeps an
// existing id so that follow-up requests share the caller's id.
func WithCorrelationID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation id or uuid.Nil if not present
func CorrelationIDFromContext(ctx context.Context) uuid.UUID {
	if v := ctx.Value(correlationIDKey); v != nil {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

func withRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

// RequestInfoFromContext returns the RequestInfo of the request currently
// being dispatched.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey).(RequestInfo)
	return info, ok
}
