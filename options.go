package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// config holds the options applied to every dispatch.
type config struct {
	// SpanName is an optional function that sets the span name for a request.
	// If the function is nil, or the returned name is empty, "dispatch <name>" is used.
	SpanName func(info RequestInfo) string

	// Attributes holds the default attributes for each dispatch span.
	Attributes []attribute.KeyValue

	// GetAttributes is an optional function that can extract trace attributes
	// from the context and add them to the span.
	GetAttributes func(ctx context.Context) []attribute.KeyValue
}

// Option configures a Dispatcher.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (o optionFunc) apply(c *config) {
	o(c)
}

// WithSpanName sets a span name getter.
func WithSpanName(fn func(info RequestInfo) string) Option {
	return optionFunc(func(o *config) {
		o.SpanName = fn
	})
}

// WithAttributes sets the default attributes for the dispatch spans.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.Attributes = attrs
	})
}

// WithAttributeGetter extracts additional attributes from the context.
func WithAttributeGetter(fn func(ctx context.Context) []attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.GetAttributes = fn
	})
}
