package pipeline

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/terraskye/pipeline"

	// InstrumentationVersion is reported with every span and instrument.
	InstrumentationVersion = "0.1.0"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	AttrRequestType   = attribute.Key("pipeline.request.type")
	AttrRequestKind   = attribute.Key("pipeline.request.kind")
	AttrCorrelationID = attribute.Key("pipeline.correlation.id")

	AttrEventType      = attribute.Key("pipeline.event.type")
	AttrEventCount     = attribute.Key("pipeline.events.count")
	AttrSubscriberName = attribute.Key("pipeline.subscriber.name")

	AttrErrorType = attribute.Key("pipeline.error.type")
	AttrOutcome   = attribute.Key("pipeline.transaction.outcome")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(InstrumentationVersion))

	// Request metrics
	RequestsHandled, _ = meter.Int64Counter(
		"pipeline.requests.handled",
		metric.WithDescription("Total number of requests handled successfully"),
		metric.WithUnit("{request}"),
	)

	RequestsFailed, _ = meter.Int64Counter(
		"pipeline.requests.failed",
		metric.WithDescription("Number of failed requests"),
		metric.WithUnit("{request}"),
	)

	RequestsInFlight, _ = meter.Int64UpDownCounter(
		"pipeline.requests.in_flight",
		metric.WithDescription("Number of requests currently being dispatched"),
		metric.WithUnit("{request}"),
	)

	RequestsDuration, _ = meter.Float64Histogram(
		"pipeline.requests.duration",
		metric.WithDescription("Request dispatch duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	// Transaction metrics
	Transactions, _ = meter.Int64Counter(
		"pipeline.transactions",
		metric.WithDescription("Number of finished transactions by outcome"),
		metric.WithUnit("{transaction}"),
	)

	// Event metrics
	EventsPublished, _ = meter.Int64Counter(
		"pipeline.events.published",
		metric.WithDescription("Number of domain events published after commit"),
		metric.WithUnit("{event}"),
	)

	EventsDiscarded, _ = meter.Int64Counter(
		"pipeline.events.discarded",
		metric.WithDescription("Number of domain events discarded on rollback"),
		metric.WithUnit("{event}"),
	)

	SubscriberFailures, _ = meter.Int64Counter(
		"pipeline.subscriber.failures",
		metric.WithDescription("Number of failed subscriber deliveries"),
		metric.WithUnit("{error}"),
	)
)
