package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// route is the resolved handler and behavior list for one request type.
type route struct {
	info      RequestInfo
	behaviors []Behavior
	handle    func(ctx context.Context, req any) (any, error)
}

// Dispatcher resolves exactly one handler per request type and invokes it
// through the behaviors configured on its Chain.
//
// The routes are resolved once in NewDispatcher. A Dispatcher holds no
// per-call state and is safe for concurrent use.
type Dispatcher struct {
	routes []route
	byType map[reflect.Type]int
	cfg    config
}

// NewDispatcher seals reg and resolves the behaviors of every registered
// request type. A nil chain dispatches straight to the handlers.
//
// Example:
//
//	reg := pipeline.NewRegistry()
//	pipeline.MustRegister(reg, pipeline.KindCommand, placeOrder)
//
//	chain := pipeline.NewChain().
//	    Validation(validation.Behavior(rules)).
//	    Logging(logging.Behavior(log)).
//	    Transaction(coordinator.Behavior())
//
//	d := pipeline.NewDispatcher(reg, chain)
func NewDispatcher(reg *Registry, chain *Chain, opts ...Option) *Dispatcher {
	entries := reg.seal()

	d := &Dispatcher{
		routes: make([]route, len(entries)),
		byType: make(map[reflect.Type]int, len(entries)),
	}
	for _, o := range opts {
		o.apply(&d.cfg)
	}

	for _, e := range entries {
		d.routes[e.info.Key] = route{
			info:      e.info,
			behaviors: chain.behaviorsFor(e.settings),
			handle:    e.handle,
		}
		d.byType[e.info.RequestType] = e.info.Key
	}
	return d
}

// Send dispatches req and returns its typed result. Res must match the result
// type the handler was registered with.
//
// Example:
//
//	page, err := pipeline.Send[paging.Page[Order]](ctx, d, ListOrders{Page: 1, PageSize: 20})
func Send[Res any, Req any](ctx context.Context, d *Dispatcher, req Req) (Res, error) {
	var zero Res

	r, err := d.resolve(req)
	if err != nil {
		return zero, err
	}
	if want := reflect.TypeFor[Res](); r.info.ResultType != want {
		return zero, fmt.Errorf("send %s: registered result %s, requested %s: %w",
			r.info.Name, r.info.ResultType, want, ErrResultTypeMismatch)
	}

	out, err := d.dispatch(ctx, r, req)
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	res, ok := out.(Res)
	if !ok {
		return zero, fmt.Errorf("send %s: handler returned %T: %w", r.info.Name, out, ErrResultTypeMismatch)
	}
	return res, nil
}

// Dispatch is the untyped form of Send.
func (d *Dispatcher) Dispatch(ctx context.Context, req any) (any, error) {
	r, err := d.resolve(req)
	if err != nil {
		return nil, err
	}
	return d.dispatch(ctx, r, req)
}

// Lookup returns the RequestInfo registered for the dynamic type of req.
func (d *Dispatcher) Lookup(req any) (RequestInfo, bool) {
	r, err := d.resolve(req)
	if err != nil {
		return RequestInfo{}, false
	}
	return r.info, true
}

func (d *Dispatcher) resolve(req any) (*route, error) {
	t := reflect.TypeOf(req)
	key, ok := d.byType[t]
	if !ok {
		return nil, fmt.Errorf("dispatch %v: %w", t, ErrNoHandlerRegistered)
	}
	return &d.routes[key], nil
}

func (d *Dispatcher) dispatch(ctx context.Context, r *route, req any) (any, error) {
	if CorrelationIDFromContext(ctx) == uuid.Nil {
		ctx = WithCorrelationID(ctx, uuid.New())
	}
	ctx = withRequestInfo(ctx, r.info)

	attrs := []attribute.KeyValue{
		AttrRequestType.String(r.info.Name),
		AttrRequestKind.String(r.info.Kind.String()),
	}
	spanAttrs := append(append([]attribute.KeyValue{}, attrs...), d.cfg.Attributes...)
	spanAttrs = append(spanAttrs, AttrCorrelationID.String(CorrelationIDFromContext(ctx).String()))
	if d.cfg.GetAttributes != nil {
		spanAttrs = append(spanAttrs, d.cfg.GetAttributes(ctx)...)
	}

	ctx, span := tracer.Start(ctx, d.spanName(r.info),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(spanAttrs...),
	)
	defer span.End()

	RequestsInFlight.Add(ctx, 1, metric.WithAttributes(attrs...))
	defer RequestsInFlight.Add(ctx, -1, metric.WithAttributes(attrs...))

	start := time.Now()
	res, err := r.step(ctx, req, 0)
	RequestsDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		errType := ErrorType(err)
		RequestsFailed.Add(ctx, 1, metric.WithAttributes(append(attrs, AttrErrorType.String(errType))...))
		span.SetAttributes(AttrErrorType.String(errType))
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}

	RequestsHandled.Add(ctx, 1, metric.WithAttributes(attrs...))
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (d *Dispatcher) spanName(info RequestInfo) string {
	if d.cfg.SpanName != nil {
		if name := d.cfg.SpanName(info); name != "" {
			return name
		}
	}
	return "dispatch " + info.Name
}

// step runs behavior i, or the handler once every behavior has been entered.
// Cancellation is observed before each step.
func (r *route) step(ctx context.Context, req any, i int) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i == len(r.behaviors) {
		return r.invoke(ctx, req)
	}
	return r.behaviors[i](ctx, r.info, req, func(ctx context.Context) (any, error) {
		return r.step(ctx, req, i+1)
	})
}

func (r *route) invoke(ctx context.Context, req any) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("%s: %w: %v", r.info.Name, ErrHandlerPanic, p)
		}
	}()
	return r.handle(ctx, req)
}
