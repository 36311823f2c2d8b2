package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	eventbus "github.com/hanpama/rexq/internal/eventbus"
	events "github.com/hanpama/rexq/internal/events"
	reqid "github.com/hanpama/rexq/internal/reqid"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("rexq")}
	unsubscribe := sub.register()

	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

type linkKey struct {
	rid     int64
	link    string
	batchID uint64
}

type grpcKey struct {
	rid     int64
	service string
	target  string
	attempt int
}

type subscriber struct {
	tracer     trace.Tracer
	httpSpans  sync.Map // rid -> trace.Span
	querySpans sync.Map // rid -> trace.Span
	linkSpans  sync.Map // linkKey -> trace.Span
	grpcSpans  sync.Map // grpcKey -> trace.Span
}

// parent returns ctx carrying the innermost open span of the request.
func (s *subscriber) parent(ctx context.Context, rid int64) context.Context {
	if v, ok := s.querySpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	if v, ok := s.httpSpans.Load(rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func end(m *sync.Map, key any, fn func(trace.Span)) {
	v, ok := m.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	fn(span)
	span.End()
}

func (s *subscriber) register() (unsubscribe func()) {
	var unsubs []func()
	add := func(u func()) { unsubs = append(unsubs, u) }

	add(eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid, span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		end(&s.httpSpans, rid, func(span trace.Span) {
			span.SetAttributes(
				semconv.HTTPStatusCodeKey.Int(e.Status),
				attribute.Int("rexq.query_count", e.Queries),
			)
		})
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.QueryStart) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.httpSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "rexq.query")
		span.SetAttributes(
			attribute.String("rexq.query", e.Query),
			attribute.String("rexq.transport", e.Transport),
			attribute.Int("rexq.variable_count", e.Variables),
		)
		s.querySpans.Store(rid, span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.QueryFinish) {
		rid, _ := reqid.FromContext(ctx)
		end(&s.querySpans, rid, func(span trace.Span) {
			span.SetAttributes(
				attribute.Int("rexq.error_count", len(e.Errors)),
				attribute.Bool("rexq.fallback", e.Fallback),
			)
		})
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.LinkFlushStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx, rid), "rexq.link")
		span.SetAttributes(
			attribute.String("rexq.link", e.Link),
			attribute.Int("rexq.link.fields", e.Fields),
		)
		s.linkSpans.Store(linkKey{rid, e.Link, e.BatchID}, span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.LinkFlushFinish) {
		rid, _ := reqid.FromContext(ctx)
		end(&s.linkSpans, linkKey{rid, e.Link, e.BatchID}, func(span trace.Span) {
			if e.Err != nil {
				span.RecordError(e.Err)
				span.SetStatus(codes.Error, e.Err.Error())
			}
		})
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(s.parent(ctx, rid), "grpc.client")
		span.SetAttributes(
			semconv.RPCServiceKey.String(e.Service),
			semconv.RPCMethodKey.String(e.Method),
			attribute.String("net.peer.name", e.Target),
			attribute.Int("rpc.attempt", e.Attempt),
		)
		s.grpcSpans.Store(grpcKey{rid, e.Service, e.Target, e.Attempt}, span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.GRPCClientFinish) {
		rid, _ := reqid.FromContext(ctx)
		end(&s.grpcSpans, grpcKey{rid, e.Service, e.Target, e.Attempt}, func(span trace.Span) {
			span.SetAttributes(attribute.String("grpc.code", e.Code.String()))
			if e.Err != nil {
				span.RecordError(e.Err)
			}
		})
	}))

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
