package cache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/agentuity/go-dcache/cache"

const (
	attrCacheID  = attribute.Key("cache.id")
	attrBackend  = attribute.Key("cache.backend")
	attrFallback = attribute.Key("cache.fallback")
	attrResult   = attribute.Key("cache.result")
)

func defaultTracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(tracerName)
}

func (c *core) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "dcache."+op, trace.WithAttributes(
		attrCacheID.String(c.cfg.ID),
		attrBackend.String(c.cfg.Kind.String()),
	))
}

func recordSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
