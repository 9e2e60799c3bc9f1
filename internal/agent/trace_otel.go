package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// OTelTracer adapts the fire-and-forget Tracer contract onto OpenTelemetry
// spans: each trace event becomes a zero-duration span annotated with the
// event payload and run id, parented to whatever span ctx carries.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer wraps an OpenTelemetry tracer.
func NewOTelTracer(tracer trace.Tracer) *OTelTracer {
	return &OTelTracer{tracer: tracer}
}

// Trace records one event as a span.
func (t *OTelTracer) Trace(ctx context.Context, event models.TraceEvent) {
	_, span := t.tracer.Start(ctx, string(event.Type), trace.WithTimestamp(event.Time))
	defer span.End(trace.WithTimestamp(event.Time))

	attrs := []attribute.KeyValue{
		attribute.String("run.id", event.RunID),
		attribute.Int64("sequence", int64(event.Sequence)),
	}
	for k, v := range event.Data {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	span.SetAttributes(attrs...)
}

// MultiTracer fans one event out to several tracers.
type MultiTracer []Tracer

// Trace implements Tracer.
func (m MultiTracer) Trace(ctx context.Context, event models.TraceEvent) {
	for _, t := range m {
		t.Trace(ctx, event)
	}
}
