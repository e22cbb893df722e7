// Package trace abstracts turn-level tracing. A turn opens one span before
// any model call; its viewer URL is persisted on the assistant message so a
// finished answer can be audited later.
package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Handle identifies one started trace.
type Handle struct {
	// ID is the trace identifier, empty when tracing is off.
	ID string
	// URL links to the trace in the configured viewer, empty when no
	// viewer is configured.
	URL string
}

// Tracer starts turn traces. The returned context carries the span; end
// must be called exactly once with the turn's outcome.
type Tracer interface {
	Start(ctx context.Context, name string, metadata map[string]string) (context.Context, Handle, func(error))
}

// OTel is the OpenTelemetry-backed Tracer.
type OTel struct {
	tracer     oteltrace.Tracer
	viewerBase string
}

// NewOTel creates an OTel tracer. viewerBase is the URL prefix trace links
// are built from; empty leaves Handle.URL empty.
func NewOTel(tracer oteltrace.Tracer, viewerBase string) *OTel {
	return &OTel{tracer: tracer, viewerBase: viewerBase}
}

// Start opens a span with the metadata as attributes.
func (t *OTel) Start(ctx context.Context, name string, metadata map[string]string) (context.Context, Handle, func(error)) {
	attrs := make([]attribute.KeyValue, 0, len(metadata))
	for k, v := range metadata {
		attrs = append(attrs, attribute.String(k, v))
	}

	ctx, span := t.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))

	id := span.SpanContext().TraceID().String()
	h := Handle{ID: id}
	if t.viewerBase != "" {
		h.URL = t.viewerBase + "/" + id
	}

	end := func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	return ctx, h, end
}

// Noop is the Tracer used when tracing is not configured.
type Noop struct{}

// Start returns an empty handle and a no-op end.
func (Noop) Start(ctx context.Context, _ string, _ map[string]string) (context.Context, Handle, func(error)) {
	return ctx, Handle{}, func(error) {}
}
