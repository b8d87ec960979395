package registry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zero-day-ai/noderegistry/registry"

// instruments are the metrics recorded by a Registry.
type instruments struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
	nodes      metric.Int64ObservableGauge
}

func newInstruments(meter metric.Meter, r *Registry) (*instruments, error) {
	operations, err := meter.Int64Counter(
		"noderegistry.operations",
		metric.WithDescription("Registry operations by name and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"noderegistry.operation.duration",
		metric.WithDescription("Duration of mutating registry operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	nodes, err := meter.Int64ObservableGauge(
		"noderegistry.nodes",
		metric.WithDescription("Number of live node records"),
		metric.WithUnit("{node}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.count()))
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nodes gauge: %w", err)
	}

	return &instruments{
		operations: operations,
		duration:   duration,
		nodes:      nodes,
	}, nil
}

// outcome is the metric label for an operation result.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := KindOf(err); kind != "" {
		return kind
	}
	return "error"
}

// finish closes the span of an operation and records its metrics.
func (r *Registry) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome(err)),
	)
	r.inst.operations.Add(ctx, 1, attrs)
	r.inst.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
