package registry

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/noderegistry/query"
	"github.com/zero-day-ai/noderegistry/store"
)

// Option configures a Registry.
type Option func(*options)

// options holds configuration for a Registry instance.
type options struct {
	logger       *slog.Logger
	tracer       trace.Tracer
	meter        metric.Meter
	store        store.Store
	compiler     *query.Compiler
	detectCycles bool
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer used for operation spans.
// Defaults to the global tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithMeter sets the OpenTelemetry meter used for registry metrics.
// Defaults to the global meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithStore attaches a persistence store. Without one the reload and
// commit hooks are no-ops and state lives only in memory.
func WithStore(s store.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithQueryCompiler shares a selector compiler (and its cache) between
// registries. A private compiler is created otherwise.
func WithQueryCompiler(c *query.Compiler) Option {
	return func(o *options) {
		o.compiler = c
	}
}

// WithCycleDetection makes SetParent reject assignments that would close
// a cycle of any length, a node naming itself as parent included.
func WithCycleDetection(enabled bool) Option {
	return func(o *options) {
		o.detectCycles = enabled
	}
}
