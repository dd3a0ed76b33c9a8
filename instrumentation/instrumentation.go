// Package instrumentation provides OpenTelemetry instrumentation for the
// sign in flows and token lifecycle operations of this module. It is
// optional: a Manager built without it records nothing and pays next to
// nothing.
//
// The package only wires instruments to providers. Bring your own
// configured metric.MeterProvider and trace.TracerProvider (Prometheus,
// OTLP, stdout, ...); when none are given, no-op providers are used.
package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// scopePrefix namespaces meter and tracer scopes for this module.
const scopePrefix = "github.com/keyhaven/chainauth/"

// DefaultServiceName is used when the Config carries none.
const DefaultServiceName = "chainauth"

// Config holds the instrumentation configuration.
type Config struct {
	// ServiceName names the service in the telemetry resource.
	ServiceName string

	// ServiceVersion is the service's version, when known.
	ServiceVersion string

	// Enabled controls whether telemetry is recorded at all. When false
	// the providers below are ignored and no-op providers are used.
	Enabled bool

	// MeterProvider receives this module's metrics. No-op when nil.
	MeterProvider metric.MeterProvider

	// TracerProvider receives this module's spans. No-op when nil.
	TracerProvider trace.TracerProvider

	// Resource optionally overrides the default resource, which carries
	// just the service name and version.
	Resource *resource.Resource
}

// Instrumentation hands out this module's meters, tracers and
// pre-registered metric instruments.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates an Instrumentation from the config.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("unable to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}
	switch {
	case !config.Enabled:
		inst.meterProvider = metricnoop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	default:
		inst.meterProvider = config.MeterProvider
		if inst.meterProvider == nil {
			inst.meterProvider = metricnoop.NewMeterProvider()
		}
		inst.tracerProvider = config.TracerProvider
		if inst.tracerProvider == nil {
			inst.tracerProvider = tracenoop.NewTracerProvider()
		}
	}

	var err error
	inst.metrics, err = NewMetrics(inst.Meter("oidc"))
	if err != nil {
		return nil, fmt.Errorf("unable to create metrics: %w", err)
	}
	return inst, nil
}

// Meter returns a meter for the given scope, typically a package name like
// "oidc" or "storage".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the pre-registered metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// MeterProvider returns the underlying meter provider.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// TracerProvider returns the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// OnShutdown registers fn to run during Shutdown, for callers that tie
// exporter lifetimes to this Instrumentation. Not safe to call
// concurrently with Shutdown.
func (i *Instrumentation) OnShutdown(fn func(context.Context) error) {
	i.shutdownFuncs = append(i.shutdownFuncs, fn)
}

// Shutdown runs the registered shutdown functions once and reports the
// first error.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})
	return shutdownErr
}
