// Package instrumentation provides OpenTelemetry tracing and metrics for the
// gateway. When disabled it swaps in no-op providers so instrumented code
// paths carry no overhead.
package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultServiceVersion is used when none is provided.
const DefaultServiceVersion = "dev"

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName identifies the service in telemetry resources.
	ServiceName string

	// ServiceVersion is the running version.
	ServiceVersion string

	// Enabled controls whether instrumentation is active. When false,
	// no-op providers are used.
	Enabled bool

	// Resource allows custom resource attributes. If nil, a default
	// resource with service name and version is created.
	Resource *resource.Resource
}

// Instrumentation holds the telemetry providers and pre-built instruments.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "stravamcp"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
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
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	// No-op providers in both modes; exporters (OTLP, Prometheus) attach
	// through the provider seam without changing callers.
	inst.meterProvider = noop.NewMeterProvider()
	inst.tracerProvider = tracenoop.NewTracerProvider()

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// Shutdown flushes and stops all registered telemetry components.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var firstErr error
	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// Meter returns a meter for the given instrumentation scope.
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(fmt.Sprintf("stravamcp/%s", scope))
}

// Tracer returns a tracer for the given instrumentation scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(fmt.Sprintf("stravamcp/%s", scope))
}

// Metrics returns the pre-built metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider exposes the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider exposes the underlying meter provider.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// RegisterStorageSizeCallbacks registers observable gauges reporting the
// number of live records per collection. Callbacks must be safe to call
// concurrently; stores use atomic counters so collection is lock-free.
func (i *Instrumentation) RegisterStorageSizeCallbacks(
	clientsCount func() int64,
	grantsCount func() int64,
	tokensCount func() int64,
) error {
	meter := i.Meter("storage")

	clientsGauge, err := meter.Int64ObservableGauge(
		"gateway.storage.size.clients",
		metric.WithDescription("Number of registered clients in storage"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create storage.size.clients gauge: %w", err)
	}

	grantsGauge, err := meter.Int64ObservableGauge(
		"gateway.storage.size.grants",
		metric.WithDescription("Number of pending authorization grants in storage"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create storage.size.grants gauge: %w", err)
	}

	tokensGauge, err := meter.Int64ObservableGauge(
		"gateway.storage.size.tokens",
		metric.WithDescription("Number of live token pairs in storage"),
		metric.WithUnit("{token_pair}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create storage.size.tokens gauge: %w", err)
	}

	_, err = meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(clientsGauge, clientsCount())
			o.ObserveInt64(grantsGauge, grantsCount())
			o.ObserveInt64(tokensGauge, tokensCount())
			return nil
		},
		clientsGauge, grantsGauge, tokensGauge,
	)
	if err != nil {
		return fmt.Errorf("failed to register storage size callback: %w", err)
	}

	return nil
}

// RegisterSessionGauge registers an observable gauge for live SSE sessions.
func (i *Instrumentation) RegisterSessionGauge(sessionCount func() int64) error {
	meter := i.Meter("gateway")

	gauge, err := meter.Int64ObservableGauge(
		"gateway.sessions.active",
		metric.WithDescription("Number of live SSE sessions in this process"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create sessions.active gauge: %w", err)
	}

	_, err = meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, sessionCount())
			return nil
		},
		gauge,
	)
	if err != nil {
		return fmt.Errorf("failed to register session gauge callback: %w", err)
	}

	return nil
}
