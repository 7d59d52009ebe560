package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"

	"service-notifications/internal/common/logger"
)

// Observability records dispatch outcomes through the OpenTelemetry meter.
// Its Prometheus exporter shares the default registry served on /metrics.
type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	tasks         otelmetric.Int64Counter
	taskDuration  otelmetric.Float64Histogram
	outcomes      otelmetric.Int64Counter
}

func New(serviceName string, log logger.Logger) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Warn("Failed to create Prometheus exporter", map[string]interface{}{"error": err.Error()})
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	tasks, _ := meter.Int64Counter(
		"dispatch.tasks.processed",
		otelmetric.WithDescription("Number of queued dispatch tasks processed"),
	)

	taskDuration, _ := meter.Float64Histogram(
		"dispatch.tasks.duration",
		otelmetric.WithDescription("Dispatch task processing duration"),
		otelmetric.WithUnit("ms"),
	)

	outcomes, _ := meter.Int64Counter(
		"notifications.outcomes",
		otelmetric.WithDescription("Dispatch attempt outcomes by channel"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		tasks:         tasks,
		taskDuration:  taskDuration,
		outcomes:      outcomes,
	}
}

// NewNoop returns an Observability that drops every measurement.
func NewNoop() *Observability {
	return &Observability{}
}

func (o *Observability) RecordTaskProcessed(ctx context.Context, status string) {
	if o != nil && o.tasks != nil {
		o.tasks.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordTaskDuration(ctx context.Context, duration time.Duration, status string) {
	if o != nil && o.taskDuration != nil {
		o.taskDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordOutcome(ctx context.Context, channel, status string) {
	if o != nil && o.outcomes != nil {
		o.outcomes.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) Shutdown() {
	if o != nil && o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.meterProvider.Shutdown(ctx)
	}
}
