package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	stageCounter  otelmetric.Int64Counter
	stageDuration otelmetric.Float64Histogram
	agentCounter  otelmetric.Int64Counter
	agentDuration otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	stageCounter, _ := meter.Int64Counter(
		"stage.messages",
		otelmetric.WithDescription("Number of messages processed per stage"),
	)

	stageDuration, _ := meter.Float64Histogram(
		"stage.duration",
		otelmetric.WithDescription("Stage processing duration"),
		otelmetric.WithUnit("ms"),
	)

	agentCounter, _ := meter.Int64Counter(
		"agent.calls",
		otelmetric.WithDescription("Number of agent invocations"),
	)

	agentDuration, _ := meter.Float64Histogram(
		"agent.duration",
		otelmetric.WithDescription("Agent invocation duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		stageCounter:  stageCounter,
		stageDuration: stageDuration,
		agentCounter:  agentCounter,
		agentDuration: agentDuration,
	}
}

// RecordStageProcessed counts a settled message and its duration.
func (o *Observability) RecordStageProcessed(ctx context.Context, stage, status string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	)
	if o.stageCounter != nil {
		o.stageCounter.Add(ctx, 1, attrs)
	}
	if o.stageDuration != nil {
		o.stageDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

// RecordAgentCall counts one agent invocation attempt.
func (o *Observability) RecordAgentCall(ctx context.Context, agent, status string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("status", status),
	)
	if o.agentCounter != nil {
		o.agentCounter.Add(ctx, 1, attrs)
	}
	if o.agentDuration != nil {
		o.agentDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown() {
	if o != nil && o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
