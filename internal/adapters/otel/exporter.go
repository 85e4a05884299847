package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/ports"
)

const (
	serviceName    = "splitd"
	serviceVersion = "1.0.0"
)

// Exporter exports decision and ingestion metrics to an OTEL Collector.
type Exporter struct {
	provider    *sdkmetric.MeterProvider
	instruments instruments
}

type instruments struct {
	decisionsTotal metric.Int64Counter
	assignments    metric.Int64Counter
	latency        metric.Float64Histogram
	eventsTotal    metric.Int64Counter
}

// NewExporter creates a new OTEL metrics exporter.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTEL exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	inst, err := newInstruments(provider.Meter(serviceName))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	return &Exporter{provider: provider, instruments: inst}, nil
}

func newInstruments(meter metric.Meter) (instruments, error) {
	var (
		inst instruments
		err  error
	)

	inst.decisionsTotal, err = meter.Int64Counter(
		"splitd_decisions_total",
		metric.WithDescription("Decisions served, by experiment, outcome and reason"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return inst, fmt.Errorf("creating decisions counter: %w", err)
	}

	inst.assignments, err = meter.Int64Counter(
		"splitd_assignments_created_total",
		metric.WithDescription("New visitor assignments persisted"),
		metric.WithUnit("{assignment}"),
	)
	if err != nil {
		return inst, fmt.Errorf("creating assignments counter: %w", err)
	}

	inst.latency, err = meter.Float64Histogram(
		"splitd_decision_duration_seconds",
		metric.WithDescription("Decision latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return inst, fmt.Errorf("creating latency histogram: %w", err)
	}

	inst.eventsTotal, err = meter.Int64Counter(
		"splitd_events_total",
		metric.WithDescription("Exposure and conversion events, by kind and whether they were dropped"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return inst, fmt.Errorf("creating events counter: %w", err)
	}

	return inst, nil
}

// RecordDecision records one decide call.
func (e *Exporter) RecordDecision(ctx context.Context, d ports.DecisionMetrics) {
	e.instruments.recordDecision(ctx, d)
}

// RecordEvent records an accepted or dropped ledger event.
func (e *Exporter) RecordEvent(ctx context.Context, kind domain.EventKind, dropped bool) {
	e.instruments.recordEvent(ctx, kind, dropped)
}

// Close shuts down the exporter and flushes any pending metrics.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

func (i instruments) recordDecision(ctx context.Context, d ports.DecisionMetrics) {
	opt := metric.WithAttributes(
		attribute.String("experiment_key", d.ExperimentKey),
		attribute.Bool("enabled", d.Enabled),
		attribute.String("reason", string(d.Reason)),
	)
	i.decisionsTotal.Add(ctx, 1, opt)
	i.latency.Record(ctx, d.Duration.Seconds(), metric.WithAttributes(attribute.String("experiment_key", d.ExperimentKey)))
	if d.IsNewAssignment {
		i.assignments.Add(ctx, 1, metric.WithAttributes(attribute.String("experiment_key", d.ExperimentKey)))
	}
}

func (i instruments) recordEvent(ctx context.Context, kind domain.EventKind, dropped bool) {
	i.eventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.Bool("dropped", dropped),
	))
}
