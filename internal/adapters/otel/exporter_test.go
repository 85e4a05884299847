package otel

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/ports"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sum(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected int64 sum, got %T", data)
	}
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	inst, err := newInstruments(provider.Meter("test"))
	if err != nil {
		t.Fatalf("newInstruments failed: %v", err)
	}

	ctx := context.Background()
	inst.recordDecision(ctx, ports.DecisionMetrics{ExperimentKey: "checkout", Enabled: true, IsNewAssignment: true, Duration: 2 * time.Millisecond})
	inst.recordDecision(ctx, ports.DecisionMetrics{ExperimentKey: "checkout", Enabled: true, Duration: time.Millisecond})
	inst.recordDecision(ctx, ports.DecisionMetrics{ExperimentKey: "checkout", Reason: domain.ReasonNotInTraffic, Duration: time.Millisecond})
	inst.recordEvent(ctx, domain.EventExposure, false)
	inst.recordEvent(ctx, domain.EventConversion, true)

	metrics := collect(t, reader)

	if got := sum(t, metrics["splitd_decisions_total"]); got != 3 {
		t.Errorf("expected 3 decisions, got %d", got)
	}
	if got := sum(t, metrics["splitd_assignments_created_total"]); got != 1 {
		t.Errorf("expected 1 new assignment, got %d", got)
	}
	if got := sum(t, metrics["splitd_events_total"]); got != 2 {
		t.Errorf("expected 2 events, got %d", got)
	}

	hist, ok := metrics["splitd_decision_duration_seconds"].(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected float64 histogram, got %T", metrics["splitd_decision_duration_seconds"])
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("expected 3 latency samples, got %d", count)
	}
}

func TestNewExporter_Disabled(t *testing.T) {
	if _, err := NewExporter(context.Background(), Config{Enabled: false, Endpoint: "localhost:4317"}); err == nil {
		t.Error("expected error when disabled")
	}
	if _, err := NewExporter(context.Background(), Config{Enabled: true}); err == nil {
		t.Error("expected error without endpoint")
	}
}

func TestNoOpExporter(t *testing.T) {
	e := NewNoOpExporter()
	e.RecordDecision(context.Background(), ports.DecisionMetrics{})
	e.RecordEvent(context.Background(), domain.EventExposure, false)
	if err := e.Close(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
