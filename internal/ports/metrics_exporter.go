package ports

import (
	"context"
	"errors"
	"time"

	"github.com/emiliopalmerini/splitd/internal/domain"
)

// MetricsExporter records decision and ingestion telemetry.
type MetricsExporter interface {
	RecordDecision(ctx context.Context, d DecisionMetrics)
	RecordEvent(ctx context.Context, kind domain.EventKind, dropped bool)
	// Close flushes pending metrics.
	Close(ctx context.Context) error
}

// DecisionMetrics describes a single decide call.
type DecisionMetrics struct {
	ExperimentKey   string
	Enabled         bool
	IsNewAssignment bool
	Reason          domain.Reason
	Duration        time.Duration
}

// FanoutExporter forwards every call to each wrapped exporter.
type FanoutExporter []MetricsExporter

func (f FanoutExporter) RecordDecision(ctx context.Context, d DecisionMetrics) {
	for _, e := range f {
		e.RecordDecision(ctx, d)
	}
}

func (f FanoutExporter) RecordEvent(ctx context.Context, kind domain.EventKind, dropped bool) {
	for _, e := range f {
		e.RecordEvent(ctx, kind, dropped)
	}
}

func (f FanoutExporter) Close(ctx context.Context) error {
	var errs []error
	for _, e := range f {
		if err := e.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
