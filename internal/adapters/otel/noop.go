package otel

import (
	"context"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/ports"
)

// NoOpExporter is a metrics exporter that does nothing.
type NoOpExporter struct{}

// NewNoOpExporter creates a new no-op exporter for graceful degradation.
func NewNoOpExporter() *NoOpExporter {
	return &NoOpExporter{}
}

func (e *NoOpExporter) RecordDecision(ctx context.Context, d ports.DecisionMetrics) {}

func (e *NoOpExporter) RecordEvent(ctx context.Context, kind domain.EventKind, dropped bool) {}

func (e *NoOpExporter) Close(ctx context.Context) error {
	return nil
}
