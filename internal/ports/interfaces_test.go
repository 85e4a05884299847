package ports_test

import (
	"testing"

	"github.com/emiliopalmerini/splitd/internal/adapters/memory"
	"github.com/emiliopalmerini/splitd/internal/adapters/otel"
	"github.com/emiliopalmerini/splitd/internal/adapters/prometheus"
	"github.com/emiliopalmerini/splitd/internal/adapters/redis"
	"github.com/emiliopalmerini/splitd/internal/adapters/turso"
	"github.com/emiliopalmerini/splitd/internal/ports"
)

// Compile-time interface conformance checks.
// These verify that concrete adapters properly implement their port interfaces.

func TestExperimentRepositoryConformance(t *testing.T) {
	var _ ports.ExperimentRepository = (*turso.ExperimentRepository)(nil)
	var _ ports.ExperimentRepository = (*memory.ExperimentRepository)(nil)
}

func TestAssignmentRepositoryConformance(t *testing.T) {
	var _ ports.AssignmentRepository = (*turso.AssignmentRepository)(nil)
	var _ ports.AssignmentRepository = (*redis.AssignmentRepository)(nil)
	var _ ports.AssignmentRepository = (*memory.AssignmentRepository)(nil)
}

func TestEventLedgerConformance(t *testing.T) {
	var _ ports.EventLedger = (*turso.EventLedger)(nil)
	var _ ports.EventLedger = (*redis.EventLedger)(nil)
	var _ ports.EventLedger = (*memory.EventLedger)(nil)
}

func TestMetricsExporterConformance(t *testing.T) {
	var _ ports.MetricsExporter = (*otel.Exporter)(nil)
	var _ ports.MetricsExporter = (*otel.NoOpExporter)(nil)
	var _ ports.MetricsExporter = (*prometheus.Recorder)(nil)
	var _ ports.MetricsExporter = ports.FanoutExporter(nil)
}
