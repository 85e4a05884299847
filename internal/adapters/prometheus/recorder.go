// Package prometheus exposes decision and ingestion metrics for scraping.
package prometheus

import (
	"context"
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/ports"
)

// Recorder keeps its own registry so tests and multiple servers in one
// process do not collide on the global one.
type Recorder struct {
	registry  *prom.Registry
	decisions *prom.CounterVec
	assigned  *prom.CounterVec
	latency   *prom.HistogramVec
	events    *prom.CounterVec
}

func NewRecorder() *Recorder {
	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		decisions: factory.NewCounterVec(prom.CounterOpts{
			Namespace: "splitd",
			Name:      "decisions_total",
			Help:      "Decisions served, by experiment, outcome and reason.",
		}, []string{"experiment_key", "enabled", "reason"}),
		assigned: factory.NewCounterVec(prom.CounterOpts{
			Namespace: "splitd",
			Name:      "assignments_created_total",
			Help:      "New visitor assignments persisted.",
		}, []string{"experiment_key"}),
		latency: factory.NewHistogramVec(prom.HistogramOpts{
			Namespace: "splitd",
			Name:      "decision_duration_seconds",
			Help:      "Decision latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"experiment_key"}),
		events: factory.NewCounterVec(prom.CounterOpts{
			Namespace: "splitd",
			Name:      "events_total",
			Help:      "Exposure and conversion events, by kind and whether they were dropped.",
		}, []string{"kind", "dropped"}),
	}
}

func (r *Recorder) RecordDecision(ctx context.Context, d ports.DecisionMetrics) {
	r.decisions.WithLabelValues(d.ExperimentKey, strconv.FormatBool(d.Enabled), string(d.Reason)).Inc()
	r.latency.WithLabelValues(d.ExperimentKey).Observe(d.Duration.Seconds())
	if d.IsNewAssignment {
		r.assigned.WithLabelValues(d.ExperimentKey).Inc()
	}
}

func (r *Recorder) RecordEvent(ctx context.Context, kind domain.EventKind, dropped bool) {
	r.events.WithLabelValues(string(kind), strconv.FormatBool(dropped)).Inc()
}

// Close is a no-op; scrapes pull the current values.
func (r *Recorder) Close(ctx context.Context) error {
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
