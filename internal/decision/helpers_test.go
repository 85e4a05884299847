package decision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emiliopalmerini/splitd/internal/adapters/memory"
	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/logging"
	"github.com/emiliopalmerini/splitd/internal/ports"
	"github.com/emiliopalmerini/splitd/internal/registry"
	"github.com/emiliopalmerini/splitd/internal/resolver"
	"github.com/emiliopalmerini/splitd/internal/stats"
)

// recordingMetrics captures every call for assertions.
type recordingMetrics struct {
	mu        sync.Mutex
	decisions []ports.DecisionMetrics
	accepted  int
	dropped   int
}

func (m *recordingMetrics) RecordDecision(ctx context.Context, d ports.DecisionMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
}

func (m *recordingMetrics) RecordEvent(ctx context.Context, kind domain.EventKind, dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dropped {
		m.dropped++
	} else {
		m.accepted++
	}
}

func (m *recordingMetrics) Close(ctx context.Context) error { return nil }

func (m *recordingMetrics) snapshot() ([]ports.DecisionMetrics, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.DecisionMetrics(nil), m.decisions...), m.accepted, m.dropped
}

// stubExperiments lets a test control what the registry returns.
type stubExperiments struct {
	CachedFunc func(ctx context.Context, idOrKey string) (*domain.Experiment, error)
	GetFunc    func(ctx context.Context, idOrKey string) (*domain.Experiment, error)
}

func (s *stubExperiments) Cached(ctx context.Context, idOrKey string) (*domain.Experiment, error) {
	return s.CachedFunc(ctx, idOrKey)
}

func (s *stubExperiments) Get(ctx context.Context, idOrKey string) (*domain.Experiment, error) {
	if s.GetFunc != nil {
		return s.GetFunc(ctx, idOrKey)
	}
	return s.CachedFunc(ctx, idOrKey)
}

type fixture struct {
	service  *Service
	registry *registry.Registry
	store    *memory.Store
	ingestor *Ingestor
	metrics  *recordingMetrics

	cancel context.CancelFunc
	done   chan struct{}
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		metrics: &recordingMetrics{},
	}
	logger := logging.Discard()
	f.registry = registry.New(f.store.Experiments, logger, registry.Options{})
	f.ingestor = NewIngestor(f.store.Events, f.metrics, logger, IngestorOptions{Buffer: 4096, Workers: 2})
	f.service = NewService(f.registry, resolver.New(f.store.Assignments, logger), f.store.Events,
		f.ingestor, f.metrics, logger, opts)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	go func() {
		defer close(f.done)
		_ = f.ingestor.Run(ctx)
	}()
	t.Cleanup(f.flush)
	return f
}

// flush stops the ingestor and waits until the buffer is drained.
func (f *fixture) flush() {
	f.cancel()
	<-f.done
}

func (f *fixture) runningExperiment(t *testing.T, key string, shares ...float64) *domain.Experiment {
	t.Helper()
	ctx := context.Background()
	exp, err := f.registry.CreateExperiment(ctx, registryInput(key))
	if err != nil {
		t.Fatalf("CreateExperiment failed: %v", err)
	}
	for i, share := range shares {
		_, err := f.registry.AddVariant(ctx, exp.ID, registry.AddVariantInput{
			Key:               string(rune('a' + i)),
			Name:              string(rune('A' + i)),
			TrafficPercentage: share,
			IsControl:         i == 0,
		})
		if err != nil {
			t.Fatalf("AddVariant failed: %v", err)
		}
	}
	exp, err = f.registry.Start(ctx, exp.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return exp
}

func registryInput(key string) registry.CreateExperimentInput {
	return registry.CreateExperimentInput{Key: key, Name: key, TrafficAllocation: 100}
}

func defaultOptions() Options {
	return Options{Timeout: time.Second, RecordExposures: true, Stats: stats.DefaultOptions()}
}
