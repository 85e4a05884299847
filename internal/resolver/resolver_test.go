package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/emiliopalmerini/splitd/internal/adapters/memory"
	"github.com/emiliopalmerini/splitd/internal/domain"
)

// mockAssignments lets tests script the store's answers.
type mockAssignments struct {
	GetFunc    func(ctx context.Context, experimentID, visitorID string) (*domain.Assignment, error)
	CreateFunc func(ctx context.Context, assignment *domain.Assignment) error
}

func (m *mockAssignments) Get(ctx context.Context, experimentID, visitorID string) (*domain.Assignment, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, experimentID, visitorID)
	}
	return nil, nil
}

func (m *mockAssignments) Create(ctx context.Context, assignment *domain.Assignment) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, assignment)
	}
	return nil
}

func runningExperiment(traffic float64, variants ...domain.Variant) *domain.Experiment {
	for i := range variants {
		variants[i].ExperimentID = "exp-1"
		variants[i].Position = i
		if variants[i].ID == "" {
			variants[i].ID = "var-" + variants[i].Key
		}
	}
	return &domain.Experiment{
		ID:                "exp-1",
		Key:               "checkout-button",
		Status:            domain.StatusRunning,
		TrafficAllocation: traffic,
		Variants:          variants,
	}
}

func v(key string, pct float64) domain.Variant {
	return domain.Variant{Key: key, Name: key, TrafficPercentage: pct}
}

func TestDecide_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAssignmentRepository()
	r := New(store, nil)
	exp := runningExperiment(100, v("control", 50), v("treatment", 50))

	for i := 0; i < 200; i++ {
		visitor := fmt.Sprintf("visitor-%d", i)
		first, err := r.Decide(ctx, exp, Request{VisitorID: visitor})
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if !first.Enabled || !first.IsNewAssignment {
			t.Fatalf("expected a new enabled assignment, got %+v", first)
		}
		for j := 0; j < 3; j++ {
			again, err := r.Decide(ctx, exp, Request{VisitorID: visitor})
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if again.Variant.ID != first.Variant.ID {
				t.Fatalf("visitor %s moved from %s to %s", visitor, first.Variant.ID, again.Variant.ID)
			}
			if again.IsNewAssignment {
				t.Fatalf("repeat decision reported a new assignment")
			}
		}
	}
}

func TestDecide_ExistingAssignmentWins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAssignmentRepository()
	exp := runningExperiment(100, v("a", 100), v("b", 0))

	// Pre-seed a visitor onto b even though bucketing would always pick a.
	_ = store.Create(ctx, &domain.Assignment{ExperimentID: exp.ID, VisitorID: "v1", VariantID: "var-b"})

	d, err := New(store, nil).Decide(ctx, exp, Request{VisitorID: "v1"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.Variant.Key != "b" {
		t.Errorf("expected stored variant b, got %s", d.Variant.Key)
	}
}

func TestDecide_Gates(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		exp        *domain.Experiment
		wantReason domain.Reason
	}{
		{
			name: "draft",
			exp: func() *domain.Experiment {
				e := runningExperiment(100, v("a", 100))
				e.Status = domain.StatusDraft
				return e
			}(),
			wantReason: domain.ReasonNotRunning,
		},
		{
			name: "paused",
			exp: func() *domain.Experiment {
				e := runningExperiment(100, v("a", 100))
				e.Status = domain.StatusPaused
				return e
			}(),
			wantReason: domain.ReasonNotRunning,
		},
		{
			name: "completed",
			exp: func() *domain.Experiment {
				e := runningExperiment(100, v("a", 100))
				e.Status = domain.StatusCompleted
				return e
			}(),
			wantReason: domain.ReasonNotRunning,
		},
		{
			name:       "zero traffic",
			exp:        runningExperiment(0, v("a", 100)),
			wantReason: domain.ReasonNotInTraffic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewAssignmentRepository()
			r := New(store, nil)
			for i := 0; i < 500; i++ {
				d, err := r.Decide(ctx, tt.exp, Request{VisitorID: fmt.Sprintf("visitor-%d", i)})
				if err != nil {
					t.Fatalf("Decide failed: %v", err)
				}
				if d.Enabled || d.Variant != nil {
					t.Fatalf("expected disabled decision, got %+v", d)
				}
				if d.Reason != tt.wantReason {
					t.Fatalf("expected reason %s, got %s", tt.wantReason, d.Reason)
				}
			}
			if n := store.Count(tt.exp.ID); n != 0 {
				t.Errorf("expected no assignments, got %d", n)
			}
		})
	}
}

func TestDecide_FullTrafficSingleVariant(t *testing.T) {
	ctx := context.Background()
	r := New(memory.NewAssignmentRepository(), nil)
	exp := runningExperiment(100, v("only", 100))

	for i := 0; i < 500; i++ {
		d, err := r.Decide(ctx, exp, Request{VisitorID: fmt.Sprintf("visitor-%d", i)})
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if !d.Enabled || d.Variant == nil || d.Variant.Key != "only" {
			t.Fatalf("expected variant only, got %+v", d)
		}
	}
}

func TestDecide_PartialTraffic(t *testing.T) {
	ctx := context.Background()
	r := New(memory.NewAssignmentRepository(), nil)
	exp := runningExperiment(25, v("a", 100))

	const n = 20000
	in := 0
	for i := 0; i < n; i++ {
		d, err := r.Decide(ctx, exp, Request{VisitorID: fmt.Sprintf("visitor-%d", i)})
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		if d.Enabled {
			in++
		}
	}
	if got := float64(in) / n; math.Abs(got-0.25) > 0.02 {
		t.Errorf("expected ~25%% in traffic, got %.2f%%", got*100)
	}
}

func TestDecide_ConcurrentFirstCallsConverge(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAssignmentRepository()
	r := New(store, nil)
	exp := runningExperiment(100, v("a", 34), v("b", 33), v("c", 33))

	const callers = 64
	var wg sync.WaitGroup
	results := make([]*domain.Decision, callers)
	errs := make([]error, callers)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = r.Decide(ctx, exp, Request{VisitorID: "first-timer"})
		}(i)
	}
	close(start)
	wg.Wait()

	newCount := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i].Variant.ID != results[0].Variant.ID {
			t.Fatalf("caller %d got %s, caller 0 got %s", i, results[i].Variant.ID, results[0].Variant.ID)
		}
		if results[i].IsNewAssignment {
			newCount++
		}
	}
	if newCount != 1 {
		t.Errorf("expected exactly one new assignment, got %d", newCount)
	}
	if n := store.Count(exp.ID); n != 1 {
		t.Errorf("expected one persisted assignment, got %d", n)
	}
}

func TestDecide_ConflictRereadsWinner(t *testing.T) {
	ctx := context.Background()
	exp := runningExperiment(100, v("a", 50), v("b", 50))

	// Simulate a writer that persisted a different variant between our read
	// and our insert.
	calls := 0
	store := &mockAssignments{
		GetFunc: func(ctx context.Context, experimentID, visitorID string) (*domain.Assignment, error) {
			calls++
			if calls == 1 {
				return nil, nil
			}
			return &domain.Assignment{ExperimentID: experimentID, VisitorID: visitorID, VariantID: "var-b"}, nil
		},
		CreateFunc: func(ctx context.Context, assignment *domain.Assignment) error {
			return domain.ErrAssignmentExists
		},
	}

	d, err := New(store, nil).Decide(ctx, exp, Request{VisitorID: "racer"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.Variant.ID != "var-b" {
		t.Errorf("expected winner's variant var-b, got %s", d.Variant.ID)
	}
	if d.IsNewAssignment {
		t.Error("losing writer must not report a new assignment")
	}
	if calls != 2 {
		t.Errorf("expected 2 reads, got %d", calls)
	}
}

func TestDecide_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty visitor", func(t *testing.T) {
		r := New(memory.NewAssignmentRepository(), nil)
		for _, visitor := range []string{"", "   "} {
			_, err := r.Decide(ctx, runningExperiment(100, v("a", 100)), Request{VisitorID: visitor})
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("visitor %q: expected ErrInvalidRequest, got %v", visitor, err)
			}
		}
	})

	t.Run("no variants", func(t *testing.T) {
		r := New(memory.NewAssignmentRepository(), nil)
		_, err := r.Decide(ctx, runningExperiment(100), Request{VisitorID: "v1"})
		if !errors.Is(err, domain.ErrNoVariantsConfigured) {
			t.Errorf("expected ErrNoVariantsConfigured, got %v", err)
		}
	})

	t.Run("store read failure", func(t *testing.T) {
		store := &mockAssignments{
			GetFunc: func(ctx context.Context, experimentID, visitorID string) (*domain.Assignment, error) {
				return nil, errors.New("connection reset")
			},
		}
		if _, err := New(store, nil).Decide(ctx, runningExperiment(100, v("a", 100)), Request{VisitorID: "v1"}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("store write failure", func(t *testing.T) {
		store := &mockAssignments{
			CreateFunc: func(ctx context.Context, assignment *domain.Assignment) error {
				return errors.New("disk full")
			},
		}
		_, err := New(store, nil).Decide(ctx, runningExperiment(100, v("a", 100)), Request{VisitorID: "v1"})
		if err == nil || errors.Is(err, domain.ErrAssignmentExists) {
			t.Errorf("expected raw write error, got %v", err)
		}
	})
}

func TestDecide_DistributionMatchesShares(t *testing.T) {
	ctx := context.Background()
	r := New(memory.NewAssignmentRepository(), nil)
	exp := runningExperiment(100, v("control", 50), v("blue", 30), v("green", 20))

	const n = 30000
	seen := map[string]int{}
	for i := 0; i < n; i++ {
		d, err := r.Decide(ctx, exp, Request{VisitorID: fmt.Sprintf("visitor-%d", i)})
		if err != nil {
			t.Fatalf("Decide failed: %v", err)
		}
		seen[d.Variant.Key]++
	}

	for _, want := range exp.Variants {
		got := float64(seen[want.Key]) / n * 100
		if math.Abs(got-want.TrafficPercentage) > 1.5 {
			t.Errorf("%s: expected ~%.0f%%, got %.2f%%", want.Key, want.TrafficPercentage, got)
		}
	}
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	store := memory.NewAssignmentRepository()
	r := New(store, nil)
	exp := runningExperiment(100, v("a", 50), v("b", 50))

	d, err := r.Decide(ctx, exp, Request{VisitorID: "returning"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	exp.Status = domain.StatusPaused
	a, variant, err := r.Lookup(ctx, exp, "returning")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if a.VariantID != d.Variant.ID || variant.ID != d.Variant.ID {
		t.Errorf("expected %s, got assignment %s variant %s", d.Variant.ID, a.VariantID, variant.ID)
	}

	paused, err := r.Decide(ctx, exp, Request{VisitorID: "returning"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if paused.Enabled || paused.Reason != domain.ReasonNotRunning {
		t.Errorf("expected NOT_RUNNING for paused experiment, got %+v", paused)
	}

	if _, _, err := r.Lookup(ctx, exp, "stranger"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
