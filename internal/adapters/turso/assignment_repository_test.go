package turso_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/emiliopalmerini/splitd/internal/adapters/turso"
	"github.com/emiliopalmerini/splitd/internal/domain"
)

func TestAssignmentRepository_CreateAndGet(t *testing.T) {
	db := testDB(t)
	seedExperiment(t, db, newExperiment("exp-1", "assign", "a", "b"))
	repo := turso.NewAssignmentRepository(db)
	ctx := context.Background()

	userID := "user-42"
	a := &domain.Assignment{
		ExperimentID: "exp-1",
		VisitorID:    "visitor-1",
		VariantID:    "exp-1-b",
		UserID:       &userID,
		Context:      map[string]any{"country": "IT", "mobile": true},
		AssignedAt:   baseTime,
	}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.Get(ctx, "exp-1", "visitor-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected assignment, got nil")
	}
	if got.VariantID != "exp-1-b" {
		t.Errorf("expected exp-1-b, got %s", got.VariantID)
	}
	if got.UserID == nil || *got.UserID != userID {
		t.Errorf("expected user id %s, got %v", userID, got.UserID)
	}
	if got.Context["country"] != "IT" || got.Context["mobile"] != true {
		t.Errorf("unexpected context: %v", got.Context)
	}
	if !got.AssignedAt.Equal(baseTime) {
		t.Errorf("expected %v, got %v", baseTime, got.AssignedAt)
	}

	missing, err := repo.Get(ctx, "exp-1", "visitor-2")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil; got %+v, %v", missing, err)
	}
}

func TestAssignmentRepository_DuplicateKeepsFirst(t *testing.T) {
	db := testDB(t)
	seedExperiment(t, db, newExperiment("exp-1", "assign", "a", "b"))
	repo := turso.NewAssignmentRepository(db)
	ctx := context.Background()

	first := &domain.Assignment{ExperimentID: "exp-1", VisitorID: "v", VariantID: "exp-1-a", AssignedAt: baseTime}
	second := &domain.Assignment{ExperimentID: "exp-1", VisitorID: "v", VariantID: "exp-1-b", AssignedAt: baseTime}

	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, second); !errors.Is(err, domain.ErrAssignmentExists) {
		t.Fatalf("expected ErrAssignmentExists, got %v", err)
	}

	got, _ := repo.Get(ctx, "exp-1", "v")
	if got.VariantID != "exp-1-a" {
		t.Errorf("expected first write to persist, got %s", got.VariantID)
	}
}

func TestAssignmentRepository_ConcurrentCreate(t *testing.T) {
	db := testDB(t)
	seedExperiment(t, db, newExperiment("exp-1", "assign", "a", "b"))
	repo := turso.NewAssignmentRepository(db)
	ctx := context.Background()

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		lost    int
		unknown []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			variant := "exp-1-a"
			if i%2 == 1 {
				variant = "exp-1-b"
			}
			err := repo.Create(ctx, &domain.Assignment{ExperimentID: "exp-1", VisitorID: "racer", VariantID: variant, AssignedAt: baseTime})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, domain.ErrAssignmentExists):
				lost++
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if won != 1 || lost != writers-1 {
		t.Errorf("expected 1 winner and %d losers, got %d and %d", writers-1, won, lost)
	}
}
