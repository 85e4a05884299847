package turso_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/emiliopalmerini/splitd/internal/adapters/turso"
	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/migrate"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := turso.NewDB("file:"+filepath.Join(t.TempDir(), "test.db"), "")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	ctx := context.Background()
	if err := migrate.RunAll(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

var baseTime = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newExperiment(id, key string, variants ...string) *domain.Experiment {
	exp := &domain.Experiment{
		ID:                id,
		Key:               key,
		Name:              "Experiment " + key,
		Status:            domain.StatusDraft,
		TrafficAllocation: 100,
		CreatedAt:         baseTime,
		UpdatedAt:         baseTime,
	}
	for i, v := range variants {
		exp.Variants = append(exp.Variants, domain.Variant{
			ID:                id + "-" + v,
			ExperimentID:      id,
			Key:               v,
			Name:              v,
			TrafficPercentage: 100 / float64(len(variants)),
			IsControl:         i == 0,
			Position:          i,
		})
	}
	return exp
}

func seedExperiment(t *testing.T, db *sql.DB, exp *domain.Experiment) {
	t.Helper()
	if err := turso.NewExperimentRepository(db).Create(context.Background(), exp); err != nil {
		t.Fatalf("Failed to seed experiment: %v", err)
	}
}
