package turso_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/emiliopalmerini/splitd/internal/adapters/turso"
	"github.com/emiliopalmerini/splitd/internal/domain"
)

func TestEventLedger_CountsUniqueVisitors(t *testing.T) {
	db := testDB(t)
	seedExperiment(t, db, newExperiment("exp-1", "ledger", "a", "b"))
	ledger := turso.NewEventLedger(db)
	ctx := context.Background()

	n := 0
	appendEvent := func(kind domain.EventKind, variant, visitor string) {
		t.Helper()
		n++
		err := ledger.Append(ctx, &domain.Event{
			ID:           fmt.Sprintf("evt-%d", n),
			Kind:         kind,
			ExperimentID: "exp-1",
			VariantID:    variant,
			VisitorID:    visitor,
			OccurredAt:   baseTime.Add(time.Duration(n) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	appendEvent(domain.EventExposure, "exp-1-a", "v1")
	appendEvent(domain.EventExposure, "exp-1-a", "v1")
	appendEvent(domain.EventExposure, "exp-1-a", "v2")
	appendEvent(domain.EventConversion, "exp-1-a", "v1")
	appendEvent(domain.EventConversion, "exp-1-a", "v1")
	appendEvent(domain.EventExposure, "exp-1-b", "v3")

	counts, err := ledger.Counts(ctx, "exp-1")
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(counts))
	}
	if a := counts[0]; a.VariantID != "exp-1-a" || a.Exposures != 2 || a.Conversions != 1 {
		t.Errorf("unexpected counts for a: %+v", a)
	}
	if b := counts[1]; b.VariantID != "exp-1-b" || b.Exposures != 1 || b.Conversions != 0 {
		t.Errorf("unexpected counts for b: %+v", b)
	}

	var raw int
	if err := db.QueryRow(`SELECT COUNT(*) FROM events WHERE experiment_id = ?`, "exp-1").Scan(&raw); err != nil {
		t.Fatal(err)
	}
	if raw != 6 {
		t.Errorf("expected all 6 events in the ledger, got %d", raw)
	}
}

func TestEventLedger_CountsEmpty(t *testing.T) {
	db := testDB(t)
	counts, err := turso.NewEventLedger(db).Counts(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if len(counts) != 0 {
		t.Errorf("expected no rows, got %+v", counts)
	}
}
