package decision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/emiliopalmerini/splitd/internal/adapters/memory"
	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/logging"
)

func exposure(i int) *domain.Event {
	return &domain.Event{
		ID:           fmt.Sprintf("evt-%d", i),
		Kind:         domain.EventExposure,
		ExperimentID: "exp-1",
		VariantID:    "var-a",
		VisitorID:    fmt.Sprintf("visitor-%d", i),
		OccurredAt:   time.Now(),
	}
}

func TestIngestor_DropsWhenFull(t *testing.T) {
	metrics := &recordingMetrics{}
	ing := NewIngestor(memory.NewEventLedger(), metrics, logging.Discard(), IngestorOptions{Buffer: 2, Workers: 1})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			ing.Enqueue(ctx, exposure(i))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full buffer")
	}

	_, accepted, dropped := metrics.snapshot()
	if accepted != 2 || dropped != 8 {
		t.Errorf("expected 2 accepted and 8 dropped, got %d and %d", accepted, dropped)
	}
	if ing.Pending() != 2 {
		t.Errorf("expected 2 pending, got %d", ing.Pending())
	}
}

func TestIngestor_DrainsOnShutdown(t *testing.T) {
	ledger := memory.NewEventLedger()
	ing := NewIngestor(ledger, nil, logging.Discard(), IngestorOptions{Buffer: 100, Workers: 3})

	for i := 0; i < 50; i++ {
		if !ing.Enqueue(context.Background(), exposure(i)) {
			t.Fatalf("event %d rejected", i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ing.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if n := len(ledger.Events()); n != 50 {
		t.Errorf("expected all 50 events drained, got %d", n)
	}
	if ing.Pending() != 0 {
		t.Errorf("expected empty buffer, got %d", ing.Pending())
	}
}

// flakyLedger fails every other append.
type flakyLedger struct {
	mu       sync.Mutex
	calls    int
	appended []domain.Event
}

func (l *flakyLedger) Append(ctx context.Context, event *domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls%2 == 0 {
		return errors.New("disk full")
	}
	l.appended = append(l.appended, *event)
	return nil
}

func (l *flakyLedger) Counts(ctx context.Context, experimentID string) ([]domain.VariantCounts, error) {
	return nil, nil
}

func TestIngestor_KeepsGoingAfterAppendErrors(t *testing.T) {
	ledger := &flakyLedger{}
	ing := NewIngestor(ledger, nil, logging.Discard(), IngestorOptions{Buffer: 10, Workers: 1})
	for i := 0; i < 6; i++ {
		ing.Enqueue(context.Background(), exposure(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = ing.Run(ctx)

	if ledger.calls != 6 || len(ledger.appended) != 3 {
		t.Errorf("expected 6 attempts and 3 successes, got %d and %d", ledger.calls, len(ledger.appended))
	}
}

func TestIngestor_ProcessesWhileRunning(t *testing.T) {
	ledger := memory.NewEventLedger()
	ing := NewIngestor(ledger, nil, logging.Discard(), IngestorOptions{Buffer: 4, Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ing.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	accepted := 0
	for i := 0; accepted < 20 && time.Now().Before(deadline); i++ {
		if ing.Enqueue(context.Background(), exposure(i)) {
			accepted++
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	<-done

	if accepted != 20 {
		t.Fatalf("expected workers to keep up, accepted %d", accepted)
	}
	if n := len(ledger.Events()); n != 20 {
		t.Errorf("expected 20 events, got %d", n)
	}
}
