package ports

import (
	"context"

	"github.com/emiliopalmerini/splitd/internal/domain"
)

// EventLedger appends exposure and conversion events and keeps per-variant
// unique visitor counters up to date as events arrive.
type EventLedger interface {
	Append(ctx context.Context, event *domain.Event) error
	// Counts returns the counters of every variant that has seen an event.
	Counts(ctx context.Context, experimentID string) ([]domain.VariantCounts, error)
}
