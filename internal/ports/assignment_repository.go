package ports

import (
	"context"

	"github.com/emiliopalmerini/splitd/internal/domain"
)

// AssignmentRepository stores visitor assignments under a uniqueness
// constraint on (experiment_id, visitor_id).
type AssignmentRepository interface {
	// Get returns (nil, nil) when the visitor has no assignment.
	Get(ctx context.Context, experimentID, visitorID string) (*domain.Assignment, error)
	// Create inserts the assignment only if the key is free. It returns
	// domain.ErrAssignmentExists when another writer got there first.
	Create(ctx context.Context, assignment *domain.Assignment) error
}
