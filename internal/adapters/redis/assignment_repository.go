package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/emiliopalmerini/splitd/internal/domain"
)

type assignmentRecord struct {
	ExperimentID string         `json:"experiment_id"`
	VisitorID    string         `json:"visitor_id"`
	VariantID    string         `json:"variant_id"`
	UserID       *string        `json:"user_id,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	AssignedAt   time.Time      `json:"assigned_at"`
}

// AssignmentRepository stores one key per (experiment, visitor). SETNX
// makes the first writer win.
type AssignmentRepository struct {
	client *Client
}

func NewAssignmentRepository(client *Client) *AssignmentRepository {
	return &AssignmentRepository{client: client}
}

func (r *AssignmentRepository) Get(ctx context.Context, experimentID, visitorID string) (*domain.Assignment, error) {
	raw, err := r.client.rdb.Get(ctx, r.client.assignmentKey(experimentID, visitorID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read assignment from Redis: %w", err)
	}

	var rec assignmentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to deserialize assignment: %w", err)
	}
	return &domain.Assignment{
		ExperimentID: rec.ExperimentID,
		VisitorID:    rec.VisitorID,
		VariantID:    rec.VariantID,
		UserID:       rec.UserID,
		Context:      rec.Context,
		AssignedAt:   rec.AssignedAt.UTC(),
	}, nil
}

func (r *AssignmentRepository) Create(ctx context.Context, assignment *domain.Assignment) error {
	raw, err := json.Marshal(assignmentRecord{
		ExperimentID: assignment.ExperimentID,
		VisitorID:    assignment.VisitorID,
		VariantID:    assignment.VariantID,
		UserID:       assignment.UserID,
		Context:      assignment.Context,
		AssignedAt:   assignment.AssignedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize assignment: %w", err)
	}

	key := r.client.assignmentKey(assignment.ExperimentID, assignment.VisitorID)
	ok, err := r.client.rdb.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to write assignment to Redis: %w", err)
	}
	if !ok {
		return domain.ErrAssignmentExists
	}
	return nil
}
