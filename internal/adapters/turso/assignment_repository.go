package turso

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/util"
)

// AssignmentRepository relies on the (experiment_id, visitor_id) primary key
// to arbitrate concurrent first-time writers.
type AssignmentRepository struct {
	db *sql.DB
}

func NewAssignmentRepository(db *sql.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

func (r *AssignmentRepository) Get(ctx context.Context, experimentID, visitorID string) (*domain.Assignment, error) {
	return WithRetry(ctx, retries, func() (*domain.Assignment, error) {
		var (
			a          domain.Assignment
			userID     sql.NullString
			rawContext sql.NullString
			assignedAt string
		)
		err := r.db.QueryRowContext(ctx, `
			SELECT experiment_id, visitor_id, variant_id, user_id, context, assigned_at
			FROM assignments
			WHERE experiment_id = ? AND visitor_id = ?`,
			experimentID, visitorID,
		).Scan(&a.ExperimentID, &a.VisitorID, &a.VariantID, &userID, &rawContext, &assignedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to get assignment: %w", err)
		}

		a.UserID = util.NullStringToPtr(userID)
		a.AssignedAt = util.ParseTime(assignedAt)
		if rawContext.Valid {
			if err := json.Unmarshal([]byte(rawContext.String), &a.Context); err != nil {
				return nil, fmt.Errorf("failed to decode assignment context: %w", err)
			}
		}
		return &a, nil
	})
}

func (r *AssignmentRepository) Create(ctx context.Context, assignment *domain.Assignment) error {
	var rawContext []byte
	if len(assignment.Context) > 0 {
		var err error
		if rawContext, err = json.Marshal(assignment.Context); err != nil {
			return fmt.Errorf("failed to encode assignment context: %w", err)
		}
	}

	var visitorID string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO assignments (experiment_id, visitor_id, variant_id, user_id, context, assigned_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (experiment_id, visitor_id) DO NOTHING
		RETURNING visitor_id`,
		assignment.ExperimentID,
		assignment.VisitorID,
		assignment.VariantID,
		util.NullStringPtr(assignment.UserID),
		util.NullBytes(rawContext),
		util.FormatTime(assignment.AssignedAt),
	).Scan(&visitorID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrAssignmentExists
	}
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}
