package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/ports"
)

// Request carries the visitor-side inputs of a decision.
type Request struct {
	VisitorID string
	UserID    *string
	Context   map[string]any
}

// Resolver assigns visitors to variants. It holds no locks: concurrent
// first-time calls for the same visitor compute the same bucket, and the
// assignment store's uniqueness constraint decides which write persists.
type Resolver struct {
	assignments ports.AssignmentRepository
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a resolver backed by the given assignment store.
func New(assignments ports.AssignmentRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		assignments: assignments,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Decide resolves the visitor against exp. Disabled outcomes (not running,
// not in traffic) are returned as decisions, not errors. Errors are
// domain.ErrInvalidRequest, domain.ErrNoVariantsConfigured or storage
// failures.
func (r *Resolver) Decide(ctx context.Context, exp *domain.Experiment, req Request) (*domain.Decision, error) {
	if strings.TrimSpace(req.VisitorID) == "" {
		return nil, fmt.Errorf("%w: visitor_id is required", domain.ErrInvalidRequest)
	}

	if !exp.IsRunning() {
		return domain.Disabled(exp.ID, domain.ReasonNotRunning), nil
	}

	if !InTraffic(exp, req.VisitorID) {
		return domain.Disabled(exp.ID, domain.ReasonNotInTraffic), nil
	}

	existing, err := r.assignments.Get(ctx, exp.ID, req.VisitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to read assignment: %w", err)
	}
	if existing != nil {
		return r.enabled(exp, existing, false)
	}

	if len(exp.Variants) == 0 {
		return nil, fmt.Errorf("experiment %s: %w", exp.Key, domain.ErrNoVariantsConfigured)
	}

	variant := SelectVariant(exp, Bucket(exp.ID, req.VisitorID, saltVariant))
	candidate := &domain.Assignment{
		ExperimentID: exp.ID,
		VisitorID:    req.VisitorID,
		VariantID:    variant.ID,
		UserID:       req.UserID,
		Context:      req.Context,
		AssignedAt:   r.now(),
	}

	err = r.assignments.Create(ctx, candidate)
	if err == nil {
		return r.enabled(exp, candidate, true)
	}
	if !errors.Is(err, domain.ErrAssignmentExists) {
		return nil, fmt.Errorf("failed to persist assignment: %w", err)
	}

	// Lost the race: the winner's row is authoritative.
	winner, err := r.assignments.Get(ctx, exp.ID, req.VisitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read assignment after conflict: %w", err)
	}
	if winner == nil {
		return nil, fmt.Errorf("assignment for visitor %s vanished after conflict", req.VisitorID)
	}
	if winner.VariantID != candidate.VariantID {
		r.logger.WarnContext(ctx, "concurrent assignment picked a different variant",
			"experiment_id", exp.ID,
			"visitor_id", req.VisitorID,
			"local_variant_id", candidate.VariantID,
			"stored_variant_id", winner.VariantID)
	}
	return r.enabled(exp, winner, false)
}

// Lookup returns the visitor's existing assignment and its variant,
// regardless of the experiment's status. It returns domain.ErrNotFound when
// the visitor was never assigned.
func (r *Resolver) Lookup(ctx context.Context, exp *domain.Experiment, visitorID string) (*domain.Assignment, *domain.Variant, error) {
	if strings.TrimSpace(visitorID) == "" {
		return nil, nil, fmt.Errorf("%w: visitor_id is required", domain.ErrInvalidRequest)
	}
	a, err := r.assignments.Get(ctx, exp.ID, visitorID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read assignment: %w", err)
	}
	if a == nil {
		return nil, nil, fmt.Errorf("assignment for visitor %s: %w", visitorID, domain.ErrNotFound)
	}
	v := exp.VariantByID(a.VariantID)
	if v == nil {
		return nil, nil, fmt.Errorf("variant %s of assignment: %w", a.VariantID, domain.ErrNotFound)
	}
	return a, v, nil
}

func (r *Resolver) enabled(exp *domain.Experiment, a *domain.Assignment, isNew bool) (*domain.Decision, error) {
	v := exp.VariantByID(a.VariantID)
	if v == nil {
		return nil, fmt.Errorf("assignment references unknown variant %s: %w", a.VariantID, domain.ErrNotFound)
	}
	return &domain.Decision{
		ExperimentID:    exp.ID,
		Enabled:         true,
		Variant:         v,
		IsNewAssignment: isNew,
	}, nil
}
