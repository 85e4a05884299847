// Package registry owns experiment and variant definitions and drives the
// experiment state machine.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/ports"
)

// DefaultCacheTTL bounds how stale a cached definition on the decision path
// may be.
const DefaultCacheTTL = 5 * time.Second

// CreateExperimentInput describes a new draft experiment.
type CreateExperimentInput struct {
	Key               string  `json:"key" validate:"required,max=128,excludesall= /?#"`
	Name              string  `json:"name" validate:"required,max=256"`
	Description       *string `json:"description,omitempty" validate:"omitempty,max=4096"`
	TrafficAllocation float64 `json:"traffic_allocation" validate:"gte=0,lte=100"`
}

// AddVariantInput describes a variant added to a draft experiment.
type AddVariantInput struct {
	Key               string          `json:"key" validate:"required,max=128,excludesall= /?#"`
	Name              string          `json:"name" validate:"required,max=256"`
	TrafficPercentage float64         `json:"traffic_percentage" validate:"gte=0,lte=100"`
	Config            json.RawMessage `json:"config,omitempty"`
	IsControl         bool            `json:"is_control"`
}

type Options struct {
	// CacheTTL of zero disables the decision-path cache.
	CacheTTL time.Duration
}

// Registry validates and persists experiment definitions.
type Registry struct {
	repo     ports.ExperimentRepository
	validate *validator.Validate
	cache    *cache
	logger   *slog.Logger
	now      func() time.Time
}

func New(repo ports.ExperimentRepository, logger *slog.Logger, opts Options) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Registry{
		repo:     repo,
		validate: v,
		cache:    newCache(opts.CacheTTL),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateExperiment stores a new experiment in draft.
func (r *Registry) CreateExperiment(ctx context.Context, in CreateExperimentInput) (*domain.Experiment, error) {
	in.Key = strings.TrimSpace(in.Key)
	in.Name = strings.TrimSpace(in.Name)
	if err := r.check(in); err != nil {
		return nil, err
	}

	existing, err := r.repo.GetByKey(ctx, in.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to check experiment key: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("experiment key %q: %w", in.Key, domain.ErrAlreadyExists)
	}

	now := r.now()
	exp := &domain.Experiment{
		ID:                uuid.New().String(),
		Key:               in.Key,
		Name:              in.Name,
		Description:       in.Description,
		Status:            domain.StatusDraft,
		TrafficAllocation: in.TrafficAllocation,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := r.repo.Create(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}

	r.logger.InfoContext(ctx, "experiment created", "experiment_id", exp.ID, "key", exp.Key)
	return exp, nil
}

// AddVariant appends a variant. Variants can only change while the
// experiment is a draft, so running bucketing never shifts under visitors.
func (r *Registry) AddVariant(ctx context.Context, idOrKey string, in AddVariantInput) (*domain.Variant, error) {
	in.Key = strings.TrimSpace(in.Key)
	in.Name = strings.TrimSpace(in.Name)
	if err := r.check(in); err != nil {
		return nil, err
	}
	if len(in.Config) > 0 && !json.Valid(in.Config) {
		return nil, &domain.ValidationError{Field: "config", Message: "must be valid JSON"}
	}

	exp, err := r.Get(ctx, idOrKey)
	if err != nil {
		return nil, err
	}
	if exp.Status != domain.StatusDraft {
		return nil, fmt.Errorf("%w: variants can only be added to draft experiments (status %s)",
			domain.ErrInvalidTransition, exp.Status)
	}
	if exp.VariantByKey(in.Key) != nil {
		return nil, fmt.Errorf("variant key %q: %w", in.Key, domain.ErrAlreadyExists)
	}
	if in.IsControl {
		for _, v := range exp.Variants {
			if v.IsControl {
				return nil, &domain.ValidationError{
					Field:   "is_control",
					Message: fmt.Sprintf("variant %q is already the control", v.Key),
				}
			}
		}
	}

	variant := &domain.Variant{
		ID:                uuid.New().String(),
		ExperimentID:      exp.ID,
		Key:               in.Key,
		Name:              in.Name,
		TrafficPercentage: in.TrafficPercentage,
		Config:            in.Config,
		IsControl:         in.IsControl,
		Position:          len(exp.Variants),
	}
	if err := r.repo.AddVariant(ctx, variant); err != nil {
		return nil, fmt.Errorf("failed to add variant: %w", err)
	}
	r.cache.invalidate(exp)

	r.logger.InfoContext(ctx, "variant added",
		"experiment_id", exp.ID, "variant_id", variant.ID, "key", variant.Key)
	return variant, nil
}

// SetTrafficAllocation changes the share of visitors admitted into the
// experiment. Completed experiments are frozen.
func (r *Registry) SetTrafficAllocation(ctx context.Context, idOrKey string, pct float64) (*domain.Experiment, error) {
	if pct < 0 || pct > 100 {
		return nil, &domain.ValidationError{Field: "traffic_allocation", Message: "must be between 0 and 100"}
	}
	exp, err := r.Get(ctx, idOrKey)
	if err != nil {
		return nil, err
	}
	if exp.Status == domain.StatusCompleted {
		return nil, fmt.Errorf("%w: experiment %s is completed", domain.ErrInvalidTransition, exp.Key)
	}

	exp.TrafficAllocation = pct
	exp.UpdatedAt = r.now()
	if err := r.save(ctx, exp); err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "traffic allocation changed",
		"experiment_id", exp.ID, "traffic_allocation", pct)
	return exp, nil
}

func (r *Registry) Start(ctx context.Context, idOrKey string) (*domain.Experiment, error) {
	return r.transition(ctx, idOrKey, domain.StatusRunning)
}

func (r *Registry) Pause(ctx context.Context, idOrKey string) (*domain.Experiment, error) {
	return r.transition(ctx, idOrKey, domain.StatusPaused)
}

func (r *Registry) Complete(ctx context.Context, idOrKey string) (*domain.Experiment, error) {
	return r.transition(ctx, idOrKey, domain.StatusCompleted)
}

func (r *Registry) transition(ctx context.Context, idOrKey string, next domain.Status) (*domain.Experiment, error) {
	exp, err := r.Get(ctx, idOrKey)
	if err != nil {
		return nil, err
	}
	prev := exp.Status
	if err := exp.Transition(next, r.now()); err != nil {
		return nil, err
	}
	if err := r.save(ctx, exp); err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "experiment status changed",
		"experiment_id", exp.ID, "from", prev, "to", next)
	return exp, nil
}

// Get resolves an experiment by id first, then by key.
func (r *Registry) Get(ctx context.Context, idOrKey string) (*domain.Experiment, error) {
	idOrKey = strings.TrimSpace(idOrKey)
	if idOrKey == "" {
		return nil, &domain.ValidationError{Field: "experiment", Message: "id or key is required"}
	}

	exp, err := r.repo.GetByID(ctx, idOrKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	if exp == nil {
		exp, err = r.repo.GetByKey(ctx, idOrKey)
		if err != nil {
			return nil, fmt.Errorf("failed to get experiment by key: %w", err)
		}
	}
	if exp == nil {
		return nil, fmt.Errorf("experiment %q: %w", idOrKey, domain.ErrNotFound)
	}
	return exp, nil
}

// Cached is Get behind the TTL cache. The returned experiment is shared with
// other callers and must be treated as read-only.
func (r *Registry) Cached(ctx context.Context, idOrKey string) (*domain.Experiment, error) {
	if exp, ok := r.cache.get(idOrKey); ok {
		return exp, nil
	}
	exp, err := r.Get(ctx, idOrKey)
	if err != nil {
		return nil, err
	}
	r.cache.put(idOrKey, exp)
	return exp, nil
}

func (r *Registry) List(ctx context.Context) ([]*domain.Experiment, error) {
	experiments, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	return experiments, nil
}

func (r *Registry) save(ctx context.Context, exp *domain.Experiment) error {
	if err := r.repo.Update(ctx, exp); err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	r.cache.invalidate(exp)
	return nil
}

// check runs struct validation and maps the first failure onto a
// domain.ValidationError.
func (r *Registry) check(in any) error {
	err := r.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &domain.ValidationError{Field: fe.Field(), Message: describe(fe)}
	}
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte", "lte":
		return "must be between 0 and 100"
	case "excludesall":
		return "must not contain spaces, '/', '?' or '#'"
	}
	return "failed " + fe.Tag() + " check"
}
