package ports

import (
	"context"

	"github.com/emiliopalmerini/splitd/internal/domain"
)

// ExperimentRepository persists experiment and variant definitions.
// Get methods return (nil, nil) when nothing matches.
type ExperimentRepository interface {
	Create(ctx context.Context, experiment *domain.Experiment) error
	GetByID(ctx context.Context, id string) (*domain.Experiment, error)
	GetByKey(ctx context.Context, key string) (*domain.Experiment, error)
	List(ctx context.Context) ([]*domain.Experiment, error)
	Update(ctx context.Context, experiment *domain.Experiment) error
	AddVariant(ctx context.Context, variant *domain.Variant) error
}
