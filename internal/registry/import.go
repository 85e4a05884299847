package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/emiliopalmerini/splitd/internal/domain"
)

// Definitions is the YAML document accepted by Import.
//
//	experiments:
//	  - key: checkout-button
//	    name: Checkout button colour
//	    traffic: 50
//	    start: true
//	    variants:
//	      - {key: control, name: Blue, percentage: 50, control: true}
//	      - {key: green, name: Green, percentage: 50, config: {color: "#0a0"}}
type Definitions struct {
	Experiments []ExperimentDefinition `yaml:"experiments"`
}

type ExperimentDefinition struct {
	Key         string              `yaml:"key"`
	Name        string              `yaml:"name"`
	Description *string             `yaml:"description"`
	Traffic     *float64            `yaml:"traffic"`
	Start       bool                `yaml:"start"`
	Variants    []VariantDefinition `yaml:"variants"`
}

type VariantDefinition struct {
	Key        string         `yaml:"key"`
	Name       string         `yaml:"name"`
	Percentage float64        `yaml:"percentage"`
	Control    bool           `yaml:"control"`
	Config     map[string]any `yaml:"config"`
}

// ImportResult reports what Import did with each definition.
type ImportResult struct {
	Created []*domain.Experiment
	// Skipped lists keys that already existed and were left untouched.
	Skipped []string
}

// ParseDefinitions decodes a YAML definitions document.
func ParseDefinitions(r io.Reader) (*Definitions, error) {
	var defs Definitions
	if err := yaml.NewDecoder(r).Decode(&defs); err != nil {
		if err == io.EOF {
			return &defs, nil
		}
		return nil, fmt.Errorf("%w: failed to parse definitions: %v", domain.ErrValidation, err)
	}
	return &defs, nil
}

// Import creates every experiment in defs whose key is not yet taken.
// Missing traffic defaults to 100. The import stops at the first failing
// definition; experiments created before it are kept.
func (r *Registry) Import(ctx context.Context, defs *Definitions) (*ImportResult, error) {
	result := &ImportResult{}
	for i, def := range defs.Experiments {
		existing, err := r.repo.GetByKey(ctx, def.Key)
		if err != nil {
			return result, fmt.Errorf("failed to check experiment key: %w", err)
		}
		if existing != nil {
			r.logger.InfoContext(ctx, "skipping existing experiment", "key", def.Key)
			result.Skipped = append(result.Skipped, def.Key)
			continue
		}

		exp, err := r.importOne(ctx, def)
		if err != nil {
			return result, fmt.Errorf("experiment %d (%s): %w", i, def.Key, err)
		}
		result.Created = append(result.Created, exp)
	}
	return result, nil
}

func (r *Registry) importOne(ctx context.Context, def ExperimentDefinition) (*domain.Experiment, error) {
	traffic := 100.0
	if def.Traffic != nil {
		traffic = *def.Traffic
	}
	exp, err := r.CreateExperiment(ctx, CreateExperimentInput{
		Key:               def.Key,
		Name:              def.Name,
		Description:       def.Description,
		TrafficAllocation: traffic,
	})
	if err != nil {
		return nil, err
	}

	for _, vd := range def.Variants {
		var config json.RawMessage
		if vd.Config != nil {
			config, err = json.Marshal(vd.Config)
			if err != nil {
				return nil, &domain.ValidationError{Field: "config", Message: err.Error()}
			}
		}
		if _, err := r.AddVariant(ctx, exp.ID, AddVariantInput{
			Key:               vd.Key,
			Name:              vd.Name,
			TrafficPercentage: vd.Percentage,
			Config:            config,
			IsControl:         vd.Control,
		}); err != nil {
			return nil, fmt.Errorf("variant %s: %w", vd.Key, err)
		}
	}

	if def.Start {
		return r.Start(ctx, exp.ID)
	}
	return r.Get(ctx, exp.ID)
}
