// Package memory provides in-process implementations of the persistence
// ports, used by tests and by `serve` with the memory backend for throwaway
// setups.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/ports"
)

var (
	_ ports.ExperimentRepository = (*ExperimentRepository)(nil)
	_ ports.AssignmentRepository = (*AssignmentRepository)(nil)
	_ ports.EventLedger          = (*EventLedger)(nil)
)

// Store bundles the three in-memory repositories.
type Store struct {
	Experiments *ExperimentRepository
	Assignments *AssignmentRepository
	Events      *EventLedger
}

// NewStore returns empty repositories.
func NewStore() *Store {
	return &Store{
		Experiments: NewExperimentRepository(),
		Assignments: NewAssignmentRepository(),
		Events:      NewEventLedger(),
	}
}

// ExperimentRepository keeps experiments in a map. Values are copied on the
// way in and out so callers never share memory with the store.
type ExperimentRepository struct {
	mu          sync.RWMutex
	experiments map[string]*domain.Experiment
	keys        map[string]string
}

func NewExperimentRepository() *ExperimentRepository {
	return &ExperimentRepository{
		experiments: make(map[string]*domain.Experiment),
		keys:        make(map[string]string),
	}
}

func (r *ExperimentRepository) Create(ctx context.Context, experiment *domain.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.experiments[experiment.ID]; ok {
		return fmt.Errorf("experiment id %s: %w", experiment.ID, domain.ErrAlreadyExists)
	}
	if _, ok := r.keys[experiment.Key]; ok {
		return fmt.Errorf("experiment key %s: %w", experiment.Key, domain.ErrAlreadyExists)
	}
	r.experiments[experiment.ID] = cloneExperiment(experiment)
	r.keys[experiment.Key] = experiment.ID
	return nil
}

func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*domain.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exp, ok := r.experiments[id]
	if !ok {
		return nil, nil
	}
	return cloneExperiment(exp), nil
}

func (r *ExperimentRepository) GetByKey(ctx context.Context, key string) (*domain.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keys[key]
	if !ok {
		return nil, nil
	}
	return cloneExperiment(r.experiments[id]), nil
}

func (r *ExperimentRepository) List(ctx context.Context) ([]*domain.Experiment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Experiment, 0, len(r.experiments))
	for _, exp := range r.experiments {
		out = append(out, cloneExperiment(exp))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update replaces the experiment row. Variants are managed by AddVariant and
// are left untouched.
func (r *ExperimentRepository) Update(ctx context.Context, experiment *domain.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.experiments[experiment.ID]
	if !ok {
		return fmt.Errorf("experiment %s: %w", experiment.ID, domain.ErrNotFound)
	}
	updated := cloneExperiment(experiment)
	updated.Variants = current.Variants
	r.experiments[experiment.ID] = updated
	return nil
}

func (r *ExperimentRepository) AddVariant(ctx context.Context, variant *domain.Variant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp, ok := r.experiments[variant.ExperimentID]
	if !ok {
		return fmt.Errorf("experiment %s: %w", variant.ExperimentID, domain.ErrNotFound)
	}
	for _, v := range exp.Variants {
		if v.Key == variant.Key || v.ID == variant.ID {
			return fmt.Errorf("variant %s: %w", variant.Key, domain.ErrAlreadyExists)
		}
	}
	exp.Variants = append(exp.Variants, cloneVariant(*variant))
	return nil
}

type assignmentKey struct {
	experimentID string
	visitorID    string
}

// AssignmentRepository enforces the (experiment, visitor) uniqueness with a
// map lookup and insert under one lock.
type AssignmentRepository struct {
	mu          sync.RWMutex
	assignments map[assignmentKey]domain.Assignment
}

func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{assignments: make(map[assignmentKey]domain.Assignment)}
}

func (r *AssignmentRepository) Get(ctx context.Context, experimentID, visitorID string) (*domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assignments[assignmentKey{experimentID, visitorID}]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *AssignmentRepository) Create(ctx context.Context, assignment *domain.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assignmentKey{assignment.ExperimentID, assignment.VisitorID}
	if _, ok := r.assignments[key]; ok {
		return domain.ErrAssignmentExists
	}
	r.assignments[key] = *assignment
	return nil
}

// Count returns how many assignments exist for an experiment.
func (r *AssignmentRepository) Count(experimentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for k := range r.assignments {
		if k.experimentID == experimentID {
			n++
		}
	}
	return n
}

type firstSeenKey struct {
	experimentID string
	visitorID    string
	kind         domain.EventKind
}

type countKey struct {
	experimentID string
	variantID    string
}

// EventLedger appends events to a slice and bumps a counter the first time
// a visitor produces an event of a given kind.
type EventLedger struct {
	mu        sync.RWMutex
	events    []domain.Event
	firstSeen map[firstSeenKey]struct{}
	counts    map[countKey]*domain.VariantCounts
}

func NewEventLedger() *EventLedger {
	return &EventLedger{
		firstSeen: make(map[firstSeenKey]struct{}),
		counts:    make(map[countKey]*domain.VariantCounts),
	}
}

func (l *EventLedger) Append(ctx context.Context, event *domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, *event)

	seen := firstSeenKey{event.ExperimentID, event.VisitorID, event.Kind}
	if _, ok := l.firstSeen[seen]; ok {
		return nil
	}
	l.firstSeen[seen] = struct{}{}

	key := countKey{event.ExperimentID, event.VariantID}
	c, ok := l.counts[key]
	if !ok {
		c = &domain.VariantCounts{ExperimentID: event.ExperimentID, VariantID: event.VariantID}
		l.counts[key] = c
	}
	switch event.Kind {
	case domain.EventExposure:
		c.Exposures++
	case domain.EventConversion:
		c.Conversions++
	}
	return nil
}

func (l *EventLedger) Counts(ctx context.Context, experimentID string) ([]domain.VariantCounts, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.VariantCounts
	for k, c := range l.counts {
		if k.experimentID == experimentID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

// Events returns a copy of the raw ledger.
func (l *EventLedger) Events() []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Event, len(l.events))
	copy(out, l.events)
	return out
}

func cloneExperiment(e *domain.Experiment) *domain.Experiment {
	c := *e
	c.Variants = make([]domain.Variant, len(e.Variants))
	for i, v := range e.Variants {
		c.Variants[i] = cloneVariant(v)
	}
	return &c
}

func cloneVariant(v domain.Variant) domain.Variant {
	if v.Config != nil {
		v.Config = append(json.RawMessage(nil), v.Config...)
	}
	return v
}
