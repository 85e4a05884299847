package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// percentTolerance absorbs float rounding when variant shares are summed
// (33.33 + 33.33 + 33.34).
const percentTolerance = 1e-6

// transitions lists the allowed state changes. Completed is terminal.
var transitions = map[Status][]Status{
	StatusDraft:   {StatusRunning},
	StatusRunning: {StatusPaused, StatusCompleted},
	StatusPaused:  {StatusRunning, StatusCompleted},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Experiment struct {
	ID                string
	Key               string
	Name              string
	Description       *string
	Status            Status
	TrafficAllocation float64
	Variants          []Variant
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	EndedAt           *time.Time
}

type Variant struct {
	ID                string
	ExperimentID      string
	Key               string
	Name              string
	TrafficPercentage float64
	Config            json.RawMessage
	IsControl         bool
	Position          int
}

// IsRunning reports whether the experiment accepts new assignments.
func (e *Experiment) IsRunning() bool {
	return e.Status == StatusRunning
}

// TotalPercentage sums the traffic share of all variants.
func (e *Experiment) TotalPercentage() float64 {
	var total float64
	for _, v := range e.Variants {
		total += v.TrafficPercentage
	}
	return total
}

// ValidateForRunning checks the guard on entering the running state:
// at least one variant and variant shares summing to exactly 100.
func (e *Experiment) ValidateForRunning() error {
	if len(e.Variants) == 0 {
		return &ValidationError{Field: "variants", Message: "experiment has no variants"}
	}
	if total := e.TotalPercentage(); math.Abs(total-100) > percentTolerance {
		return &ValidationError{
			Field:   "variants",
			Message: fmt.Sprintf("variant traffic percentages sum to %g, must be 100", total),
		}
	}
	return nil
}

// Transition moves the experiment to next, enforcing the state machine and
// the running guard. Timestamps are stamped with now.
func (e *Experiment) Transition(next Status, now time.Time) error {
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}
	if next == StatusRunning {
		if err := e.ValidateForRunning(); err != nil {
			return err
		}
		if e.StartedAt == nil {
			e.StartedAt = &now
		}
	}
	if next == StatusCompleted {
		e.EndedAt = &now
	}
	e.Status = next
	e.UpdatedAt = now
	return nil
}

// SortedVariants returns the variants ordered by key. Bucketing walks this
// order so that it does not depend on insertion order or storage layout.
func (e *Experiment) SortedVariants() []Variant {
	sorted := make([]Variant, len(e.Variants))
	copy(sorted, e.Variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})
	return sorted
}

// Control returns the variant flagged as control, falling back to the first
// variant by position. Returns nil when there are no variants.
func (e *Experiment) Control() *Variant {
	if len(e.Variants) == 0 {
		return nil
	}
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i]
		}
	}
	first := 0
	for i := range e.Variants {
		if e.Variants[i].Position < e.Variants[first].Position {
			first = i
		}
	}
	return &e.Variants[first]
}

// VariantByID looks up a variant of this experiment.
func (e *Experiment) VariantByID(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// VariantByKey looks up a variant of this experiment by key.
func (e *Experiment) VariantByKey(key string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].Key == key {
			return &e.Variants[i]
		}
	}
	return nil
}
