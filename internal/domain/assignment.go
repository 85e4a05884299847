package domain

import "time"

// Assignment binds a visitor to a variant of an experiment. It is created
// once per (ExperimentID, VisitorID) and never changed afterwards.
type Assignment struct {
	ExperimentID string
	VisitorID    string
	VariantID    string
	UserID       *string
	Context      map[string]any
	AssignedAt   time.Time
}

// Reason explains why a decision came back disabled.
type Reason string

const (
	ReasonNotRunning           Reason = "NOT_RUNNING"
	ReasonNotInTraffic         Reason = "NOT_IN_TRAFFIC"
	ReasonNoVariantsConfigured Reason = "NO_VARIANTS_CONFIGURED"
	ReasonInvalidRequest       Reason = "INVALID_REQUEST"
	ReasonExperimentNotFound   Reason = "EXPERIMENT_NOT_FOUND"
	ReasonTimeout              Reason = "TIMEOUT"
	ReasonInternalError        Reason = "INTERNAL_ERROR"
)

// Decision is the outcome of resolving a visitor against an experiment.
type Decision struct {
	ExperimentID    string
	Enabled         bool
	Variant         *Variant
	IsNewAssignment bool
	Reason          Reason
}

// Disabled builds a decision that shows the visitor nothing.
func Disabled(experimentID string, reason Reason) *Decision {
	return &Decision{ExperimentID: experimentID, Reason: reason}
}
