package domain

import (
	"fmt"
	"time"
)

// EventKind distinguishes exposure from conversion records.
type EventKind string

const (
	EventExposure   EventKind = "exposure"
	EventConversion EventKind = "conversion"
)

// ParseEventKind validates a wire value.
func ParseEventKind(s string) (EventKind, error) {
	switch EventKind(s) {
	case EventExposure, EventConversion:
		return EventKind(s), nil
	}
	return "", &ValidationError{Field: "type", Message: fmt.Sprintf("unknown event type %q", s)}
}

// Event is an append-only exposure or conversion record.
type Event struct {
	ID           string
	Kind         EventKind
	ExperimentID string
	VariantID    string
	VisitorID    string
	OccurredAt   time.Time
}

// VariantCounts holds the number of unique visitors exposed to and converted
// on a variant.
type VariantCounts struct {
	ExperimentID string
	VariantID    string
	Exposures    int64
	Conversions  int64
}
