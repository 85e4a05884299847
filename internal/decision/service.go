// Package decision serves variant decisions to SDK callers, accepts
// exposure and conversion events, and reports live experiment statistics.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/ports"
	"github.com/emiliopalmerini/splitd/internal/resolver"
	"github.com/emiliopalmerini/splitd/internal/stats"
)

const DefaultTimeout = 250 * time.Millisecond

// Experiments is the registry surface the service reads from.
type Experiments interface {
	// Cached may serve a definition a few seconds stale.
	Cached(ctx context.Context, idOrKey string) (*domain.Experiment, error)
	Get(ctx context.Context, idOrKey string) (*domain.Experiment, error)
}

type Options struct {
	Timeout         time.Duration
	RecordExposures bool
	Stats           stats.Options
}

// Request identifies the experiment by id or key; id wins when both are set.
type Request struct {
	ExperimentID  string
	ExperimentKey string
	VisitorID     string
	UserID        *string
	Context       map[string]any
}

func (r Request) experimentRef() string {
	if ref := strings.TrimSpace(r.ExperimentID); ref != "" {
		return ref
	}
	return strings.TrimSpace(r.ExperimentKey)
}

// TrackRequest reports an exposure or conversion for an assigned visitor.
type TrackRequest struct {
	Type         string
	ExperimentID string
	VisitorID    string
}

// StatsReport pairs an experiment with its analysis.
type StatsReport struct {
	Experiment *domain.Experiment
	Counts     []domain.VariantCounts
	Report     stats.Report
}

type Service struct {
	experiments Experiments
	resolver    *resolver.Resolver
	ledger      ports.EventLedger
	ingestor    *Ingestor
	metrics     ports.MetricsExporter
	logger      *slog.Logger
	opts        Options
	now         func() time.Time
}

func NewService(
	experiments Experiments,
	res *resolver.Resolver,
	ledger ports.EventLedger,
	ingestor *Ingestor,
	metrics ports.MetricsExporter,
	logger *slog.Logger,
	opts Options,
) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if metrics == nil {
		metrics = ports.FanoutExporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		experiments: experiments,
		resolver:    res,
		ledger:      ledger,
		ingestor:    ingestor,
		metrics:     metrics,
		logger:      logger,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type outcome struct {
	decision *domain.Decision
	key      string
}

// Decide never fails: lookup errors, timeouts and panics come back as a
// disabled decision carrying the reason, and the caller shows the default
// experience.
func (s *Service) Decide(ctx context.Context, req Request) *domain.Decision {
	start := time.Now()
	ref := req.experimentRef()

	var out outcome
	if ref == "" || strings.TrimSpace(req.VisitorID) == "" {
		out = outcome{decision: domain.Disabled(req.ExperimentID, domain.ReasonInvalidRequest), key: req.ExperimentKey}
	} else {
		out = s.decideWithTimeout(ctx, ref, req)
	}

	// Only decisions returned to the caller count as exposures.
	if d := out.decision; d.Enabled && s.opts.RecordExposures && s.ingestor != nil {
		s.ingestor.Enqueue(ctx, s.newEvent(domain.EventExposure, d.ExperimentID, d.Variant.ID, req.VisitorID))
	}

	s.metrics.RecordDecision(ctx, ports.DecisionMetrics{
		ExperimentKey:   out.key,
		Enabled:         out.decision.Enabled,
		IsNewAssignment: out.decision.IsNewAssignment,
		Reason:          out.decision.Reason,
		Duration:        time.Since(start),
	})
	return out.decision
}

func (s *Service) decideWithTimeout(ctx context.Context, ref string, req Request) outcome {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				s.logger.ErrorContext(ctx, "panic while deciding",
					"panic", p, "experiment", ref, "visitor_id", req.VisitorID)
				done <- outcome{decision: domain.Disabled(req.ExperimentID, domain.ReasonInternalError), key: req.ExperimentKey}
			}
		}()
		done <- s.decide(ctx, ref, req)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "decision timed out",
			"experiment", ref, "visitor_id", req.VisitorID, "timeout", s.opts.Timeout)
		return outcome{decision: domain.Disabled(req.ExperimentID, domain.ReasonTimeout), key: req.ExperimentKey}
	}
}

func (s *Service) decide(ctx context.Context, ref string, req Request) outcome {
	exp, err := s.experiments.Cached(ctx, ref)
	if err != nil {
		return outcome{decision: domain.Disabled(req.ExperimentID, s.reasonFor(ctx, err, ref)), key: req.ExperimentKey}
	}

	d, err := s.resolver.Decide(ctx, exp, resolver.Request{
		VisitorID: req.VisitorID,
		UserID:    req.UserID,
		Context:   req.Context,
	})
	if err != nil {
		reason := domain.ReasonInternalError
		if errors.Is(err, domain.ErrNotFound) {
			// The experiment exists; a dangling variant reference is a data fault.
			s.logger.ErrorContext(ctx, "assignment references a missing variant", "error", err, "experiment", ref)
		} else {
			reason = s.reasonFor(ctx, err, ref)
		}
		d = domain.Disabled(exp.ID, reason)
	}
	return outcome{decision: d, key: exp.Key}
}

func (s *Service) reasonFor(ctx context.Context, err error, ref string) domain.Reason {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.ReasonExperimentNotFound
	case errors.Is(err, domain.ErrNoVariantsConfigured):
		return domain.ReasonNoVariantsConfigured
	case errors.Is(err, domain.ErrValidation):
		return domain.ReasonInvalidRequest
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return domain.ReasonTimeout
	}
	s.logger.ErrorContext(ctx, "decision failed", "error", err, "experiment", ref)
	return domain.ReasonInternalError
}

// Track queues an event for the visitor's assigned variant. It reports
// whether the event was accepted or dropped because the buffer was full.
func (s *Service) Track(ctx context.Context, req TrackRequest) (bool, error) {
	kind, err := domain.ParseEventKind(req.Type)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(req.VisitorID) == "" {
		return false, fmt.Errorf("%w: visitor_id is required", domain.ErrInvalidRequest)
	}

	exp, err := s.experiments.Cached(ctx, req.ExperimentID)
	if err != nil {
		return false, err
	}
	assignment, _, err := s.resolver.Lookup(ctx, exp, req.VisitorID)
	if err != nil {
		return false, err
	}

	event := s.newEvent(kind, exp.ID, assignment.VariantID, req.VisitorID)
	if s.ingestor == nil {
		if err := s.ledger.Append(ctx, event); err != nil {
			return false, fmt.Errorf("failed to append event: %w", err)
		}
		return true, nil
	}
	return s.ingestor.Enqueue(ctx, event), nil
}

// Lookup returns a visitor's existing assignment regardless of the
// experiment's status.
func (s *Service) Lookup(ctx context.Context, idOrKey, visitorID string) (*domain.Assignment, *domain.Variant, error) {
	exp, err := s.experiments.Get(ctx, idOrKey)
	if err != nil {
		return nil, nil, err
	}
	return s.resolver.Lookup(ctx, exp, visitorID)
}

// Stats reads the counters and analyses them. Variants without events are
// reported with zero counts.
func (s *Service) Stats(ctx context.Context, idOrKey string) (*StatsReport, error) {
	exp, err := s.experiments.Get(ctx, idOrKey)
	if err != nil {
		return nil, err
	}
	stored, err := s.ledger.Counts(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read counts: %w", err)
	}

	byVariant := make(map[string]domain.VariantCounts, len(stored))
	for _, c := range stored {
		byVariant[c.VariantID] = c
	}

	control := exp.Control()
	var controlID string
	if control != nil {
		controlID = control.ID
	}

	// Control first, then the other variants in position order.
	counts := make([]domain.VariantCounts, 0, len(exp.Variants))
	if control != nil {
		counts = append(counts, countsFor(byVariant, exp.ID, control.ID))
	}
	for _, v := range exp.Variants {
		if v.ID != controlID {
			counts = append(counts, countsFor(byVariant, exp.ID, v.ID))
		}
	}

	return &StatsReport{
		Experiment: exp,
		Counts:     counts,
		Report:     stats.Analyze(controlID, counts, s.opts.Stats),
	}, nil
}

func countsFor(byVariant map[string]domain.VariantCounts, experimentID, variantID string) domain.VariantCounts {
	if c, ok := byVariant[variantID]; ok {
		return c
	}
	return domain.VariantCounts{ExperimentID: experimentID, VariantID: variantID}
}

func (s *Service) newEvent(kind domain.EventKind, experimentID, variantID, visitorID string) *domain.Event {
	return &domain.Event{
		ID:           uuid.New().String(),
		Kind:         kind,
		ExperimentID: experimentID,
		VariantID:    variantID,
		VisitorID:    visitorID,
		OccurredAt:   s.now(),
	}
}
