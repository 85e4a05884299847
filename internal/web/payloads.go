package web

import (
	"encoding/json"
	"time"

	"github.com/emiliopalmerini/splitd/internal/decision"
	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/stats"
)

type variantPayload struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

func newVariantPayload(v *domain.Variant) *variantPayload {
	if v == nil {
		return nil
	}
	return &variantPayload{ID: v.ID, Key: v.Key, Name: v.Name, Config: v.Config}
}

// decisionResponse is the SDK wire format. isNewAssignment is camel-cased
// for compatibility with existing clients.
type decisionResponse struct {
	ExperimentID    string          `json:"experiment_id"`
	Enabled         bool            `json:"enabled"`
	Variant         *variantPayload `json:"variant"`
	IsNewAssignment bool            `json:"isNewAssignment"`
	Reason          domain.Reason   `json:"reason,omitempty"`
}

func newDecisionResponse(d *domain.Decision) decisionResponse {
	return decisionResponse{
		ExperimentID:    d.ExperimentID,
		Enabled:         d.Enabled,
		Variant:         newVariantPayload(d.Variant),
		IsNewAssignment: d.IsNewAssignment,
		Reason:          d.Reason,
	}
}

type variantDetail struct {
	ID                string          `json:"id"`
	Key               string          `json:"key"`
	Name              string          `json:"name"`
	TrafficPercentage float64         `json:"traffic_percentage"`
	Config            json.RawMessage `json:"config"`
	IsControl         bool            `json:"is_control"`
	Position          int             `json:"position"`
}

type experimentResponse struct {
	ID                string          `json:"id"`
	Key               string          `json:"key"`
	Name              string          `json:"name"`
	Description       *string         `json:"description,omitempty"`
	Status            domain.Status   `json:"status"`
	TrafficAllocation float64         `json:"traffic_allocation"`
	Variants          []variantDetail `json:"variants"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	EndedAt           *time.Time      `json:"ended_at,omitempty"`
}

func newVariantDetail(v domain.Variant) variantDetail {
	return variantDetail{
		ID:                v.ID,
		Key:               v.Key,
		Name:              v.Name,
		TrafficPercentage: v.TrafficPercentage,
		Config:            v.Config,
		IsControl:         v.IsControl,
		Position:          v.Position,
	}
}

func newExperimentResponse(e *domain.Experiment) experimentResponse {
	variants := make([]variantDetail, 0, len(e.Variants))
	for _, v := range e.Variants {
		variants = append(variants, newVariantDetail(v))
	}
	return experimentResponse{
		ID:                e.ID,
		Key:               e.Key,
		Name:              e.Name,
		Description:       e.Description,
		Status:            e.Status,
		TrafficAllocation: e.TrafficAllocation,
		Variants:          variants,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
		StartedAt:         e.StartedAt,
		EndedAt:           e.EndedAt,
	}
}

type assignmentResponse struct {
	ExperimentID string          `json:"experiment_id"`
	VisitorID    string          `json:"visitor_id"`
	UserID       *string         `json:"user_id,omitempty"`
	Variant      *variantPayload `json:"variant"`
	Context      map[string]any  `json:"context,omitempty"`
	AssignedAt   time.Time       `json:"assigned_at"`
}

type intervalPayload struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

type variantStats struct {
	VariantID      string  `json:"variant_id"`
	VariantKey     string  `json:"variant_key"`
	IsControl      bool    `json:"is_control"`
	Exposures      int64   `json:"exposures"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	// LiftVsControl is null for the control and when the control rate is 0.
	LiftVsControl      *float64        `json:"lift_vs_control"`
	ZScore             float64         `json:"z_score"`
	PValue             float64         `json:"p_value"`
	Confidence         float64         `json:"confidence"`
	IsSignificant      bool            `json:"is_significant"`
	DifferenceInterval intervalPayload `json:"difference_interval"`
	Status             stats.Status    `json:"status"`
}

type statsResponse struct {
	ExperimentID        string         `json:"experiment_id"`
	ExperimentKey       string         `json:"experiment_key"`
	ExperimentStatus    domain.Status  `json:"experiment_status"`
	Status              stats.Status   `json:"status"`
	ControlVariantID    string         `json:"control_variant_id"`
	WinnerVariantID     *string        `json:"winner_variant_id"`
	MinSampleSize       int64          `json:"min_sample_size"`
	ConfidenceThreshold float64        `json:"confidence_threshold"`
	Variants            []variantStats `json:"variants"`
}

func newStatsResponse(r *decision.StatsReport) statsResponse {
	resp := statsResponse{
		ExperimentID:        r.Experiment.ID,
		ExperimentKey:       r.Experiment.Key,
		ExperimentStatus:    r.Experiment.Status,
		Status:              r.Report.Status,
		ControlVariantID:    r.Report.ControlID,
		MinSampleSize:       r.Report.Options.MinSampleSize,
		ConfidenceThreshold: r.Report.Options.ConfidenceThreshold,
		Variants:            make([]variantStats, 0, len(r.Report.Variants)),
	}
	if r.Report.WinnerID != "" {
		winner := r.Report.WinnerID
		resp.WinnerVariantID = &winner
	}

	for _, v := range r.Report.Variants {
		row := variantStats{
			VariantID:      v.VariantID,
			IsControl:      v.IsControl,
			Exposures:      v.Exposures,
			Conversions:    v.Conversions,
			ConversionRate: v.ConversionRate,
			ZScore:         v.ZScore,
			PValue:         v.PValue,
			Confidence:     v.Confidence,
			IsSignificant:  v.Significant,
			DifferenceInterval: intervalPayload{
				Lower: v.Difference.Lower,
				Upper: v.Difference.Upper,
				Level: v.Difference.Level,
			},
			Status: v.Status,
		}
		if variant := r.Experiment.VariantByID(v.VariantID); variant != nil {
			row.VariantKey = variant.Key
		}
		if !v.IsControl && v.LiftDefined {
			lift := v.Lift
			row.LiftVsControl = &lift
		}
		resp.Variants = append(resp.Variants, row)
	}
	return resp
}
