package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/emiliopalmerini/splitd/internal/decision"
	"github.com/emiliopalmerini/splitd/internal/domain"
)

type decideRequest struct {
	ExperimentID  string         `json:"experiment_id"`
	ExperimentKey string         `json:"experiment_key"`
	VisitorID     string         `json:"visitor_id"`
	UserID        *string        `json:"user_id"`
	Context       map[string]any `json:"context"`
}

type decideQuery struct {
	ExperimentID  string `form:"experiment_id"`
	ExperimentKey string `form:"experiment_key"`
	VisitorID     string `form:"visitor_id"`
	UserID        string `form:"user_id"`
	Context       string `form:"context"`
}

func (s *Server) handlePostDecide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderDecision(c, domain.Disabled("", domain.ReasonInvalidRequest))
		return
	}
	s.decide(c, req)
}

// handleGetDecide accepts the same fields as the POST body as query
// parameters; context is a JSON object.
func (s *Server) handleGetDecide(c *gin.Context) {
	var q decideQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.renderDecision(c, domain.Disabled("", domain.ReasonInvalidRequest))
		return
	}

	req := decideRequest{
		ExperimentID:  q.ExperimentID,
		ExperimentKey: q.ExperimentKey,
		VisitorID:     q.VisitorID,
		UserID:        &q.UserID,
	}
	if q.Context != "" {
		if err := json.Unmarshal([]byte(q.Context), &req.Context); err != nil {
			s.renderDecision(c, domain.Disabled("", domain.ReasonInvalidRequest))
			return
		}
	}
	s.decide(c, req)
}

// decide runs a parsed request. A blank user_id is treated as absent.
func (s *Server) decide(c *gin.Context, req decideRequest) {
	if req.UserID != nil && strings.TrimSpace(*req.UserID) == "" {
		req.UserID = nil
	}
	d := s.decisions.Decide(c.Request.Context(), decision.Request{
		ExperimentID:  req.ExperimentID,
		ExperimentKey: req.ExperimentKey,
		VisitorID:     req.VisitorID,
		UserID:        req.UserID,
		Context:       req.Context,
	})
	s.renderDecision(c, d)
}

func (s *Server) renderDecision(c *gin.Context, d *domain.Decision) {
	status := http.StatusOK
	if d.Reason == domain.ReasonInvalidRequest {
		status = http.StatusBadRequest
	}
	c.JSON(status, newDecisionResponse(d))
}

type trackRequest struct {
	Type         string `json:"type"`
	ExperimentID string `json:"experiment_id"`
	VisitorID    string `json:"visitor_id"`
}

func (s *Server) handleTrack(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	accepted, err := s.decisions.Track(c.Request.Context(), decision.TrackRequest{
		Type:         req.Type,
		ExperimentID: req.ExperimentID,
		VisitorID:    req.VisitorID,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

func (s *Server) handleStats(c *gin.Context) {
	report, err := s.decisions.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newStatsResponse(report))
}

func (s *Server) handleLookup(c *gin.Context) {
	assignment, variant, err := s.decisions.Lookup(c.Request.Context(), c.Param("id"), c.Param("visitor"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignmentResponse{
		ExperimentID: assignment.ExperimentID,
		VisitorID:    assignment.VisitorID,
		UserID:       assignment.UserID,
		Variant:      newVariantPayload(variant),
		Context:      assignment.Context,
		AssignedAt:   assignment.AssignedAt,
	})
}
