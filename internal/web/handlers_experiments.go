package web

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emiliopalmerini/splitd/internal/domain"
	"github.com/emiliopalmerini/splitd/internal/registry"
)

func (s *Server) handleListExperiments(c *gin.Context) {
	experiments, err := s.registry.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make([]experimentResponse, 0, len(experiments))
	for _, e := range experiments {
		out = append(out, newExperimentResponse(e))
	}
	c.JSON(http.StatusOK, gin.H{"experiments": out})
}

func (s *Server) handleCreateExperiment(c *gin.Context) {
	var in registry.CreateExperimentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	exp, err := s.registry.CreateExperiment(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newExperimentResponse(exp))
}

func (s *Server) handleGetExperiment(c *gin.Context) {
	exp, err := s.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newExperimentResponse(exp))
}

func (s *Server) handleAddVariant(c *gin.Context) {
	var in registry.AddVariantInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	variant, err := s.registry.AddVariant(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newVariantDetail(*variant))
}

type transitionFunc func(ctx context.Context, idOrKey string) (*domain.Experiment, error)

func (s *Server) handleTransition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		exp, err := fn(c.Request.Context(), c.Param("id"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, newExperimentResponse(exp))
	}
}

type trafficRequest struct {
	TrafficAllocation *float64 `json:"traffic_allocation"`
}

func (s *Server) handleSetTraffic(c *gin.Context) {
	var req trafficRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TrafficAllocation == nil {
		badRequest(c, "traffic_allocation is required")
		return
	}

	exp, err := s.registry.SetTrafficAllocation(c.Request.Context(), c.Param("id"), *req.TrafficAllocation)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newExperimentResponse(exp))
}
