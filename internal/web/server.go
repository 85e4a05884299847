// Package web exposes the decision, event, statistics and registry API over
// HTTP.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/emiliopalmerini/splitd/internal/decision"
	"github.com/emiliopalmerini/splitd/internal/registry"
)

const serviceName = "splitd"

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg       Config
	router    *gin.Engine
	decisions *decision.Service
	registry  *registry.Registry
	metrics   http.Handler
	logger    *slog.Logger
}

// NewServer wires the routes. metrics may be nil, in which case /metrics is
// not registered.
func NewServer(
	cfg Config,
	decisions *decision.Service,
	reg *registry.Registry,
	metrics http.Handler,
	logger *slog.Logger,
) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		router:    gin.New(),
		decisions: decisions,
		registry:  reg,
		metrics:   metrics,
		logger:    logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(serviceName))
	s.router.Use(requestLogger(s.logger))

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.router.Group("/v1")

	// SDK surface
	v1.POST("/decide", s.handlePostDecide)
	v1.GET("/decide", s.handleGetDecide)
	v1.POST("/events", s.handleTrack)

	// Registry
	v1.GET("/experiments", s.handleListExperiments)
	v1.POST("/experiments", s.handleCreateExperiment)
	v1.GET("/experiments/:id", s.handleGetExperiment)
	v1.POST("/experiments/:id/variants", s.handleAddVariant)
	v1.POST("/experiments/:id/start", s.handleTransition(s.registry.Start))
	v1.POST("/experiments/:id/pause", s.handleTransition(s.registry.Pause))
	v1.POST("/experiments/:id/complete", s.handleTransition(s.registry.Complete))
	v1.PUT("/experiments/:id/traffic", s.handleSetTraffic)

	// Reporting
	v1.GET("/experiments/:id/stats", s.handleStats)
	v1.GET("/experiments/:id/assignments/:visitor", s.handleLookup)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server", "addr", s.cfg.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown error", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
