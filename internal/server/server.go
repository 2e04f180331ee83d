// File: internal/server/server.go
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/config"
	"github.com/AGmitmanipal/MINDMESH/internal/runner"
)

// StepResolver produces one validated planning step. Satisfied by
// planner.Resolver.
type StepResolver interface {
	ResolveStep(ctx context.Context, req schemas.InferenceRequest) schemas.StepResult
}

// RunControl is the runner surface the HTTP layer needs.
type RunControl interface {
	Start(ctx context.Context, goal, startURL string, tabID int) (string, error)
	Stop(runID string) error
	Status() runner.RunStatus
}

// MemoryReader serves persisted run memory. Satisfied by the storage
// collaborator; nil when persistence is disabled.
type MemoryReader interface {
	GetMemoryNodes(ctx context.Context, runID string) ([]schemas.MemoryRecord, error)
}

// Server is the HTTP request layer wrapping the resolution chain and the run
// state machine.
type Server struct {
	cfg      config.ServerConfig
	resolver StepResolver
	runs     RunControl
	memory   MemoryReader
	logger   *zap.Logger
	engine   *gin.Engine
}

// NewServer builds the router. The caller starts it with Run. memory may be
// nil; the memory endpoint then reports persistence as unavailable.
func NewServer(cfg config.ServerConfig, resolver StepResolver, runs RunControl, memory MemoryReader, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		runs:     runs,
		memory:   memory,
		logger:   logger.Named("server"),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(s.requestLogger(), gin.Recovery())

	engine.GET("/healthz", s.handleHealth)

	agent := engine.Group("/api/v1/agent")
	{
		agent.POST("/plan", s.handlePlan)
		agent.POST("/start", s.handleStart)
		agent.POST("/stop", s.handleStop)
		agent.GET("/status", s.handleStatus)
		agent.GET("/memory/:runId", s.handleMemory)
	}

	s.engine = engine
	return s
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until ctx is canceled, then drains within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// requestLogger is a minimal zap access-log middleware.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
