// File: internal/server/handlers.go
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/runner"
)

// maxPlanStep bounds the step counter a caller may claim.
const maxPlanStep = 100

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "online"})
}

// handlePlan serves one planning step. The resolution chain is total, so the
// only 500-class outcome is a panic below it; that still answers with a
// terminal plan payload rather than a bare error page.
func (s *Server) handlePlan(c *gin.Context) {
	var req schemas.PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("malformed plan request: %v", err)})
		return
	}

	if strings.TrimSpace(req.Goal) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "goal must not be empty"})
		return
	}
	if req.Step < 0 || req.Step > maxPlanStep {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("step must be between 0 and %d", maxPlanStep)})
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("plan handler panicked", zap.Any("panic", rec))
			c.JSON(http.StatusInternalServerError, schemas.PlanResponse{
				Ok:     false,
				Done:   true,
				Reason: "internal planner failure",
			})
		}
	}()

	result := s.resolver.ResolveStep(c.Request.Context(), schemas.InferenceRequest{
		Goal:            req.Goal,
		Step:            req.Step,
		Allowlist:       req.AllowlistDomains,
		Snapshot:        req.Snapshot,
		History:         req.History,
		ModelPreference: req.ModelPreference,
	})

	c.JSON(http.StatusOK, schemas.PlanResponse{
		Ok:     true,
		Done:   result.Done,
		Action: result.Action,
		Reason: result.Reason,
	})
}

type startRequest struct {
	Goal     string `json:"goal"`
	StartURL string `json:"startUrl"`
	TabID    int    `json:"tabId"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("malformed start request: %v", err)})
		return
	}

	runID, err := s.runs.Start(c.Request.Context(), req.Goal, req.StartURL, req.TabID)
	switch {
	case errors.Is(err, runner.ErrEmptyGoal):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, runner.ErrAgentDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, runner.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Error("run start failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"runId": runID})
	}
}

type stopRequest struct {
	RunID string `json:"runId"`
}

func (s *Server) handleStop(c *gin.Context) {
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("malformed stop request: %v", err)})
		return
	}

	if err := s.runs.Stop(req.RunID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true, "runId": req.RunID})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.runs.Status())
}

// handleMemory serves a run's persisted memory records in step order.
func (s *Server) handleMemory(c *gin.Context) {
	if s.memory == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "memory persistence is not configured"})
		return
	}

	runID := strings.TrimSpace(c.Param("runId"))
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "runId must not be empty"})
		return
	}

	nodes, err := s.memory.GetMemoryNodes(c.Request.Context(), runID)
	if err != nil {
		s.logger.Error("memory lookup failed", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run memory"})
		return
	}
	if nodes == nil {
		nodes = []schemas.MemoryRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"runId": runID, "nodes": nodes})
}
