package playground

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rlvr/internal/agents"
	"rlvr/internal/evaluation"
)

// SuiteInfo describes an evaluation suite.
type SuiteInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tasks       int    `json:"tasks"`
}

// EvaluationRequest asks for an agent to be measured on a suite.
type EvaluationRequest struct {
	Suite    string `json:"suite" binding:"required"`
	Attempts int    `json:"attempts"`
}

const defaultAttempts = 20

func (s *PlaygroundServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleMetrics returns the monitor snapshot
func (s *PlaygroundServer) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Monitor.GetMetrics())
}

func (s *PlaygroundServer) handleAgentMetrics(c *gin.Context) {
	if !s.requireAgent(c) {
		return
	}
	c.JSON(http.StatusOK, s.opts.Agent.GetMetrics())
}

func (s *PlaygroundServer) handleAgentPatterns(c *gin.Context) {
	if !s.requireAgent(c) {
		return
	}
	limit, ok := intQuery(c, "limit", 10)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.opts.Agent.GetTopPatterns(limit))
}

func (s *PlaygroundServer) handleAgentMemory(c *gin.Context) {
	if !s.requireAgent(c) {
		return
	}
	n, ok := intQuery(c, "n", 20)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.opts.Agent.GetRecentMemory(n))
}

func (s *PlaygroundServer) handleExportState(c *gin.Context) {
	if !s.requireAgent(c) {
		return
	}
	c.JSON(http.StatusOK, s.opts.Agent.ExportState())
}

func (s *PlaygroundServer) handleImportState(c *gin.Context) {
	if !s.requireAgent(c) {
		return
	}
	var state agents.State
	if err := c.ShouldBindJSON(&state); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.opts.Agent.ImportState(state)
	s.log.Info("agent state imported", "subject", c.GetString("subject"), "memory", len(state.Memory))
	c.JSON(http.StatusOK, s.opts.Agent.GetMetrics())
}

func (s *PlaygroundServer) handleEpisodes(c *gin.Context) {
	if s.opts.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no episode store configured"})
		return
	}
	limit, ok := intQuery(c, "limit", 50)
	if !ok {
		return
	}
	eps, err := s.opts.Store.ListEpisodes(c.Request.Context(), c.Query("run_id"), limit)
	if err != nil {
		s.log.Error("list episodes failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list episodes"})
		return
	}
	c.JSON(http.StatusOK, eps)
}

// handleListSuites returns the registered evaluation suites
func (s *PlaygroundServer) handleListSuites(c *gin.Context) {
	suites := []SuiteInfo{}
	if s.opts.Evaluator != nil {
		for _, st := range s.opts.Evaluator.Suites() {
			suites = append(suites, SuiteInfo{ID: st.ID, Name: st.Name, Description: st.Description, Tasks: len(st.Tasks)})
		}
	}
	c.JSON(http.StatusOK, suites)
}

// handleEvaluate measures the agent on a suite and records the result in
// the monitor.
func (s *PlaygroundServer) handleEvaluate(c *gin.Context) {
	if s.opts.Evaluator == nil || s.opts.Trainer == nil || s.opts.Agent == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "evaluation not configured"})
		return
	}
	var req EvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Attempts <= 0 {
		req.Attempts = defaultAttempts
	}

	res, err := s.opts.Evaluator.Evaluate(c.Request.Context(), s.opts.Trainer, s.opts.Agent.Name(), req.Suite, req.Attempts)
	switch {
	case errors.Is(err, evaluation.ErrUnknownSuite):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid suite: " + req.Suite})
		return
	case err != nil:
		s.log.Error("evaluation failed", "suite", req.Suite, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.opts.Monitor.RecordEvaluationResult(res.Agent, res.Suite, res.Metrics)
	c.JSON(http.StatusOK, res)
}

func (s *PlaygroundServer) requireAgent(c *gin.Context) bool {
	if s.opts.Agent == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no agent attached"})
		return false
	}
	return true
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
		return 0, false
	}
	return n, true
}
