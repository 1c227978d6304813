// Package playground exposes a running agent over HTTP: metrics, learned
// patterns, state import/export, stored episodes and a live event stream.
package playground

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"rlvr/internal/agents"
	"rlvr/internal/evaluation"
	"rlvr/internal/models"
	"rlvr/internal/monitoring"
	"rlvr/internal/training"
)

// EpisodeStore is the read side of the database store.
type EpisodeStore interface {
	ListEpisodes(ctx context.Context, runID string, limit int) ([]models.EpisodeRecord, error)
}

// Options wires the server to the components it reports on. Agent and
// Monitor are required; the rest enable optional routes.
type Options struct {
	Agent     *agents.Agent
	Monitor   *monitoring.Monitor
	Metrics   *evaluation.MetricsCollector
	Store     EpisodeStore
	Evaluator *evaluation.Evaluator
	Trainer   *training.Trainer

	// JWTSecret signs tokens for write routes. Without it writes are refused.
	JWTSecret string
	Logger    *slog.Logger
}

// PlaygroundServer handles HTTP and websocket requests
type PlaygroundServer struct {
	router *gin.Engine
	opts   Options
	log    *slog.Logger
}

// NewPlaygroundServer creates a new playground server instance
func NewPlaygroundServer(opts Options) *PlaygroundServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Monitor == nil {
		opts.Monitor = monitoring.NewMonitor()
	}
	s := &PlaygroundServer{
		router: gin.New(),
		opts:   opts,
		log:    logger.With("component", "playground"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *PlaygroundServer) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)
	if s.opts.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		api.GET("/metrics", s.handleMetrics)
		api.GET("/agent/metrics", s.handleAgentMetrics)
		api.GET("/agent/patterns", s.handleAgentPatterns)
		api.GET("/agent/memory", s.handleAgentMemory)
		api.GET("/agent/state", s.handleExportState)
		api.GET("/episodes", s.handleEpisodes)
		api.GET("/suites", s.handleListSuites)
	}

	write := s.router.Group("/api", AuthMiddleware(s.opts.JWTSecret))
	{
		write.POST("/agent/state", s.handleImportState)
		write.POST("/evaluate", s.handleEvaluate)
	}
}

// Router returns the Gin router
func (s *PlaygroundServer) Router() *gin.Engine {
	return s.router
}

// Handler returns the router as an http.Handler.
func (s *PlaygroundServer) Handler() http.Handler {
	return s.router
}

func (s *PlaygroundServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status())
	}
}
