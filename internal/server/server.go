// Package server exposes the HTTP surface: webhook admission, the drafts
// REST API, the live WebSocket channel, and health endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triagebot/triage/internal/hub"
	"github.com/triagebot/triage/internal/registry"
	"github.com/triagebot/triage/internal/types"
)

// Pipeline drives one admitted issue to a terminal state.
type Pipeline interface {
	Run(ctx context.Context, issue *types.Issue) *types.PipelineState
}

// CommandRouter applies a parsed slash command to a tracked draft.
type CommandRouter interface {
	Handle(ctx context.Context, cmd *types.Command, issueKey, repo string)
}

// Commenter posts comments to the issue tracker. Nil in dashboard-only
// deployments without a tracker token.
type Commenter interface {
	PostComment(ctx context.Context, repo string, issueNumber int, body string) (int64, error)
}

// Config wires the server's collaborators.
type Config struct {
	WebhookSecret string
	Registry      *registry.Registry
	Pipeline      Pipeline
	Router        CommandRouter
	Commenter     Commenter
	Hub           *hub.Hub

	// DedupCapacity bounds the remembered delivery keys (0 = 1024)
	DedupCapacity int

	Logger *slog.Logger
}

// Server is the HTTP front of the triage service.
type Server struct {
	secret    string
	registry  *registry.Registry
	pipeline  Pipeline
	router    CommandRouter
	commenter Commenter
	hub       *hub.Hub
	dedup     *dedupSet
	log       *slog.Logger
	engine    *gin.Engine
}

// New builds the server and its route table.
func New(cfg Config) (*Server, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	if cfg.Registry == nil || cfg.Pipeline == nil || cfg.Router == nil || cfg.Hub == nil {
		return nil, fmt.Errorf("registry, pipeline, router, and hub are required")
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		secret:    cfg.WebhookSecret,
		registry:  cfg.Registry,
		pipeline:  cfg.Pipeline,
		router:    cfg.Router,
		commenter: cfg.Commenter,
		hub:       cfg.Hub,
		dedup:     newDedupSet(cfg.DedupCapacity),
		log:       cfg.Logger,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/", s.handleBanner)
	engine.GET("/health", s.handleHealth)
	engine.POST("/webhook/github", s.handleWebhook)
	engine.GET("/ws", s.handleWebSocket)

	api := engine.Group("/api")
	{
		api.GET("/drafts/pending", s.handlePendingDrafts)
		api.GET("/drafts/:id", s.handleGetDraft)
		api.POST("/drafts/:id/approve", s.handleApproveDraft)
		api.POST("/drafts/:id/reject", s.handleRejectDraft)
		api.POST("/drafts/:id/edit-approve", s.handleEditApproveDraft)
		api.GET("/issues", s.handleListIssues)
	}

	s.engine = engine
	return s, nil
}

// Handler exposes the route table for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleBanner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "github-issue-triage",
		"status":  "running",
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"connections": s.hub.Count(),
	})
}
