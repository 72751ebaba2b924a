// Package server exposes the orchestrator over HTTP and streams bus events
// over a websocket. The surface is deliberately thin: it forwards to the
// orchestrator's idempotent methods and never mutates state from a read.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/autarch-dev/autarch-sub002/internal/approval"
	"github.com/autarch-dev/autarch-sub002/internal/config"
	"github.com/autarch-dev/autarch-sub002/internal/events"
	"github.com/autarch-dev/autarch-sub002/internal/logging"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/domain"
	"github.com/autarch-dev/autarch-sub002/internal/orchestrator/ports"
)

// Server is the HTTP/WS delivery surface.
type Server struct {
	cfg       config.ServerConfig
	orch      *orchestrator.Orchestrator
	repos     ports.Repositories
	approvals *approval.Service
	bus       *events.Bus
	logger    logging.Logger
	engine    *gin.Engine
}

// New builds the router.
func New(cfg config.ServerConfig, orch *orchestrator.Orchestrator, repos ports.Repositories,
	approvals *approval.Service, bus *events.Bus, logger logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:       cfg,
		orch:      orch,
		repos:     repos,
		approvals: approvals,
		bus:       bus,
		logger:    logging.OrNop(logger),
		engine:    gin.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(cors.Default())

	s.engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/ws", s.handleWebsocket)

	api := s.engine.Group("/api")
	{
		api.POST("/workflows", s.createWorkflow)
		api.GET("/workflows", s.listWorkflows)
		api.GET("/workflows/:id", s.getWorkflow)
		api.DELETE("/workflows/:id", s.deleteWorkflow)
		api.POST("/workflows/:id/approve", s.approveArtifact)
		api.POST("/workflows/:id/request-changes", s.requestChanges)
		api.POST("/workflows/:id/retry-pulse", s.retryPulse)
		api.GET("/workflows/:id/pulses", s.listPulses)
		api.GET("/workflows/:id/comments", s.listReviewComments)

		api.POST("/sessions/:id/messages", s.sendMessage)
		api.GET("/sessions/:id/history", s.sessionHistory)

		api.POST("/channels/:id", s.createChannel)
		api.DELETE("/channels/:id", s.deleteChannel)
		api.POST("/channels/:id/messages", s.channelMessage)

		api.POST("/workflows/:id/approvals/:toolId", s.resolveApproval)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.engine}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening on %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) createWorkflow(c *gin.Context) {
	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
		Prompt      string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wf, err := s.orch.CreateWorkflow(c.Request.Context(), orchestrator.CreateWorkflowRequest{
		Title:       body.Title,
		Description: body.Description,
		Priority:    domain.Priority(body.Priority),
		Prompt:      body.Prompt,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, wf)
}

func (s *Server) listWorkflows(c *gin.Context) {
	workflows, err := s.repos.Workflows.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

func (s *Server) getWorkflow(c *gin.Context) {
	wf, err := s.repos.Workflows.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ports.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) deleteWorkflow(c *gin.Context) {
	if err := s.orch.DeleteWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ports.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) approveArtifact(c *gin.Context) {
	var body struct {
		Path          string `json:"path"`
		MergeStrategy string `json:"merge_strategy"`
		CommitMessage string `json:"commit_message"`
	}
	// An empty or absent body is a plain approval.
	_ = c.ShouldBindJSON(&body)
	err := s.orch.ApproveArtifact(c.Request.Context(), c.Param("id"), orchestrator.ApprovalOptions{
		Path:          domain.RecommendedPath(body.Path),
		MergeStrategy: domain.MergeStrategy(body.MergeStrategy),
		CommitMessage: body.CommitMessage,
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"approved": true})
}

func (s *Server) requestChanges(c *gin.Context) {
	var body struct {
		Feedback string `json:"feedback" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.RequestChanges(c.Request.Context(), c.Param("id"), body.Feedback); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requested": true})
}

func (s *Server) retryPulse(c *gin.Context) {
	if err := s.orch.RetryPulse(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": true})
}

func (s *Server) listPulses(c *gin.Context) {
	pulses, err := s.repos.Pulses.GetPulsesForWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pulses": pulses})
}

func (s *Server) listReviewComments(c *gin.Context) {
	card, err := s.repos.Artifacts.LatestReviewCard(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ports.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"comments": []any{}})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	comments, err := s.repos.Artifacts.ListReviewComments(c.Request.Context(), card.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"review_card": card, "comments": comments})
}

func (s *Server) sendMessage(c *gin.Context) {
	var body struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.SendMessage(c.Request.Context(), c.Param("id"), body.Content); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (s *Server) sessionHistory(c *gin.Context) {
	turns, err := s.repos.Conversations.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"turns": turns})
}

func (s *Server) createChannel(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	_ = c.ShouldBindJSON(&body)
	s.orch.CreateChannel(c.Param("id"), body.Name)
	c.JSON(http.StatusCreated, gin.H{"channel_id": c.Param("id")})
}

func (s *Server) deleteChannel(c *gin.Context) {
	s.orch.DeleteChannel(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) channelMessage(c *gin.Context) {
	var body struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.orch.StartChannelSession(c.Request.Context(), c.Param("id"), body.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sess.ID})
}

func (s *Server) resolveApproval(c *gin.Context) {
	var body struct {
		Approved   bool   `json:"approved"`
		DenyReason string `json:"deny_reason"`
		Remember   bool   `json:"remember"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.approvals.Resolve(c.Param("id"), c.Param("toolId"), approval.Decision{
		Approved:   body.Approved,
		DenyReason: body.DenyReason,
		Remember:   body.Remember,
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}
