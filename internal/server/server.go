// Package server exposes the runtime over HTTP: one conversational
// endpoint driving the tick loop and two read-only visualization feeds.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"astra/internal/runtime"
)

// Server binds the HTTP surface to a runtime core.
type Server struct {
	core   *runtime.Core
	logger *zap.Logger
}

// New wraps a core. The caller owns the core's lifecycle.
func New(core *runtime.Core, logger *zap.Logger) *Server {
	return &Server{
		core:   core,
		logger: logger.With(zap.String("component", "server")),
	}
}

// SetupRouter builds the route table.
func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/chat", s.Chat)
	r.GET("/api/visualization/learning_progress", s.LearningProgress)
	r.GET("/api/visualization/reasoning_chains", s.ReasoningChains)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.SetupRouter()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

type chatResponse struct {
	Reply             string             `json:"reply"`
	EmotionState      map[string]float64 `json:"emotion_state"`
	PersonalityTraits map[string]float64 `json:"personality_traits"`
	RecentEvents      []string           `json:"recent_events"`
}

// Chat runs one message through the runtime: queue the program, advance
// one tick, render the report.
func (s *Server) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := s.core.ExecuteProgram(req.Message); err != nil {
		var parseErr *runtime.ParseError
		var execErr *runtime.ExecutionError
		switch {
		case errors.As(err, &parseErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": "I could not make sense of that instruction."})
		case errors.As(err, &execErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": "I do not have that capability yet."})
		default:
			s.logger.Error("execute failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process message"})
		}
		return
	}

	report, err := s.core.Tick()
	if err != nil {
		s.logger.Error("tick failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process message"})
		return
	}

	events := make([]string, 0, len(report.Events))
	for _, ev := range report.Events {
		events = append(events, fmt.Sprintf("[%d] %s: %s", ev.Seq, ev.Action, ev.Outcome))
	}
	c.JSON(http.StatusOK, chatResponse{
		Reply: report.Reply,
		EmotionState: map[string]float64{
			"valence":   report.Emotion.Valence,
			"arousal":   report.Emotion.Arousal,
			"dominance": report.Emotion.Dominance,
		},
		PersonalityTraits: report.Traits,
		RecentEvents:      events,
	})
}

// LearningProgress reports the trainer's accumulated counters.
func (s *Server) LearningProgress(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.Progress())
}

// ReasoningChains maps each reasoning session to its ordered steps.
func (s *Server) ReasoningChains(c *gin.Context) {
	c.JSON(http.StatusOK, s.core.ReasoningChains())
}
