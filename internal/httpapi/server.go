// Package httpapi exposes the run service over HTTP. Runs are created,
// watched, cancelled, and resumed through a small JSON API; live progress
// additionally streams over a websocket.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/openquant/backtest/internal/config"
	"github.com/openquant/backtest/internal/domain"
	"github.com/openquant/backtest/internal/logger"
	"github.com/openquant/backtest/internal/service"
	"github.com/openquant/backtest/internal/store"
)

// Server wires the run service into a gin router.
type Server struct {
	svc  *service.Service
	cfg  config.Server
	log  *logger.Logger
	http *http.Server
}

// NewServer builds the router and middleware stack.
func NewServer(svc *service.Service, cfg config.Server) *Server {
	s := &Server{
		svc: svc,
		cfg: cfg,
		log: logger.Component("httpapi"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), rateLimit(cfg.RateLimit, cfg.RateBurst))

	router.GET("/healthz", s.handleHealth)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/runs", s.handleCreateRun)
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id/progress", s.handleProgress)
		v1.GET("/runs/:id/progress/ws", s.handleProgressWS)
		v1.GET("/runs/:id/result", s.handleResult)
		v1.POST("/runs/:id/cancel", s.handleCancel)
		v1.POST("/runs/:id/resume", s.handleResume)
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the full middleware chain, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start blocks serving requests until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// createRunRequest is the body of POST /runs. It maps one to one onto the
// run config snapshot.
type createRunRequest struct {
	domain.RunConfig
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	run, err := s.svc.CreateRun(c.Request.Context(), req.RunConfig)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			writeError(c, http.StatusUnprocessableEntity, "validation_error", verr.Reason)
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (s *Server) handleListRuns(c *gin.Context) {
	status := domain.RunStatus(c.Query("status"))
	runs, err := s.svc.ListRuns(c.Request.Context(), status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleProgress(c *gin.Context) {
	p, err := s.svc.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleResult(c *gin.Context) {
	res, err := s.svc.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCancel(c *gin.Context) {
	err := s.svc.CancelRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrAlreadyTerminal) {
			writeError(c, http.StatusConflict, "already_terminal", "run is already in a terminal state")
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (s *Server) handleResume(c *gin.Context) {
	run, err := s.svc.ResumeRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotResumable) {
			writeError(c, http.StatusConflict, "not_resumable", "run is not an interrupted run with a checkpoint")
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

// fail maps store and service errors onto HTTP responses.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", "run not found")
	case errors.Is(err, store.ErrTerminal):
		writeError(c, http.StatusConflict, "already_terminal", "run is already in a terminal state")
	default:
		s.log.Error("request failed", "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}
