// Package server exposes the update manager over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/cl4nyz/elevadores-updater/internal/update"
)

const shutdownTimeout = 10 * time.Second

// Updater is the part of update.Manager the HTTP layer drives.
type Updater interface {
	Check(ctx context.Context) *update.VersionInfo
	PerformUpdate(ctx context.Context, target update.Target) (*update.Result, error)
	State() update.State
	LastResult() *update.Result
	CurrentVersion() string
}

// HistoryLister lists recorded update attempts.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]update.Attempt, error)
}

// ApplyRequest optionally pins the release seen by a previous check.
type ApplyRequest struct {
	DownloadURL string `json:"downloadUrl"`
	Version     string `json:"version"`
}

// ApplyResponse reports a completed attempt.
type ApplyResponse struct {
	ID              string `json:"id"`
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	BackupLocation  string `json:"backupLocation"`
	FromVersion     string `json:"fromVersion"`
	ToVersion       string `json:"toVersion"`
	UpdatedFiles    int    `json:"updatedFiles"`
	SkippedFiles    int    `json:"skippedFiles"`
	RestartRequired bool   `json:"restartRequired"`
}

// StatusResponse reports the pipeline state.
type StatusResponse struct {
	State          update.State   `json:"state"`
	Busy           bool           `json:"busy"`
	CurrentVersion string         `json:"currentVersion"`
	LastResult     *update.Result `json:"lastResult,omitempty"`
}

// Server serves the update endpoints.
type Server struct {
	updater   Updater
	history   HistoryLister
	logger    *log.Logger
	onApplied func(*update.Result)
	engine    *gin.Engine

	shutdownTimeout time.Duration
	inflight        sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithHistory enables the history endpoint.
func WithHistory(h HistoryLister) Option {
	return func(s *Server) { s.history = h }
}

// WithOnApplied registers a callback run after a successful update has been
// reported to the client.
func WithOnApplied(fn func(*update.Result)) Option {
	return func(s *Server) { s.onApplied = fn }
}

// New builds the server and its gin engine.
func New(updater Updater, opts ...Option) *Server {
	s := &Server{
		updater:         updater,
		logger:          log.New(io.Discard),
		shutdownTimeout: shutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(RequestID(), Logging(s.logger), Recovery(s.logger))
	s.registerRoutes(engine)
	s.engine = engine
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	api := r.Group("/api/update")
	api.GET("/check", s.check)
	api.POST("/apply", s.apply)
	api.GET("/status", s.status)
	api.GET("/history", s.listHistory)
}

// Run listens on addr and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully. It does not return while an update attempt is running, even
// past the shutdown grace period.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown incomplete, waiting for the running update", "err", err)
	}
	s.inflight.Wait()
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "version": s.updater.CurrentVersion()})
}

func (s *Server) check(c *gin.Context) {
	c.JSON(http.StatusOK, s.updater.Check(c.Request.Context()))
}

func (s *Server) apply(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// The attempt must not be abandoned if the client goes away mid-update.
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := s.perform(ctx, update.Target{
		DownloadURL: req.DownloadURL,
		Version:     req.Version,
	})

	var rbErr *update.RollbackError
	switch {
	case errors.Is(err, update.ErrUpdateInProgress):
		respondError(c, http.StatusConflict, "update_in_progress", err.Error())
		return
	case errors.As(err, &rbErr):
		s.logger.Error("update rollback failed", "request_id", RequestIDFromContext(c), "err", err)
		respondErrorDetails(c, http.StatusInternalServerError, "rollback_failed", err.Error(), failureDetails(res))
		return
	case err != nil:
		respondErrorDetails(c, http.StatusInternalServerError, "update_failed", err.Error(), failureDetails(res))
		return
	}

	resp := ApplyResponse{
		ID:             res.ID,
		Success:        res.Success,
		Message:        res.Message,
		BackupLocation: res.BackupLocation,
		FromVersion:    res.FromVersion,
		ToVersion:      res.ToVersion,
	}
	if res.Applied != nil {
		resp.UpdatedFiles = len(res.Applied.Updated)
		resp.SkippedFiles = len(res.Applied.Skipped)
		resp.RestartRequired = true
	}
	c.JSON(http.StatusOK, resp)

	if resp.RestartRequired && s.onApplied != nil {
		go s.onApplied(res)
	}
}

// perform runs one attempt and counts it as in flight for Serve.
func (s *Server) perform(ctx context.Context, target update.Target) (*update.Result, error) {
	s.inflight.Add(1)
	defer s.inflight.Done()
	return s.updater.PerformUpdate(ctx, target)
}

// FailureDetails accompanies the error payload of a failed attempt.
type FailureDetails struct {
	ID             string   `json:"id"`
	Success        bool     `json:"success"`
	BackupLocation string   `json:"backupLocation,omitempty"`
	RolledBack     bool     `json:"rolledBack"`
	NotRestored    []string `json:"notRestored,omitempty"`
}

// failureDetails returns an untyped nil without a result, so the payload
// omits the details key.
func failureDetails(res *update.Result) any {
	if res == nil {
		return nil
	}
	return &FailureDetails{
		ID:             res.ID,
		BackupLocation: res.BackupLocation,
		RolledBack:     res.RolledBack,
		NotRestored:    res.NotRestored,
	}
}

func (s *Server) status(c *gin.Context) {
	state := s.updater.State()
	c.JSON(http.StatusOK, StatusResponse{
		State:          state,
		Busy:           state.IsBusy(),
		CurrentVersion: s.updater.CurrentVersion(),
		LastResult:     s.updater.LastResult(),
	})
}

func (s *Server) listHistory(c *gin.Context) {
	if s.history == nil {
		respondError(c, http.StatusNotFound, "history_disabled", "update history is disabled")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	attempts, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal", "failed to read history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}
