// Package api serves the conversational analytics HTTP API: chat turns,
// session resets, schema introspection and the artifact files the agent
// produces.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/omixlabs/seqdesk/internal/metrics"
	"github.com/omixlabs/seqdesk/pkg/agent"
	"github.com/omixlabs/seqdesk/pkg/session"
	"github.com/omixlabs/seqdesk/pkg/store"
)

const (
	DefaultListenAddr        = ":8080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
)

// Agent is the slice of the orchestrator the handlers use.
type Agent interface {
	Ask(ctx context.Context, sess *session.Session, question string, output io.Writer) (*agent.TurnResult, error)
	Reset(sess *session.Session)
}

type Config struct {
	Logger   *slog.Logger
	Agent    Agent
	Sessions *session.Registry
	Store    *store.Store

	// PlotsDir and ReportsDir are served under /artifacts/.
	PlotsDir   string
	ReportsDir string

	// ListenAddr defaults to DefaultListenAddr.
	ListenAddr string

	// AllowedOrigins enables CORS for browser front ends when non-empty.
	AllowedOrigins []string

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Agent == nil {
		return errors.New("agent is required")
	}
	if c.Sessions == nil {
		return errors.New("session registry is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.PlotsDir == "" {
		return errors.New("plots directory is required")
	}
	if c.ReportsDir == "" {
		return errors.New("reports directory is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}

type Server struct {
	log  *slog.Logger
	cfg  Config
	http *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{log: cfg.Logger, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Post("/api/chat", s.handleChat)
	r.Post("/api/reset", s.handleReset)
	r.Get("/api/schema", s.handleSchema)
	r.Get("/artifacts/plots/{name}", s.handlePlot)
	r.Get("/artifacts/reports/{name}", s.handleReport)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		// Chat turns may legitimately run for the full wall-clock budget.
		WriteTimeout:   3 * time.Minute,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.cfg.Sessions.Start(ctx)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("api: http server listening", "listenAddr", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("api: stopping", "reason", ctx.Err())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	case err := <-serveErrCh:
		s.log.Error("api: http server error causing shutdown", "error", err)
		return err
	}
}
