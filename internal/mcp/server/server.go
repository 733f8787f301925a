// Package server exposes the study tools over the Model Context Protocol
// so external MCP clients can query, introspect and chart the study
// database directly.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/omixlabs/seqdesk/internal/metrics"
	"github.com/omixlabs/seqdesk/pkg/session"
)

// Server hosts the MCP tools over stateless streamable HTTP. All callers
// share one result cache: the last stored query result is what
// render_chart and export_report operate on, exactly as in a single chat
// session.
type Server struct {
	log  *slog.Logger
	cfg  Config
	mcp  *mcp.Server
	http *http.Server
	sess *session.Session
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "seqdesk MCP Server",
		Version: cfg.Version,
	}, nil)

	s := &Server{
		log:  cfg.Logger,
		cfg:  cfg,
		mcp:  mcpServer,
		sess: session.New("mcp", nil, cfg.FreshnessWindow),
	}

	if err := RegisterQueryTool(s.log, mcpServer, cfg.Store, s.sess.Cache); err != nil {
		return nil, fmt.Errorf("failed to create query tool: %w", err)
	}
	if err := RegisterDescribeSchemaTool(s.log, mcpServer, cfg.Store); err != nil {
		return nil, fmt.Errorf("failed to create describe_schema tool: %w", err)
	}
	if err := RegisterSampleValuesTool(s.log, mcpServer, cfg.Store); err != nil {
		return nil, fmt.Errorf("failed to create sample_values tool: %w", err)
	}
	if err := RegisterRenderChartTool(s.log, mcpServer, cfg.Renderer, s.sess.Cache); err != nil {
		return nil, fmt.Errorf("failed to create render_chart tool: %w", err)
	}
	if err := RegisterExportReportTool(s.log, mcpServer, cfg.Exporter, s.sess.Cache); err != nil {
		return nil, fmt.Errorf("failed to create export_report tool: %w", err)
	}

	mux := http.NewServeMux()
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{
		Stateless: true, // Auto-initialize sessions, no manual initialize required
	})

	metricsHandler := metrics.HTTPMiddleware(handler)
	if len(cfg.AllowedTokens) > 0 {
		mux.Handle("/", s.authMiddleware(metricsHandler))
	} else {
		mux.Handle("/", metricsHandler)
	}

	mux.Handle("/healthz", metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	})))
	mux.Handle("/readyz", metrics.HTTPMiddleware(http.HandlerFunc(s.readyzHandler)))

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	return s, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: mcp streamable http listening",
		"listenAddr", s.cfg.ListenAddr,
	)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping",
			"reason", ctx.Err(),
			"listenAddr", s.cfg.ListenAddr,
		)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: HTTP server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown",
			"error", err,
			"listenAddr", s.cfg.ListenAddr,
		)
		return err
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Ping(r.Context()); err != nil {
		s.log.Debug("readyz: store not ready", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("study database not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

// authMiddleware wraps an HTTP handler with Bearer token authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			metrics.AuthFailuresTotal.WithLabelValues("missing_header").Inc()
			s.unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			metrics.AuthFailuresTotal.WithLabelValues("invalid_format").Inc()
			s.unauthorized(w, "invalid authorization header format")
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			metrics.AuthFailuresTotal.WithLabelValues("empty_token").Inc()
			s.unauthorized(w, "empty token")
			return
		}

		allowed := false
		for _, allowedToken := range s.cfg.AllowedTokens {
			if token == allowedToken {
				allowed = true
				break
			}
		}
		if !allowed {
			metrics.AuthFailuresTotal.WithLabelValues("invalid_token").Inc()
			s.unauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("WWW-Authenticate", `Bearer`)
	w.WriteHeader(http.StatusUnauthorized)
	if _, err := w.Write([]byte("unauthorized: " + reason + "\n")); err != nil {
		s.log.Error("failed to write auth error response", "error", err)
	}
}
