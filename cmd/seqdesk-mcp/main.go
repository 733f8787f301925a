package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "net/http/pprof"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/omixlabs/seqdesk/internal/mcp/server"
	"github.com/omixlabs/seqdesk/internal/metrics"
	"github.com/omixlabs/seqdesk/pkg/chart"
	"github.com/omixlabs/seqdesk/pkg/report"
	"github.com/omixlabs/seqdesk/pkg/session"
	"github.com/omixlabs/seqdesk/pkg/store"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8010"
	defaultMetricsAddr = "0.0.0.0:0"
	defaultDBPath      = "data/study.db"

	dbPathEnvVar = "MCP_DB_PATH"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "enable pprof server")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")

	dbPathFlag := flag.String("db", defaultDBPath, "Path to the study database file (or set MCP_DB_PATH env var)")
	dbDriverFlag := flag.String("db-driver", store.DriverSQLite, "Study database driver, sqlite3 or duckdb")
	plotsDirFlag := flag.String("plots-dir", chart.DefaultOutputDir, "Directory for rendered charts")
	reportsDirFlag := flag.String("reports-dir", report.DefaultOutputDir, "Directory for exported reports")
	freshnessFlag := flag.Duration("freshness-window", session.DefaultFreshnessWindow, "how long a retained result set stays consumable by chart and report tools")

	flag.Parse()

	// Override flags with environment variables if set
	if envPath := os.Getenv(dbPathEnvVar); envPath != "" {
		*dbPathFlag = envPath
	}

	log := newLogger(*verboseFlag)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Log which signal was received
	go func() {
		sig := <-sigCh
		log.Info("server: received signal", "signal", sig.String())
		cancel()
	}()

	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			err := http.ListenAndServe("localhost:6060", nil)
			if err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	var metricsServerErrCh = make(chan error, 1)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
				return
			}
		}()
	}

	// Parse allowed tokens from environment variable (comma-separated)
	// Auth can be explicitly disabled with MCP_AUTH_DISABLED=true
	var allowedTokens []string
	authDisabled := os.Getenv("MCP_AUTH_DISABLED") == "true"

	if authDisabled {
		log.Info("mcp server: authentication explicitly disabled")
	} else if tokensEnv := os.Getenv("MCP_ALLOWED_TOKENS"); tokensEnv != "" {
		for token := range strings.SplitSeq(tokensEnv, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				allowedTokens = append(allowedTokens, token)
			}
		}
		if len(allowedTokens) > 0 {
			log.Info("mcp server: token authentication enabled", "token_count", len(allowedTokens))
		}
	} else {
		log.Info("mcp server: authentication disabled (no tokens configured)")
	}

	st, err := store.New(store.Config{Logger: log, Driver: *dbDriverFlag, DSN: *dbPathFlag})
	if err != nil {
		return fmt.Errorf("failed to open study database: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()

	renderer, err := chart.NewRenderer(chart.Config{Logger: log, OutputDir: *plotsDirFlag})
	if err != nil {
		return fmt.Errorf("failed to create chart renderer: %w", err)
	}

	exporter, err := report.NewExporter(report.Config{Logger: log, OutputDir: *reportsDirFlag})
	if err != nil {
		return fmt.Errorf("failed to create report exporter: %w", err)
	}

	server, err := server.New(server.Config{
		Logger:          log,
		Store:           st,
		Renderer:        renderer,
		Exporter:        exporter,
		Version:         version,
		ListenAddr:      *listenAddrFlag,
		AllowedTokens:   allowedTokens,
		FreshnessWindow: *freshnessFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		err := server.Run(ctx)
		if err != nil {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("server: shutting down", "reason", ctx.Err())
		return nil
	case err := <-serverErrCh:
		log.Error("server: server error causing shutdown", "error", err)
		return err
	case err := <-metricsServerErrCh:
		log.Error("server: metrics server error causing shutdown", "error", err)
		return err
	}
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
