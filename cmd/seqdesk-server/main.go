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

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/omixlabs/seqdesk/internal/api"
	"github.com/omixlabs/seqdesk/internal/metrics"
	"github.com/omixlabs/seqdesk/pkg/agent"
	"github.com/omixlabs/seqdesk/pkg/agent/prompts"
	"github.com/omixlabs/seqdesk/pkg/agent/react"
	"github.com/omixlabs/seqdesk/pkg/catalog"
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
	defaultListenAddr  = ":8080"
	defaultMetricsAddr = "0.0.0.0:0"
	defaultDBPath      = "data/study.db"
)

type Config struct {
	ShowVersion bool
	Verbose     bool
	EnablePprof bool

	ListenAddr  string
	MetricsAddr string

	DBPath     string
	DBDriver   string
	PlotsDir   string
	ReportsDir string

	Model          string
	AllowedOrigins []string
	SessionTTL     time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}

	log := newLogger(cfg.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.EnablePprof {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			err := http.ListenAndServe("localhost:6060", nil)
			if err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	var metricsServerErrCh = make(chan error, 1)
	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", cfg.MetricsAddr)
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

	st, err := store.New(store.Config{Logger: log, Driver: cfg.DBDriver, DSN: cfg.DBPath})
	if err != nil {
		return fmt.Errorf("failed to open study database: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()

	renderer, err := chart.NewRenderer(chart.Config{Logger: log, OutputDir: cfg.PlotsDir})
	if err != nil {
		return fmt.Errorf("failed to create chart renderer: %w", err)
	}

	exporter, err := report.NewExporter(report.Config{Logger: log, OutputDir: cfg.ReportsDir})
	if err != nil {
		return fmt.Errorf("failed to create report exporter: %w", err)
	}

	cat, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("failed to load dataset catalog: %w", err)
	}

	pr, err := prompts.Load()
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	llm, err := react.NewAnthropicClient(react.AnthropicConfig{
		Logger: log,
		Client: anthropic.NewClient(),
		Model:  anthropic.Model(cfg.Model),
		System: pr.BuildSystemPrompt(cat.Render()),
	})
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	orch, err := agent.New(agent.Config{
		Logger:         log,
		LLM:            llm,
		Store:          st,
		Renderer:       renderer,
		Exporter:       exporter,
		Prompts:        pr,
		WrapToolClient: metrics.InstrumentToolClient,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	sessions, err := session.NewRegistry(session.RegistryConfig{
		Logger:  log,
		IdleTTL: cfg.SessionTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}

	server, err := api.New(api.Config{
		Logger:         log,
		Agent:          orch,
		Sessions:       sessions,
		Store:          st,
		PlotsDir:       renderer.OutputDir(),
		ReportsDir:     exporter.OutputDir(),
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Run(ctx); err != nil {
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

func loadConfig() (Config, error) {
	var cfg Config
	var allowedOriginsCSV string

	flag.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "verbose mode - show debug logs")
	flag.BoolVar(&cfg.EnablePprof, "enable-pprof", false, "enable pprof server")

	flag.StringVar(&cfg.ListenAddr, "listen-addr", getenv("LISTEN_ADDR", defaultListenAddr), "HTTP server listen address (env: LISTEN_ADDR)")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", getenv("METRICS_ADDR", defaultMetricsAddr), "address to listen on for prometheus metrics (env: METRICS_ADDR)")

	flag.StringVar(&cfg.DBPath, "db", getenv("SEQDESK_DB", defaultDBPath), "path to the study database file (env: SEQDESK_DB)")
	flag.StringVar(&cfg.DBDriver, "db-driver", getenv("SEQDESK_DB_DRIVER", store.DriverSQLite), "study database driver, sqlite3 or duckdb (env: SEQDESK_DB_DRIVER)")
	flag.StringVar(&cfg.PlotsDir, "plots-dir", getenv("SEQDESK_PLOTS_DIR", chart.DefaultOutputDir), "directory for rendered charts (env: SEQDESK_PLOTS_DIR)")
	flag.StringVar(&cfg.ReportsDir, "reports-dir", getenv("SEQDESK_REPORTS_DIR", report.DefaultOutputDir), "directory for exported reports (env: SEQDESK_REPORTS_DIR)")

	flag.StringVar(&cfg.Model, "model", getenv("SEQDESK_MODEL", ""), "model override (env: SEQDESK_MODEL)")
	flag.StringVar(&allowedOriginsCSV, "allowed-origins", getenv("SEQDESK_ALLOWED_ORIGINS", ""), "CORS allowed origins csv (env: SEQDESK_ALLOWED_ORIGINS)")
	flag.DurationVar(&cfg.SessionTTL, "session-ttl", session.DefaultIdleTTL, "idle time before a session is dropped")

	flag.Parse()

	cfg.AllowedOrigins = splitCSV(allowedOriginsCSV)

	return cfg, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
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
