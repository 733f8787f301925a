package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/omixlabs/seqdesk/pkg/chart"
	"github.com/omixlabs/seqdesk/pkg/report"
	"github.com/omixlabs/seqdesk/pkg/store"
)

const (
	DefaultListenAddr = ":8090"

	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

type Config struct {
	Logger *slog.Logger

	Store    *store.Store
	Renderer *chart.Renderer
	Exporter *report.Exporter

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// AllowedTokens enables Bearer token authentication when non-empty.
	AllowedTokens []string

	// FreshnessWindow is applied to the shared result cache. Zero takes
	// the session default.
	FreshnessWindow time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Renderer == nil {
		return fmt.Errorf("chart renderer is required")
	}
	if c.Exporter == nil {
		return fmt.Errorf("report exporter is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
