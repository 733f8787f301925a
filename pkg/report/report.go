// Package report exports the session's cached result set as CSV files.
// It applies the same cache preconditions as charting: a result must exist
// and must still be inside the freshness window.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"

	"github.com/omixlabs/seqdesk/pkg/session"
)

// DefaultOutputDir is where reports land unless configured.
const DefaultOutputDir = "reports"

const filenameTimeLayout = "01_02_15_04_05"

// ErrNoData means no query result has been cached for the session.
var ErrNoData = errors.New("no data available to export; run a SQL query first to retrieve data")

// ErrStaleData means the cached result has outlived the freshness window.
var ErrStaleData = errors.New("cached data is too old to export; run the query again to refresh it")

type Config struct {
	Logger *slog.Logger

	// OutputDir receives the CSV files.
	OutputDir string

	// Clock stamps report filenames. Defaults to the real clock.
	Clock clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Exporter writes the cached result set to disk. Unlike chart previews,
// exports always contain the full row set.
type Exporter struct {
	log *slog.Logger
	cfg Config
}

func NewExporter(cfg Config) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Exporter{log: cfg.Logger, cfg: cfg}, nil
}

// OutputDir returns the directory reports are written to.
func (e *Exporter) OutputDir() string {
	return e.cfg.OutputDir
}

// Export writes the cached result as report_<MM_DD_HH_MM_SS>.csv and
// returns the bare filename.
func (e *Exporter) Export(cache *session.ResultCache) (string, error) {
	cached, ok := cache.Read()
	if !ok {
		return "", ErrNoData
	}
	if !cache.IsFresh() {
		return "", ErrStaleData
	}

	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	filename := fmt.Sprintf("report_%s.csv", e.cfg.Clock.Now().Format(filenameTimeLayout))
	f, err := os.Create(filepath.Join(e.cfg.OutputDir, filename))
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(cached.Columns); err != nil {
		return "", fmt.Errorf("failed to write report header: %w", err)
	}
	record := make([]string, len(cached.Columns))
	for _, row := range cached.Rows {
		for i, col := range cached.Columns {
			record[i] = formatValue(row[col])
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush report: %w", err)
	}

	e.log.Info("report exported", "file", filename, "rows", len(cached.Rows))
	return filename, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
