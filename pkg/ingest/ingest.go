// Package ingest loads the CSV and TSV files produced by the expression
// pipeline into the study database, one table per file. Existing tables are
// replaced, so a load is idempotent.
package ingest

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"

	"github.com/omixlabs/seqdesk/pkg/store"
)

const (
	DefaultWorkers = 4

	// maxBindVars keeps batched inserts under SQLite's historical
	// parameter limit.
	maxBindVars = 900

	defaultLockRetryInitial = 100 * time.Millisecond
	defaultLockRetryMax     = 2 * time.Second
	defaultLockRetryElapsed = 30 * time.Second
)

// ErrNoInputFiles is returned when the directory holds nothing loadable.
var ErrNoInputFiles = errors.New("no CSV or TSV files found")

type Config struct {
	Logger *slog.Logger

	// Driver selects the database/sql driver, store.DriverSQLite or
	// store.DriverDuckDB. Defaults to SQLite.
	Driver string

	// DSN is the driver-specific data source name, typically a file path.
	DSN string

	// Workers bounds concurrent file loads. Defaults to DefaultWorkers.
	Workers int

	// LockRetryInitial, LockRetryMax and LockRetryElapsed shape the
	// backoff used when a concurrent load holds the write lock.
	LockRetryInitial time.Duration
	LockRetryMax     time.Duration
	LockRetryElapsed time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.DSN == "" {
		return errors.New("dsn is required")
	}
	if c.Driver == "" {
		c.Driver = store.DriverSQLite
	}
	if c.Driver != store.DriverSQLite && c.Driver != store.DriverDuckDB {
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.LockRetryInitial <= 0 {
		c.LockRetryInitial = defaultLockRetryInitial
	}
	if c.LockRetryMax <= 0 {
		c.LockRetryMax = defaultLockRetryMax
	}
	if c.LockRetryElapsed <= 0 {
		c.LockRetryElapsed = defaultLockRetryElapsed
	}
	return nil
}

// TableReport describes one loaded table.
type TableReport struct {
	Table   string
	File    string
	Rows    int
	Columns int
}

// Report describes a completed directory load, sorted by table name.
type Report struct {
	Tables []TableReport
}

func (r *Report) TotalRows() int {
	total := 0
	for _, t := range r.Tables {
		total += t.Rows
	}
	return total
}

// Loader owns the write-path connection to the study database. The read
// gateway in pkg/store never sees these statements.
type Loader struct {
	log *slog.Logger
	cfg Config

	db   *sql.DB
	pool pond.ResultPool[*TableReport]
}

func New(cfg Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Loader{
		log:  cfg.Logger,
		cfg:  cfg,
		db:   db,
		pool: pond.NewResultPool[*TableReport](cfg.Workers),
	}, nil
}

func (l *Loader) Close() error {
	l.pool.StopAndWait()
	return l.db.Close()
}

// LoadDir loads every CSV and TSV file directly under dir, one table per
// file. Files load concurrently; each table is replaced in a single
// transaction.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read study directory: %w", err)
	}

	group := l.pool.NewGroupContext(ctx)
	submitted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".csv" && ext != ".tsv" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		submitted++

		group.SubmitErr(func() (*TableReport, error) {
			return l.loadFile(ctx, path)
		})
	}
	if submitted == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInputFiles, dir)
	}

	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to load study directory: %w", err)
	}

	report := &Report{Tables: make([]TableReport, 0, len(results))}
	for _, result := range results {
		if result == nil {
			continue
		}
		report.Tables = append(report.Tables, *result)
	}
	sort.Slice(report.Tables, func(i, j int) bool {
		return report.Tables[i].Table < report.Tables[j].Table
	})
	return report, nil
}

func (l *Loader) loadFile(ctx context.Context, path string) (*TableReport, error) {
	tbl, err := readTable(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	name := tableName(path)
	types := make([]string, len(tbl.columns))
	for i := range tbl.columns {
		types[i] = inferColumnType(tbl.rows, i)
	}

	err = l.withLockRetry(ctx, func() error {
		return l.replaceTable(ctx, name, tbl, types)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load table %s: %w", name, err)
	}

	l.log.Info("table loaded",
		"table", name,
		"file", filepath.Base(path),
		"rows", len(tbl.rows),
		"columns", len(tbl.columns),
	)
	return &TableReport{
		Table:   name,
		File:    filepath.Base(path),
		Rows:    len(tbl.rows),
		Columns: len(tbl.columns),
	}, nil
}

func (l *Loader) replaceTable(ctx context.Context, name string, tbl *table, types []string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(name))); err != nil {
		return err
	}

	defs := make([]string, len(tbl.columns))
	for i, col := range tbl.columns {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(col), types[i])
	}
	createStmt := fmt.Sprintf(`CREATE TABLE %s (%s)`, quoteIdent(name), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return err
	}

	if err := insertRows(ctx, tx, name, tbl, types); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRows(ctx context.Context, tx *sql.Tx, name string, tbl *table, types []string) error {
	if len(tbl.rows) == 0 {
		return nil
	}

	cols := make([]string, len(tbl.columns))
	for i, col := range tbl.columns {
		cols[i] = quoteIdent(col)
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(cols)), ",") + ")"

	batch := maxBindVars / len(tbl.columns)
	if batch < 1 {
		batch = 1
	}

	for start := 0; start < len(tbl.rows); start += batch {
		end := start + batch
		if end > len(tbl.rows) {
			end = len(tbl.rows)
		}
		rows := tbl.rows[start:end]

		values := make([]string, len(rows))
		args := make([]any, 0, len(rows)*len(tbl.columns))
		for i, row := range rows {
			values[i] = placeholders
			for j, cell := range row {
				args = append(args, bindValue(cell, types[j]))
			}
		}

		stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s`,
			quoteIdent(name), strings.Join(cols, ", "), strings.Join(values, ", "))
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}
	}
	return nil
}

// withLockRetry retries op while a concurrent writer holds the database
// lock, backing off exponentially until the elapsed budget runs out.
func (l *Loader) withLockRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.LockRetryInitial
	bo.MaxInterval = l.cfg.LockRetryMax
	bo.MaxElapsedTime = l.cfg.LockRetryElapsed

	for {
		err := op()
		if err == nil || !isLockError(err) {
			return err
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("gave up waiting for the write lock: %w", err)
		}
		l.log.Debug("database locked, retrying", "in", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// table is one parsed input file.
type table struct {
	columns []string
	rows    [][]string
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		reader.Comma = '\t'
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("file has no header row")
	}

	return &table{
		columns: sanitizeHeader(records[0]),
		rows:    records[1:],
	}, nil
}

// sanitizeHeader makes each column a safe identifier: dots, spaces and
// other punctuation become underscores, so "P.value" loads as "P_value".
// An unnamed first column (the row-label column R writes for matrices)
// becomes row_name; collisions get a numeric suffix.
func sanitizeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, raw := range header {
		name := sanitizeIdent(raw)
		if name == "" {
			if i == 0 {
				name = "row_name"
			} else {
				name = fmt.Sprintf("col_%d", i+1)
			}
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[name] = 1
		out[i] = name
	}
	return out
}

var identSanitizer = regexp.MustCompile(`[^A-Za-z0-9_]+`)

func sanitizeIdent(s string) string {
	s = strings.TrimSpace(s)
	s = identSanitizer.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// tableName derives the table from the file stem: deseq2_results.csv
// loads into deseq2_results.
func tableName(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := sanitizeIdent(stem)
	if name == "" {
		name = "unnamed"
	}
	return strings.ToLower(name)
}

// inferColumnType picks the narrowest SQL type that holds every non-empty
// value in the column: INTEGER, then REAL, then TEXT.
func inferColumnType(rows [][]string, col int) string {
	sawValue := false
	isInt := true
	isReal := true
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[col])
		if cell == "" || strings.EqualFold(cell, "na") || strings.EqualFold(cell, "nan") {
			continue
		}
		sawValue = true
		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if !isInt && isReal {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isReal = false
				break
			}
		}
	}
	switch {
	case !sawValue:
		return "TEXT"
	case isInt:
		return "INTEGER"
	case isReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// bindValue converts a CSV cell to the driver value for its column type.
// Blank and NA cells in numeric columns become NULL.
func bindValue(cell, colType string) any {
	trimmed := strings.TrimSpace(cell)
	if colType == "TEXT" {
		return cell
	}
	if trimmed == "" || strings.EqualFold(trimmed, "na") || strings.EqualFold(trimmed, "nan") {
		return nil
	}
	switch colType {
	case "INTEGER":
		if v, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return v
		}
	case "REAL":
		if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return v
		}
	}
	return cell
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
