// Package store provides read-only access to a study database through a
// guarded query gateway. Every statement is vetted by sqlguard before it
// reaches the driver, and results come back fully materialized so callers
// can cache or render them without holding a connection open.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/omixlabs/seqdesk/pkg/sqlguard"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverSQLite is the default driver for file-backed study databases.
	DriverSQLite = "sqlite3"

	// DriverDuckDB serves columnar study databases via the duckdb driver.
	DriverDuckDB = "duckdb"
)

// ErrConnectionUnavailable is returned when the database cannot be reached
// after one reconnect attempt.
var ErrConnectionUnavailable = errors.New("database connection unavailable")

// ExecutionError wraps a driver failure for a statement that passed
// admission. The driver message is preserved verbatim so the agent can
// surface it to the model.
type ExecutionError struct {
	Query string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Row is a single result row keyed by column name.
type Row map[string]any

// QueryResult is a fully materialized result set.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
	Count   int      `json:"count"`
}

type Config struct {
	Logger *slog.Logger

	// Driver selects the database/sql driver, DriverSQLite or DriverDuckDB.
	Driver string

	// DSN is the driver-specific data source name, typically a file path.
	DSN string
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.DSN == "" {
		return errors.New("dsn is required")
	}
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.Driver != DriverSQLite && c.Driver != DriverDuckDB {
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	return nil
}

// Store executes read-only statements against a single study database.
// The underlying pool is capped at one connection so concurrent sessions
// serialize cleanly on file-backed engines.
type Store struct {
	log *slog.Logger
	cfg Config

	mu sync.Mutex
	db *sql.DB

	introspection introspectionCache
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Store{
		log: cfg.Logger,
		cfg: cfg,
	}
	if err := s.introspection.init(); err != nil {
		return nil, fmt.Errorf("failed to build introspection cache: %w", err)
	}
	return s, nil
}

// Query admits, executes, and materializes a single read-only statement.
// Rejections surface as *sqlguard.RejectedStatementError before any
// connection is made; driver failures surface as *ExecutionError.
func (s *Store) Query(ctx context.Context, query string) (*QueryResult, error) {
	if err := sqlguard.Check(query); err != nil {
		s.log.Debug("statement rejected", "error", err)
		return nil, err
	}

	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	res, err := s.execute(ctx, db, query)
	if err != nil {
		s.log.Debug("query failed", "error", err)
		return nil, &ExecutionError{Query: query, Err: err}
	}
	return res, nil
}

func (s *Store) execute(ctx context.Context, db *sql.DB, query string) (*QueryResult, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &QueryResult{Columns: columns, Rows: []Row{}}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	result.Count = len(result.Rows)
	return result, nil
}

// conn returns a live handle, opening one on first use. A dead handle is
// closed and reopened once before the call gives up.
func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err == nil {
			return s.db, nil
		}
		s.log.Warn("database connection lost, reconnecting", "driver", s.cfg.Driver)
		_ = s.db.Close()
		s.db = nil
	}

	db, err := sql.Open(s.cfg.Driver, s.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}

	s.db = db
	s.log.Debug("database connection established", "driver", s.cfg.Driver, "dsn", s.cfg.DSN)
	return s.db, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.introspection.close()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
