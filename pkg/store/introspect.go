package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	// maxRenderTables and maxRenderColumns bound the schema text handed to
	// the model so wide studies do not flood the conversation.
	maxRenderTables  = 10
	maxRenderColumns = 8

	// maxSampleValues caps the distinct values fetched per text column.
	maxSampleValues = 5

	sampleTTL = 10 * time.Minute
)

// ColumnInfo describes one column of a study table.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableSchema describes one study table.
type TableSchema struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// introspectionCache holds the schema snapshot and the per-column sample
// values. Both survive until InvalidateIntrospection, so repeated tool
// calls within a conversation stay cheap.
type introspectionCache struct {
	mu      sync.Mutex
	schema  []TableSchema
	samples *ristretto.Cache
}

func (c *introspectionCache) init() error {
	samples, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return err
	}
	c.samples = samples
	return nil
}

func (c *introspectionCache) close() {
	if c.samples != nil {
		c.samples.Close()
	}
}

// DescribeSchema enumerates the study tables and their columns. The result
// is snapshotted in memory until InvalidateIntrospection; tables that fail
// column introspection are logged and skipped rather than failing the call.
func (s *Store) DescribeSchema(ctx context.Context) ([]TableSchema, error) {
	s.introspection.mu.Lock()
	if s.introspection.schema != nil {
		snap := s.introspection.schema
		s.introspection.mu.Unlock()
		return snap, nil
	}
	s.introspection.mu.Unlock()

	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	names, err := s.listTables(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	schemas := make([]TableSchema, 0, len(names))
	for _, name := range names {
		columns, err := s.tableColumns(ctx, db, name)
		if err != nil {
			s.log.Warn("failed to introspect table, skipping", "table", name, "error", err)
			continue
		}
		schemas = append(schemas, TableSchema{Name: name, Columns: columns})
	}

	s.introspection.mu.Lock()
	s.introspection.schema = schemas
	s.introspection.mu.Unlock()
	return schemas, nil
}

func (s *Store) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	if s.cfg.Driver == DriverDuckDB {
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name`
	}

	res, err := s.execute(ctx, db, query)
	if err != nil {
		return nil, err
	}

	col := res.Columns[0]
	names := make([]string, 0, res.Count)
	for _, row := range res.Rows {
		if name := asString(row[col]); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *Store) tableColumns(ctx context.Context, db *sql.DB, table string) ([]ColumnInfo, error) {
	res, err := s.execute(ctx, db, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}

	columns := make([]ColumnInfo, 0, res.Count)
	for _, row := range res.Rows {
		name := asString(row["name"])
		if name == "" {
			continue
		}
		columns = append(columns, ColumnInfo{Name: name, Type: asString(row["type"])})
	}
	return columns, nil
}

// SampleValues returns up to maxSampleValues distinct values for every
// text-typed column, keyed "table.column". Values are cached with a TTL so
// the agent can call this freely while exploring a question.
func (s *Store) SampleValues(ctx context.Context) (map[string][]string, error) {
	schemas, err := s.DescribeSchema(ctx)
	if err != nil {
		return nil, err
	}

	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	samples := make(map[string][]string)
	for _, table := range schemas {
		for _, col := range table.Columns {
			if !isTextType(col.Type) {
				continue
			}
			key := table.Name + "." + col.Name

			if cached, ok := s.introspection.samples.Get(key); ok {
				if values, ok := cached.([]string); ok {
					samples[key] = values
					continue
				}
			}

			values, err := s.distinctValues(ctx, db, table.Name, col.Name)
			if err != nil {
				s.log.Warn("failed to sample column, skipping", "column", key, "error", err)
				continue
			}
			s.introspection.samples.SetWithTTL(key, values, 1, sampleTTL)
			samples[key] = values
		}
	}
	s.introspection.samples.Wait()
	return samples, nil
}

func (s *Store) distinctValues(ctx context.Context, db *sql.DB, table, column string) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL LIMIT %d",
		quoteIdent(column), quoteIdent(table), quoteIdent(column), maxSampleValues)
	res, err := s.execute(ctx, db, query)
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, res.Count)
	for _, row := range res.Rows {
		values = append(values, asString(row[column]))
	}
	return values, nil
}

// InvalidateIntrospection drops the schema snapshot and the sample value
// cache. Called on session reset so a reloaded study is picked up.
func (s *Store) InvalidateIntrospection() {
	s.introspection.mu.Lock()
	s.introspection.schema = nil
	s.introspection.mu.Unlock()
	s.introspection.samples.Clear()
	s.log.Debug("introspection caches invalidated")
}

// RenderSchema formats table schemas for the model, truncating wide studies
// table by table and column by column.
func RenderSchema(schemas []TableSchema) string {
	if len(schemas) == 0 {
		return "No tables found in the database."
	}

	var b strings.Builder
	b.WriteString("Database schema:\n")

	shown := schemas
	if len(shown) > maxRenderTables {
		shown = shown[:maxRenderTables]
	}
	for _, table := range shown {
		fmt.Fprintf(&b, "\nTable: %s\n", table.Name)
		cols := table.Columns
		hidden := 0
		if len(cols) > maxRenderColumns {
			hidden = len(cols) - maxRenderColumns
			cols = cols[:maxRenderColumns]
		}
		for _, col := range cols {
			if col.Type == "" {
				fmt.Fprintf(&b, "  - %s\n", col.Name)
				continue
			}
			fmt.Fprintf(&b, "  - %s (%s)\n", col.Name, col.Type)
		}
		if hidden > 0 {
			fmt.Fprintf(&b, "  ... and %d more columns\n", hidden)
		}
	}
	if len(schemas) > maxRenderTables {
		fmt.Fprintf(&b, "\n... and %d more tables\n", len(schemas)-maxRenderTables)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderSampleValues formats the sample map as indented JSON. Map keys
// marshal in sorted order, which keeps the output stable for the model.
func RenderSampleValues(samples map[string][]string) string {
	if len(samples) == 0 {
		return "No text columns with sample values were found."
	}
	out, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return fmt.Sprintf("failed to render sample values: %v", err)
	}
	return string(out)
}

func isTextType(t string) bool {
	u := strings.ToUpper(t)
	return strings.Contains(u, "TEXT") || strings.Contains(u, "CHAR") || u == "STRING"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func asString(v any) string {
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
