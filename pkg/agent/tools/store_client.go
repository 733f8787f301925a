package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/omixlabs/seqdesk/pkg/agent/react"
	"github.com/omixlabs/seqdesk/pkg/session"
	"github.com/omixlabs/seqdesk/pkg/store"
)

// previewRows caps how many rows of a query result are shown to the
// model. The full result set is cached for charting and export.
const previewRows = 15

const storedNote = "The full result set has been cached and is available for render_chart and export_report."

// queryRecommendation is appended to execution failures so the model
// corrects course instead of retrying the same statement.
const queryRecommendation = "RECOMMENDATION: call describe_schema to inspect available tables and columns, and sample_values for valid category values."

// StoreToolClient implements react.ToolClient over the study database:
// read-only SQL, schema description, and sample values. Successful query
// results land in the session's result cache.
type StoreToolClient struct {
	store *store.Store
	cache *session.ResultCache
}

// NewStoreToolClient creates a new StoreToolClient bound to one session's
// result cache.
func NewStoreToolClient(st *store.Store, cache *session.ResultCache) *StoreToolClient {
	return &StoreToolClient{
		store: st,
		cache: cache,
	}
}

// ListTools returns the available database tools.
func (c *StoreToolClient) ListTools(_ context.Context) ([]react.Tool, error) {
	return []react.Tool{
		{
			Name:        "query",
			Description: "Execute a read-only SQL query against the study database. Use this to get specific data. Input must be a single SELECT statement.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sql": map[string]any{
						"type":        "string",
						"description": "The SQL statement to execute. One read-only statement; writes are rejected.",
					},
				},
				"required": []string{"sql"},
			},
		},
		{
			Name:        "describe_schema",
			Description: "Get the available tables and their column structures. Use this to understand what data is available before writing queries.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "sample_values",
			Description: "Get sample values from the text columns of each table. Use this to match natural language references to actual values in the database.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}, nil
}

// CallToolText calls a tool and returns the observation as text.
func (c *StoreToolClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	switch name {
	case "query":
		return c.callQuery(ctx, args)
	case "describe_schema":
		return c.callDescribeSchema(ctx)
	case "sample_values":
		return c.callSampleValues(ctx)
	default:
		return "", true, fmt.Errorf("unknown tool: %s", name)
	}
}

func (c *StoreToolClient) callQuery(ctx context.Context, args map[string]any) (string, bool, error) {
	sql, ok := args["sql"].(string)
	if !ok || strings.TrimSpace(sql) == "" {
		return "sql parameter is required and must be a string", true, nil
	}

	result, err := c.store.Query(ctx, sql)
	if err != nil {
		return queryFailureObservation(err), true, nil
	}

	if result.Count == 0 {
		return "Query executed successfully but returned no results.", false, nil
	}

	c.cache.Store(result.Columns, result.Rows, sql)

	return renderQueryPreview(result), false, nil
}

func (c *StoreToolClient) callDescribeSchema(ctx context.Context) (string, bool, error) {
	schema, err := c.store.DescribeSchema(ctx)
	if err != nil {
		return fmt.Sprintf("Error: failed to describe schema: %v", err), true, nil
	}
	return store.RenderSchema(schema), false, nil
}

func (c *StoreToolClient) callSampleValues(ctx context.Context) (string, bool, error) {
	samples, err := c.store.SampleValues(ctx)
	if err != nil {
		return fmt.Sprintf("Error: failed to sample column values: %v", err), true, nil
	}
	return store.RenderSampleValues(samples), false, nil
}

// queryFailureObservation turns a gateway error into actionable text for
// the model. Admission rejections already carry their own explanation;
// execution failures get the schema recommendation appended.
func queryFailureObservation(err error) string {
	if errors.Is(err, store.ErrConnectionUnavailable) {
		return fmt.Sprintf("Error: database connection failed: %v", err)
	}
	var execErr *store.ExecutionError
	if errors.As(err, &execErr) {
		return fmt.Sprintf("Error: %v\n\n%s", err, queryRecommendation)
	}
	return fmt.Sprintf("Error: %v", err)
}

// renderQueryPreview formats the leading rows of a result as a bordered
// table with a row-count header and the cache note.
func renderQueryPreview(result *store.QueryResult) string {
	shown := len(result.Rows)
	if shown > previewRows {
		shown = previewRows
	}

	var table bytes.Buffer
	w := tablewriter.NewWriter(&table)
	w.SetAutoWrapText(false)
	w.SetAutoFormatHeaders(false)
	w.SetHeader(result.Columns)
	for _, row := range result.Rows[:shown] {
		cells := make([]string, len(result.Columns))
		for i, col := range result.Columns {
			cells[i] = previewCell(row[col])
		}
		w.Append(cells)
	}
	w.Render()

	var b strings.Builder
	fmt.Fprintf(&b, "Query returned %d rows.", result.Count)
	if result.Count > shown {
		fmt.Fprintf(&b, " Showing the first %d:", shown)
	} else {
		b.WriteString(" Here are all the results:")
	}
	b.WriteString("\n\n")
	b.Write(table.Bytes())
	b.WriteString("\n")
	b.WriteString(storedNote)
	return b.String()
}

func previewCell(v any) string {
	if v == nil {
		return "NULL"
	}
	switch val := v.(type) {
	case []byte:
		return string(val)
	case string:
		return val
	}
	return fmt.Sprint(v)
}
