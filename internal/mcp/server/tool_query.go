package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/omixlabs/seqdesk/internal/metrics"
	"github.com/omixlabs/seqdesk/pkg/session"
	"github.com/omixlabs/seqdesk/pkg/store"
)

type QueryInput struct {
	SQL string `json:"sql"`
}

type QueryOutput struct {
	Columns []string   `json:"columns"`
	Rows    []QueryRow `json:"rows"`
	Count   int        `json:"count"`
}

type QueryRow map[string]any

const queryDescription = `
	PURPOSE:
	Execute a single read-only SQL statement against the study database
	(differential expression, enrichment, PCA/MDS scores, count matrices).

	USAGE RULES:
	- Consult describe_schema before writing any SQL. Do not guess column names.
	- Use sample_values to learn valid values for category columns such as comparison.
	- Prefer single, well-constructed queries; aggregate with GROUP BY and apply LIMIT.

	SUPPORTED SQL:
	- SELECT and WITH statements: JOIN, WHERE, GROUP BY, aggregations, ORDER BY, LIMIT

	IMPORTANT CONSTRAINTS:
	1. One statement per call. Writes and DDL are rejected before execution.
	2. The full result set is retained for render_chart and export_report; results
	   go stale after a couple of minutes, so chart promptly.
`

func RegisterQueryTool(log *slog.Logger, server *mcp.Server, st *store.Store, cache *session.ResultCache) error {
	req, err := jsonschema.For[QueryInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create query input schema: %w", err)
	}

	res, err := jsonschema.For[QueryOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create query output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "query",
		Description:  queryDescription,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (*mcp.CallToolResult, QueryOutput, error) {
		startTime := time.Now()

		log.Debug("mcp/tool: handling query", "sql", in.SQL)

		out, err := handleQuery(ctx, st, cache, in)
		duration := time.Since(startTime).Seconds()
		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues("query", "error").Inc()
			metrics.ToolCallDuration.WithLabelValues("query").Observe(duration)
			return nil, QueryOutput{}, err
		}

		metrics.ToolCallsTotal.WithLabelValues("query", "success").Inc()
		metrics.ToolCallDuration.WithLabelValues("query").Observe(duration)
		return nil, out, nil
	})
	return nil
}

func handleQuery(ctx context.Context, st *store.Store, cache *session.ResultCache, in QueryInput) (QueryOutput, error) {
	result, err := st.Query(ctx, in.SQL)
	if err != nil {
		return QueryOutput{}, fmt.Errorf("failed to execute query: %w", err)
	}

	// Retain the full result set so render_chart and export_report can
	// pick it up. Empty results are not worth charting.
	if result.Count > 0 {
		cache.Store(result.Columns, result.Rows, in.SQL)
	}

	rows := make([]QueryRow, 0, len(result.Rows))
	for _, row := range result.Rows {
		queryRow := make(QueryRow, len(result.Columns))
		for _, col := range result.Columns {
			queryRow[col] = row[col]
		}
		rows = append(rows, queryRow)
	}

	return QueryOutput{
		Columns: result.Columns,
		Rows:    rows,
		Count:   result.Count,
	}, nil
}
