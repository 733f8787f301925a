package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/omixlabs/seqdesk/internal/metrics"
	"github.com/omixlabs/seqdesk/pkg/store"
)

type DescribeSchemaInput struct{}

type DescribeSchemaOutput struct {
	Tables []store.TableSchema `json:"tables"`
}

func RegisterDescribeSchemaTool(log *slog.Logger, server *mcp.Server, st *store.Store) error {
	req, err := jsonschema.For[DescribeSchemaInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create describe_schema input schema: %w", err)
	}

	res, err := jsonschema.For[DescribeSchemaOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create describe_schema output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "describe_schema",
		Description:  "List every table in the study database with its columns and types. Call this before writing SQL.",
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ DescribeSchemaInput) (*mcp.CallToolResult, DescribeSchemaOutput, error) {
		startTime := time.Now()

		log.Debug("mcp/tool: handling describe_schema")

		schemas, err := st.DescribeSchema(ctx)
		duration := time.Since(startTime).Seconds()
		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues("describe_schema", "error").Inc()
			metrics.ToolCallDuration.WithLabelValues("describe_schema").Observe(duration)
			return nil, DescribeSchemaOutput{}, fmt.Errorf("failed to describe schema: %w", err)
		}

		metrics.ToolCallsTotal.WithLabelValues("describe_schema", "success").Inc()
		metrics.ToolCallDuration.WithLabelValues("describe_schema").Observe(duration)
		return nil, DescribeSchemaOutput{Tables: schemas}, nil
	})
	return nil
}

type SampleValuesInput struct{}

type SampleValuesOutput struct {
	// Samples maps "table.column" to a handful of distinct values for the
	// text columns of the study.
	Samples map[string][]string `json:"samples"`
}

func RegisterSampleValuesTool(log *slog.Logger, server *mcp.Server, st *store.Store) error {
	req, err := jsonschema.For[SampleValuesInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create sample_values input schema: %w", err)
	}

	res, err := jsonschema.For[SampleValuesOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create sample_values output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "sample_values",
		Description:  "Show distinct example values for the text columns of every study table, keyed as table.column. Use it to learn valid filter values before querying.",
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ SampleValuesInput) (*mcp.CallToolResult, SampleValuesOutput, error) {
		startTime := time.Now()

		log.Debug("mcp/tool: handling sample_values")

		samples, err := st.SampleValues(ctx)
		duration := time.Since(startTime).Seconds()
		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues("sample_values", "error").Inc()
			metrics.ToolCallDuration.WithLabelValues("sample_values").Observe(duration)
			return nil, SampleValuesOutput{}, fmt.Errorf("failed to collect sample values: %w", err)
		}

		metrics.ToolCallsTotal.WithLabelValues("sample_values", "success").Inc()
		metrics.ToolCallDuration.WithLabelValues("sample_values").Observe(duration)
		return nil, SampleValuesOutput{Samples: samples}, nil
	})
	return nil
}
