package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/omixlabs/seqdesk/internal/metrics"
	"github.com/omixlabs/seqdesk/pkg/chart"
	"github.com/omixlabs/seqdesk/pkg/report"
	"github.com/omixlabs/seqdesk/pkg/session"
)

type RenderChartInput struct {
	// Spec is the pipe-delimited form "<type>|key=value|...". When set it
	// wins over the discrete parameters.
	Spec string `json:"spec,omitempty"`

	ChartType   string `json:"chart_type,omitempty"`
	XColumn     string `json:"x_column,omitempty"`
	YColumn     string `json:"y_column,omitempty"`
	ColorColumn string `json:"color_column,omitempty"`
	SizeColumn  string `json:"size_column,omitempty"`
	Title       string `json:"title,omitempty"`
}

type RenderChartOutput struct {
	Filename string `json:"filename"`
}

func RegisterRenderChartTool(log *slog.Logger, server *mcp.Server, renderer *chart.Renderer, cache *session.ResultCache) error {
	req, err := jsonschema.For[RenderChartInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create render_chart input schema: %w", err)
	}

	res, err := jsonschema.For[RenderChartOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create render_chart output schema: %w", err)
	}

	description := fmt.Sprintf(
		"Render a chart from the most recent query result. Allowed types: %s. The result must be fresh; re-run the query if it has gone stale.",
		allowedTypeList(),
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:         "render_chart",
		Description:  description,
		InputSchema:  req,
		OutputSchema: res,
	}, func(_ context.Context, _ *mcp.CallToolRequest, in RenderChartInput) (*mcp.CallToolResult, RenderChartOutput, error) {
		startTime := time.Now()

		log.Debug("mcp/tool: handling render_chart", "spec", in.Spec, "chart_type", in.ChartType)

		spec, err := chartSpecFromInput(in)
		if err == nil {
			var filename string
			filename, err = renderer.Render(spec, cache)
			if err == nil {
				metrics.ToolCallsTotal.WithLabelValues("render_chart", "success").Inc()
				metrics.ToolCallDuration.WithLabelValues("render_chart").Observe(time.Since(startTime).Seconds())
				return nil, RenderChartOutput{Filename: filename}, nil
			}
		}

		metrics.ToolCallsTotal.WithLabelValues("render_chart", "error").Inc()
		metrics.ToolCallDuration.WithLabelValues("render_chart").Observe(time.Since(startTime).Seconds())
		return nil, RenderChartOutput{}, fmt.Errorf("failed to render chart: %w", err)
	})
	return nil
}

type ExportReportInput struct {
	// Title is an optional label; it does not affect the filename.
	Title string `json:"title,omitempty"`
}

type ExportReportOutput struct {
	Filename string `json:"filename"`
}

func RegisterExportReportTool(log *slog.Logger, server *mcp.Server, exporter *report.Exporter, cache *session.ResultCache) error {
	req, err := jsonschema.For[ExportReportInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create export_report input schema: %w", err)
	}

	res, err := jsonschema.For[ExportReportOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create export_report output schema: %w", err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         "export_report",
		Description:  "Export the most recent query result as a CSV report file. The result must be fresh; re-run the query if it has gone stale.",
		InputSchema:  req,
		OutputSchema: res,
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ ExportReportInput) (*mcp.CallToolResult, ExportReportOutput, error) {
		startTime := time.Now()

		log.Debug("mcp/tool: handling export_report")

		filename, err := exporter.Export(cache)
		duration := time.Since(startTime).Seconds()
		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues("export_report", "error").Inc()
			metrics.ToolCallDuration.WithLabelValues("export_report").Observe(duration)
			return nil, ExportReportOutput{}, fmt.Errorf("failed to export report: %w", err)
		}

		metrics.ToolCallsTotal.WithLabelValues("export_report", "success").Inc()
		metrics.ToolCallDuration.WithLabelValues("export_report").Observe(duration)
		return nil, ExportReportOutput{Filename: filename}, nil
	})
	return nil
}

// chartSpecFromInput accepts either the pipe form or the discrete
// parameters, mirroring the chat agent's render_chart tool.
func chartSpecFromInput(in RenderChartInput) (chart.Spec, error) {
	if strings.TrimSpace(in.Spec) != "" {
		return chart.Parse(in.Spec)
	}
	if strings.TrimSpace(in.ChartType) == "" {
		return nil, fmt.Errorf("provide either spec or chart_type")
	}

	params := map[string]string{}
	for key, value := range map[string]string{
		"x_column":     in.XColumn,
		"y_column":     in.YColumn,
		"color_column": in.ColorColumn,
		"size_column":  in.SizeColumn,
		"title":        in.Title,
	} {
		if value != "" {
			params[key] = value
		}
	}
	return chart.FromArgs(in.ChartType, params)
}

func allowedTypeList() string {
	types := chart.AllowedTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
