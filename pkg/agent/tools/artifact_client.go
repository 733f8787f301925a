package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/omixlabs/seqdesk/pkg/agent/react"
	"github.com/omixlabs/seqdesk/pkg/chart"
	"github.com/omixlabs/seqdesk/pkg/report"
	"github.com/omixlabs/seqdesk/pkg/session"
)

const (
	// ChartSavedPrefix starts every successful render_chart observation.
	// Surfaces scan for it to pick up the artifact filename.
	ChartSavedPrefix = "Chart saved to: "

	// ReportSavedPrefix starts every successful export_report observation.
	ReportSavedPrefix = "Report saved to: "
)

// chartGuidance nudges the model to interpret the chart instead of
// stopping at having produced it.
const chartGuidance = "Now that the chart is created, give a biologically rich final answer: summary statistics, notable genes or pathways, implications of the observed patterns, and relevant follow-up analyses."

// ArtifactToolClient implements react.ToolClient for chart rendering and
// report export against one session's result cache.
type ArtifactToolClient struct {
	renderer *chart.Renderer
	exporter *report.Exporter
	cache    *session.ResultCache
}

// NewArtifactToolClient creates a new ArtifactToolClient.
func NewArtifactToolClient(renderer *chart.Renderer, exporter *report.Exporter, cache *session.ResultCache) *ArtifactToolClient {
	return &ArtifactToolClient{
		renderer: renderer,
		exporter: exporter,
		cache:    cache,
	}
}

// ListTools returns the artifact tools.
func (c *ArtifactToolClient) ListTools(_ context.Context) ([]react.Tool, error) {
	return []react.Tool{
		{
			Name:        "render_chart",
			Description: fmt.Sprintf("Create a chart from the most recent query result. Provide either spec as '<type>|key=value|...' (example: 'volcano|x_column=log2FoldChange|y_column=padj|title=Treated vs Control') or the discrete parameters. Allowed types: %s.", allowedTypeList()),
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"spec": map[string]any{
						"type":        "string",
						"description": "Pipe-delimited chart request: '<type>' or '<type>|key=value|...'.",
					},
					"chart_type": map[string]any{
						"type":        "string",
						"description": "Chart type when not using spec.",
					},
					"x_column": map[string]any{
						"type":        "string",
						"description": "Column for the x axis.",
					},
					"y_column": map[string]any{
						"type":        "string",
						"description": "Column for the y axis.",
					},
					"color_column": map[string]any{
						"type":        "string",
						"description": "Optional column for the color encoding.",
					},
					"size_column": map[string]any{
						"type":        "string",
						"description": "Optional numeric column for the size encoding.",
					},
					"title": map[string]any{
						"type":        "string",
						"description": "Optional chart title.",
					},
				},
			},
		},
		{
			Name:        "export_report",
			Description: "Export the most recent query result as a CSV report file. Use when the user asks for a report, an export, or a downloadable file.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{
						"type":        "string",
						"description": "Optional label for the report; not part of the filename.",
					},
				},
			},
		},
	}, nil
}

// CallToolText calls a tool and returns the observation as text.
func (c *ArtifactToolClient) CallToolText(_ context.Context, name string, args map[string]any) (string, bool, error) {
	switch name {
	case "render_chart":
		return c.callRenderChart(args)
	case "export_report":
		return c.callExportReport()
	default:
		return "", true, fmt.Errorf("unknown tool: %s", name)
	}
}

func (c *ArtifactToolClient) callRenderChart(args map[string]any) (string, bool, error) {
	spec, err := chartSpecFromArgs(args)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), true, nil
	}

	filename, err := c.renderer.Render(spec, c.cache)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), true, nil
	}

	return ChartSavedPrefix + filename + "\n\n" + chartGuidance, false, nil
}

func (c *ArtifactToolClient) callExportReport() (string, bool, error) {
	filename, err := c.exporter.Export(c.cache)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), true, nil
	}
	return ReportSavedPrefix + filename, false, nil
}

// chartSpecFromArgs accepts either the pipe form under "spec" or the
// discrete parameters.
func chartSpecFromArgs(args map[string]any) (chart.Spec, error) {
	if raw, ok := args["spec"].(string); ok && strings.TrimSpace(raw) != "" {
		return chart.Parse(raw)
	}

	chartType, _ := args["chart_type"].(string)
	if strings.TrimSpace(chartType) == "" {
		return nil, errors.New("provide either spec or chart_type")
	}

	params := make(map[string]string)
	for _, key := range []string{"x_column", "y_column", "color_column", "size_column", "title"} {
		if v, ok := args[key].(string); ok && v != "" {
			params[key] = v
		}
	}
	return chart.FromArgs(chartType, params)
}

func allowedTypeList() string {
	types := chart.AllowedTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// ChartFilename extracts the artifact filename from a successful
// render_chart observation.
func ChartFilename(observation string) (string, bool) {
	return artifactFilename(observation, ChartSavedPrefix)
}

// ReportFilename extracts the artifact filename from a successful
// export_report observation.
func ReportFilename(observation string) (string, bool) {
	return artifactFilename(observation, ReportSavedPrefix)
}

func artifactFilename(observation, prefix string) (string, bool) {
	if !strings.HasPrefix(observation, prefix) {
		return "", false
	}
	rest := observation[len(prefix):]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}
