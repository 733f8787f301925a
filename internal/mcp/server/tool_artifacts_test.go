package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omixlabs/seqdesk/pkg/chart"
	"github.com/omixlabs/seqdesk/pkg/session"
	"github.com/omixlabs/seqdesk/pkg/store"
)

func TestMCPServer_ToolArtifacts_Register(t *testing.T) {
	t.Parallel()

	cache := session.NewResultCache(nil, 0)

	err := RegisterRenderChartTool(testLogger(t), testMCP(t), testRenderer(t), cache)
	require.NoError(t, err)

	err = RegisterExportReportTool(testLogger(t), testMCP(t), testExporter(t), cache)
	require.NoError(t, err)
}

func TestMCPServer_ChartSpecFromInput(t *testing.T) {
	t.Parallel()

	t.Run("pipe spec", func(t *testing.T) {
		t.Parallel()

		spec, err := chartSpecFromInput(RenderChartInput{
			Spec: "scatter|x_column=PC1|y_column=PC2|title=Principal components",
		})
		require.NoError(t, err)
		require.Equal(t, chart.TypeScatter, spec.Type())
		require.Equal(t, "Principal components", spec.Title())
	})

	t.Run("pipe spec wins over discrete parameters", func(t *testing.T) {
		t.Parallel()

		spec, err := chartSpecFromInput(RenderChartInput{
			Spec:      "heatmap|title=From the spec string",
			ChartType: "volcano",
			Title:     "ignored",
		})
		require.NoError(t, err)
		require.Equal(t, chart.TypeHeatmap, spec.Type())
		require.Equal(t, "From the spec string", spec.Title())
	})

	t.Run("discrete parameters", func(t *testing.T) {
		t.Parallel()

		spec, err := chartSpecFromInput(RenderChartInput{
			ChartType: "volcano",
			Title:     "Treated vs control",
		})
		require.NoError(t, err)
		require.Equal(t, chart.TypeVolcano, spec.Type())
		require.Equal(t, "Treated vs control", spec.Title())
	})

	t.Run("neither form", func(t *testing.T) {
		t.Parallel()

		_, err := chartSpecFromInput(RenderChartInput{})
		require.Error(t, err)
		require.Contains(t, err.Error(), "provide either spec or chart_type")
	})

	t.Run("unknown chart type", func(t *testing.T) {
		t.Parallel()

		_, err := chartSpecFromInput(RenderChartInput{ChartType: "sparkline"})
		require.Error(t, err)
	})
}

func TestMCPServer_ChartRenderFromSharedCache(t *testing.T) {
	t.Parallel()

	cache := session.NewResultCache(nil, 0)
	cache.Store(
		[]string{"gene_name", "log2FoldChange", "padj"},
		[]store.Row{
			{"gene_name": "TP53", "log2FoldChange": 2.4, "padj": 0.0004},
			{"gene_name": "BRCA1", "log2FoldChange": -1.1, "padj": 0.021},
		},
		"SELECT gene_name, log2FoldChange, padj FROM deseq2_results",
	)

	spec, err := chartSpecFromInput(RenderChartInput{ChartType: "volcano"})
	require.NoError(t, err)

	filename, err := testRenderer(t).Render(spec, cache)
	require.NoError(t, err)
	require.NotEmpty(t, filename)
}
