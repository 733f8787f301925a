package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedCatalog(t *testing.T) {
	t.Parallel()

	c, err := Load()
	require.NoError(t, err)

	names := c.TableNames()
	assert.Contains(t, names, "deseq2_results")
	assert.Contains(t, names, "enrichment_results")
	assert.Contains(t, names, "dea_metadata")
	assert.Contains(t, names, "normalized_counts_matrix")
	assert.NotEmpty(t, c.Conventions)
}

func TestParse_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no tables",
			yaml:    "conventions:\n  - something\n",
			wantErr: "no tables",
		},
		{
			name:    "table missing name",
			yaml:    "tables:\n  - description: orphaned\n",
			wantErr: "empty name",
		},
		{
			name:    "not yaml",
			yaml:    "{tables: [",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRender_IncludesTablesColumnsAndConventions(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`
conventions:
  - "padj < 0.05 means significant"
tables:
  - name: deseq2_results
    description: Per-gene statistics.
    columns:
      - name: gene_name
        description: Gene symbol.
    notes: One row per gene per comparison.
`))
	require.NoError(t, err)

	out := c.Render()
	assert.Contains(t, out, "Table: deseq2_results")
	assert.Contains(t, out, "gene_name: Gene symbol.")
	assert.Contains(t, out, "Note: One row per gene per comparison.")
	assert.Contains(t, out, "padj < 0.05 means significant")
}
