package server

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/omixlabs/seqdesk/pkg/session"
)

func testMCP(t *testing.T) *mcp.Server {
	t.Helper()
	return mcp.NewServer(&mcp.Implementation{
		Name:    "Test Server",
		Version: "1.0.0",
	}, nil)
}

func TestMCPServer_ToolQuery_Register(t *testing.T) {
	t.Parallel()

	cache := session.NewResultCache(nil, 0)
	err := RegisterQueryTool(testLogger(t), testMCP(t), testStore(t), cache)
	require.NoError(t, err)
}

func TestMCPServer_ToolQuery_HandleQuery(t *testing.T) {
	t.Parallel()

	t.Run("executes query and retains result", func(t *testing.T) {
		t.Parallel()

		st := testStore(t)
		cache := session.NewResultCache(nil, 0)

		out, err := handleQuery(t.Context(), st, cache, QueryInput{
			SQL: "SELECT gene_name, log2FoldChange FROM deseq2_results ORDER BY gene_name",
		})
		require.NoError(t, err)
		require.Equal(t, []string{"gene_name", "log2FoldChange"}, out.Columns)
		require.Len(t, out.Rows, 2)
		require.Equal(t, 2, out.Count)
		require.Equal(t, "BRCA1", out.Rows[0]["gene_name"])
		require.Equal(t, "TP53", out.Rows[1]["gene_name"])

		cached, ok := cache.Read()
		require.True(t, ok)
		require.Equal(t, out.Columns, cached.Columns)
		require.Len(t, cached.Rows, 2)
	})

	t.Run("empty result is not cached", func(t *testing.T) {
		t.Parallel()

		st := testStore(t)
		cache := session.NewResultCache(nil, 0)

		out, err := handleQuery(t.Context(), st, cache, QueryInput{
			SQL: "SELECT gene_name FROM deseq2_results WHERE padj > 1",
		})
		require.NoError(t, err)
		require.Equal(t, 0, out.Count)
		require.Empty(t, out.Rows)

		_, ok := cache.Read()
		require.False(t, ok)
	})

	t.Run("write statements are rejected", func(t *testing.T) {
		t.Parallel()

		st := testStore(t)
		cache := session.NewResultCache(nil, 0)

		_, err := handleQuery(t.Context(), st, cache, QueryInput{
			SQL: "DELETE FROM deseq2_results",
		})
		require.Error(t, err)

		_, ok := cache.Read()
		require.False(t, ok)
	})

	t.Run("execution error", func(t *testing.T) {
		t.Parallel()

		st := testStore(t)
		cache := session.NewResultCache(nil, 0)

		_, err := handleQuery(t.Context(), st, cache, QueryInput{
			SQL: "SELECT nope FROM deseq2_results",
		})
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to execute query")
	})
}
