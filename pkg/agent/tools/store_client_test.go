package tools

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omixlabs/seqdesk/pkg/session"
	"github.com/omixlabs/seqdesk/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedStudyDB(t *testing.T, extraRows int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "study.db")
	db, err := sql.Open(store.DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()

	stmts := []string{
		`CREATE TABLE deseq2_results (
			gene_name TEXT,
			comparison TEXT,
			log2FoldChange REAL,
			padj REAL
		)`,
		`INSERT INTO deseq2_results VALUES
			('TP53', 'treated_vs_control', 2.4, 0.0004),
			('BRCA1', 'treated_vs_control', -1.1, 0.021),
			('GAPDH', 'treated_vs_control', 0.05, 0.97)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	for i := 0; i < extraRows; i++ {
		_, err := db.Exec(
			`INSERT INTO deseq2_results VALUES (?, 'treated_vs_control', 0.5, 0.5)`,
			fmt.Sprintf("GENE%03d", i),
		)
		require.NoError(t, err)
	}
	return path
}

func newStoreFixture(t *testing.T, extraRows int) (*StoreToolClient, *session.ResultCache) {
	t.Helper()

	st, err := store.New(store.Config{Logger: testLogger(), DSN: seedStudyDB(t, extraRows)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cache := session.NewResultCache(clockwork.NewFakeClock(), 0)
	return NewStoreToolClient(st, cache), cache
}

func TestStoreToolClient_ListTools(t *testing.T) {
	t.Parallel()

	client, _ := newStoreFixture(t, 0)
	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 3)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Equal(t, []string{"query", "describe_schema", "sample_values"}, names)

	// The query tool declares its required parameter.
	require.Equal(t, "query", tools[0].Name)
	assert.Equal(t, []string{"sql"}, tools[0].InputSchema["required"])
}

func TestStoreToolClient_Query(t *testing.T) {
	t.Parallel()

	client, cache := newStoreFixture(t, 0)

	obs, isErr, err := client.CallToolText(context.Background(), "query", map[string]any{
		"sql": "SELECT gene_name, log2FoldChange FROM deseq2_results ORDER BY gene_name",
	})
	require.NoError(t, err)
	require.False(t, isErr)

	assert.Contains(t, obs, "Query returned 3 rows.")
	assert.Contains(t, obs, "Here are all the results:")
	assert.Contains(t, obs, "TP53")
	assert.Contains(t, obs, storedNote)

	cached, ok := cache.Read()
	require.True(t, ok)
	assert.Equal(t, []string{"gene_name", "log2FoldChange"}, cached.Columns)
	assert.Len(t, cached.Rows, 3)
	assert.Contains(t, cached.Query, "ORDER BY gene_name")
}

func TestStoreToolClient_Query_PreviewTruncated(t *testing.T) {
	t.Parallel()

	client, cache := newStoreFixture(t, 30)

	obs, isErr, err := client.CallToolText(context.Background(), "query", map[string]any{
		"sql": "SELECT gene_name FROM deseq2_results",
	})
	require.NoError(t, err)
	require.False(t, isErr)

	assert.Contains(t, obs, "Query returned 33 rows. Showing the first 15:")

	// The cache holds everything, not just the preview.
	cached, ok := cache.Read()
	require.True(t, ok)
	assert.Len(t, cached.Rows, 33)
}

func TestStoreToolClient_Query_EmptyResultNotCached(t *testing.T) {
	t.Parallel()

	client, cache := newStoreFixture(t, 0)

	obs, isErr, err := client.CallToolText(context.Background(), "query", map[string]any{
		"sql": "SELECT * FROM deseq2_results WHERE gene_name = 'MISSING'",
	})
	require.NoError(t, err)
	require.False(t, isErr)
	assert.Equal(t, "Query executed successfully but returned no results.", obs)

	_, ok := cache.Read()
	assert.False(t, ok)
}

func TestStoreToolClient_Query_ErrorObservations(t *testing.T) {
	t.Parallel()

	client, cache := newStoreFixture(t, 0)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{
			name: "missing sql parameter",
			args: map[string]any{},
			want: "sql parameter is required",
		},
		{
			name: "write rejected",
			args: map[string]any{"sql": "INSERT INTO deseq2_results VALUES ('X', 'c', 0, 0)"},
			want: "not allowed on this read-only interface",
		},
		{
			name: "multiple statements rejected",
			args: map[string]any{"sql": "SELECT 1; SELECT 2"},
			want: "multiple SQL statements are not allowed",
		},
		{
			name: "execution failure carries recommendation",
			args: map[string]any{"sql": "SELECT * FROM missing_table"},
			want: queryRecommendation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, isErr, err := client.CallToolText(context.Background(), "query", tt.args)
			require.NoError(t, err)
			assert.True(t, isErr)
			assert.Contains(t, obs, tt.want)
		})
	}

	// None of the failures touched the cache.
	_, ok := cache.Read()
	assert.False(t, ok)
}

func TestStoreToolClient_DescribeSchema(t *testing.T) {
	t.Parallel()

	client, _ := newStoreFixture(t, 0)

	obs, isErr, err := client.CallToolText(context.Background(), "describe_schema", nil)
	require.NoError(t, err)
	require.False(t, isErr)
	assert.Contains(t, obs, "Table: deseq2_results")
	assert.Contains(t, obs, "log2FoldChange (REAL)")
}

func TestStoreToolClient_SampleValues(t *testing.T) {
	t.Parallel()

	client, _ := newStoreFixture(t, 0)

	obs, isErr, err := client.CallToolText(context.Background(), "sample_values", nil)
	require.NoError(t, err)
	require.False(t, isErr)
	assert.Contains(t, obs, "deseq2_results.gene_name")
	assert.Contains(t, obs, "TP53")
}

func TestStoreToolClient_UnknownTool(t *testing.T) {
	t.Parallel()

	client, _ := newStoreFixture(t, 0)

	_, isErr, err := client.CallToolText(context.Background(), "drop_table", nil)
	require.Error(t, err)
	assert.True(t, isErr)
	assert.Contains(t, err.Error(), "unknown tool")
}
