package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omixlabs/seqdesk/pkg/agent/prompts"
	"github.com/omixlabs/seqdesk/pkg/agent/react"
	"github.com/omixlabs/seqdesk/pkg/chart"
	"github.com/omixlabs/seqdesk/pkg/report"
	"github.com/omixlabs/seqdesk/pkg/session"
	"github.com/omixlabs/seqdesk/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedLLM pops one response per Call.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []scriptedResponse
}

type scriptedResponse struct {
	text      string
	toolCalls []scriptedToolCall
	err       error
}

type scriptedToolCall struct {
	id    string
	name  string
	input string
}

func (s *scriptedLLM) Call(_ context.Context, _ []react.Message, _ []react.Tool) (react.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.responses) == 0 {
		return nil, errors.New("scripted LLM ran out of responses")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &scriptedLLMResponse{r: next}, nil
}

func (s *scriptedLLM) CreateUserMessage(content string) react.Message {
	return react.GenericMessage{Role: "user", Content: content}
}

func (s *scriptedLLM) CreateAssistantMessage(content string) react.Message {
	return react.GenericMessage{Role: "assistant", Content: content}
}

func (s *scriptedLLM) ConvertToolResults(_ []react.ToolUse, results []react.ToolResult) ([]react.Message, error) {
	msgs := make([]react.Message, 0, len(results))
	for _, r := range results {
		msgs = append(msgs, react.GenericMessage{Role: "user", Content: r.Content})
	}
	return msgs, nil
}

type scriptedLLMResponse struct {
	r scriptedResponse
}

func (r *scriptedLLMResponse) Content() []react.ContentBlock {
	var blocks []react.ContentBlock
	if r.r.text != "" {
		blocks = append(blocks, scriptedBlock{text: r.r.text})
	}
	for _, tc := range r.r.toolCalls {
		blocks = append(blocks, scriptedBlock{toolCall: &tc})
	}
	return blocks
}

func (r *scriptedLLMResponse) ToMessage() react.Message {
	return react.GenericMessage{Role: "assistant", Content: r.r.text}
}

type scriptedBlock struct {
	text     string
	toolCall *scriptedToolCall
}

func (b scriptedBlock) AsText() (string, bool) {
	if b.toolCall != nil || b.text == "" {
		return "", false
	}
	return b.text, true
}

func (b scriptedBlock) AsToolUse() (string, string, []byte, bool) {
	if b.toolCall == nil {
		return "", "", nil, false
	}
	return b.toolCall.id, b.toolCall.name, []byte(b.toolCall.input), true
}

func seedStudyDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "study.db")
	db, err := sql.Open(store.DriverSQLite, path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE deseq2_results (gene_name TEXT, log2FoldChange REAL, padj REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO deseq2_results VALUES
		('TP53', 2.4, 0.0004),
		('BRCA1', -1.1, 0.021),
		('GAPDH', 0.05, 0.97)`)
	require.NoError(t, err)
	return path
}

type fixture struct {
	orch     *Orchestrator
	sess     *session.Session
	store    *store.Store
	renderer *chart.Renderer
	exporter *report.Exporter
	dbPath   string
}

func newFixture(t *testing.T, llm react.LLMClient, opts ...func(*Config)) *fixture {
	t.Helper()

	dbPath := seedStudyDB(t)
	st, err := store.New(store.Config{Logger: testLogger(), DSN: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	renderer, err := chart.NewRenderer(chart.Config{
		Logger:    testLogger(),
		OutputDir: filepath.Join(t.TempDir(), "plots"),
	})
	require.NoError(t, err)

	exporter, err := report.NewExporter(report.Config{
		Logger:    testLogger(),
		OutputDir: filepath.Join(t.TempDir(), "reports"),
	})
	require.NoError(t, err)

	pr, err := prompts.Load()
	require.NoError(t, err)

	cfg := Config{
		Logger:   testLogger(),
		LLM:      llm,
		Store:    st,
		Renderer: renderer,
		Exporter: exporter,
		Prompts:  pr,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	orch, err := New(cfg)
	require.NoError(t, err)

	return &fixture{
		orch:     orch,
		sess:     session.New("test-session", nil, 0),
		store:    st,
		renderer: renderer,
		exporter: exporter,
		dbPath:   dbPath,
	}
}

func TestOrchestrator_ConfigValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Logger:   testLogger(),
			LLM:      &scriptedLLM{},
			Store:    &store.Store{},
			Renderer: &chart.Renderer{},
			Exporter: &report.Exporter{},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "missing logger", mutate: func(c *Config) { c.Logger = nil }, wantErr: "logger is required"},
		{name: "missing llm", mutate: func(c *Config) { c.LLM = nil }, wantErr: "LLM client is required"},
		{name: "missing store", mutate: func(c *Config) { c.Store = nil }, wantErr: "store is required"},
		{name: "missing renderer", mutate: func(c *Config) { c.Renderer = nil }, wantErr: "chart renderer is required"},
		{name: "missing exporter", mutate: func(c *Config) { c.Exporter = nil }, wantErr: "report exporter is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("defaults applied", func(t *testing.T) {
		t.Parallel()

		cfg := base()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, DefaultResetInterval, cfg.ResetInterval)
	})
}

func TestOrchestrator_Ask_DirectAnswer(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{responses: []scriptedResponse{{text: "This study compares treated and control samples."}}}
	f := newFixture(t, llm)

	turn, err := f.orch.Ask(context.Background(), f.sess, "What is this study about?", nil)
	require.NoError(t, err)

	assert.Equal(t, "This study compares treated and control samples.", turn.Reply)
	assert.False(t, turn.Degraded)
	assert.Equal(t, 1, turn.Rounds)
	assert.Empty(t, turn.ChartFile)
	assert.Empty(t, turn.ReportFile)

	// The exchange is remembered as a user/assistant pair.
	assert.Equal(t, 1, f.sess.Memory.Exchanges())
	assert.Equal(t, 2, f.sess.Memory.Len())
}

func TestOrchestrator_Ask_ChartAndReportTurn(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{responses: []scriptedResponse{
		{toolCalls: []scriptedToolCall{{
			id: "t1", name: "query",
			input: `{"sql": "SELECT gene_name, log2FoldChange, padj FROM deseq2_results"}`,
		}}},
		{toolCalls: []scriptedToolCall{{
			id: "t2", name: "render_chart",
			input: `{"spec": "volcano|x=log2FoldChange|y=padj|title=Treated vs control"}`,
		}}},
		{toolCalls: []scriptedToolCall{{
			id: "t3", name: "export_report", input: `{}`,
		}}},
		{text: "TP53 is strongly upregulated; see the volcano plot and the exported report."},
	}}
	f := newFixture(t, llm)

	turn, err := f.orch.Ask(context.Background(), f.sess, "Plot a volcano and export the data", nil)
	require.NoError(t, err)

	assert.Contains(t, turn.Reply, "TP53")
	assert.Equal(t, 4, turn.Rounds)

	require.NotEmpty(t, turn.ChartFile)
	assert.Contains(t, turn.ChartFile, "volcano_")
	_, err = os.Stat(filepath.Join(f.renderer.OutputDir(), turn.ChartFile))
	require.NoError(t, err)

	require.NotEmpty(t, turn.ReportFile)
	assert.Contains(t, turn.ReportFile, "report_")
	_, err = os.Stat(filepath.Join(f.exporter.OutputDir(), turn.ReportFile))
	require.NoError(t, err)
}

func TestOrchestrator_Ask_CapacityDegradesTurn(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{responses: []scriptedResponse{
		{err: fmt.Errorf("%w: upstream returned 529", react.ErrUpstreamCapacity)},
	}}
	f := newFixture(t, llm)

	turn, err := f.orch.Ask(context.Background(), f.sess, "Anything?", nil)
	require.NoError(t, err)

	assert.True(t, turn.Degraded)
	assert.Equal(t, CapacityReply, turn.Reply)

	// The failed turn leaves no trace; retrying starts from the same state.
	assert.Zero(t, f.sess.Memory.Len())
	assert.Zero(t, f.sess.Memory.Exchanges())
}

func TestOrchestrator_Ask_NonCapacityFailurePropagates(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{responses: []scriptedResponse{
		{err: errors.New("invalid api key")},
	}}
	f := newFixture(t, llm)

	_, err := f.orch.Ask(context.Background(), f.sess, "Anything?", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn failed")
	assert.Zero(t, f.sess.Memory.Len())
}

func TestOrchestrator_PeriodicReset_ExactlyOnceIn26Exchanges(t *testing.T) {
	t.Parallel()

	responses := make([]scriptedResponse, 26)
	for i := range responses {
		responses[i] = scriptedResponse{text: fmt.Sprintf("answer %d", i+1)}
	}
	f := newFixture(t, &scriptedLLM{responses: responses})

	resets := 0
	prev := 0
	for i := 0; i < 26; i++ {
		if i == 25 {
			// Stale state that the reset on the next turn must drop.
			f.sess.Cache.Store([]string{"gene_name"}, []store.Row{{"gene_name": "TP53"}}, "SELECT gene_name FROM deseq2_results")
		}

		_, err := f.orch.Ask(context.Background(), f.sess, fmt.Sprintf("question %d", i+1), nil)
		require.NoError(t, err)

		cur := f.sess.Memory.Exchanges()
		if cur <= prev {
			resets++
		}
		prev = cur
	}

	assert.Equal(t, 1, resets)
	assert.Equal(t, 1, f.sess.Memory.Exchanges())

	_, ok := f.sess.Cache.Read()
	assert.False(t, ok)
}

func TestOrchestrator_Reset_InvalidatesIntrospection(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{responses: []scriptedResponse{{text: "ok"}}}
	f := newFixture(t, llm)

	schemas, err := f.store.DescribeSchema(context.Background())
	require.NoError(t, err)
	require.Len(t, schemas, 1)

	db, err := sql.Open(store.DriverSQLite, f.dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE late_arrival (x TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Snapshot still served until the reset invalidates it.
	schemas, err = f.store.DescribeSchema(context.Background())
	require.NoError(t, err)
	assert.Len(t, schemas, 1)

	f.sess.Memory.Append(react.GenericMessage{Role: "user", Content: "hello"})
	f.orch.Reset(f.sess)
	assert.Zero(t, f.sess.Memory.Len())

	schemas, err = f.store.DescribeSchema(context.Background())
	require.NoError(t, err)
	assert.Len(t, schemas, 2)
}

type countingToolClient struct {
	inner react.ToolClient
	calls *int
}

func (c countingToolClient) ListTools(ctx context.Context) ([]react.Tool, error) {
	return c.inner.ListTools(ctx)
}

func (c countingToolClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	*c.calls++
	return c.inner.CallToolText(ctx, name, args)
}

func TestOrchestrator_Ask_WrapsToolClient(t *testing.T) {
	t.Parallel()

	llm := &scriptedLLM{responses: []scriptedResponse{
		{toolCalls: []scriptedToolCall{{
			id: "t1", name: "query",
			input: `{"sql": "SELECT gene_name FROM deseq2_results"}`,
		}}},
		{text: "done"},
	}}

	calls := 0
	f := newFixture(t, llm, func(c *Config) {
		c.WrapToolClient = func(inner react.ToolClient) react.ToolClient {
			return countingToolClient{inner: inner, calls: &calls}
		}
	})

	_, err := f.orch.Ask(context.Background(), f.sess, "List genes", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestArtifacts_FirstSuccessWins(t *testing.T) {
	t.Parallel()

	invocations := []react.ToolInvocation{
		{Name: "render_chart", Result: react.ToolResult{Content: "no data available", IsError: true}},
		{Name: "render_chart", Result: react.ToolResult{Content: "Chart saved to: volcano_01_02_03_04_05.html"}},
		{Name: "render_chart", Result: react.ToolResult{Content: "Chart saved to: bar_09_08_07_06_05.html"}},
		{Name: "export_report", Result: react.ToolResult{Content: "Report saved to: report_01_02_03_04_05.csv"}},
		{Name: "query", Result: react.ToolResult{Content: "Query returned 3 rows."}},
	}

	chartFile, reportFile := artifacts(invocations)
	assert.Equal(t, "volcano_01_02_03_04_05.html", chartFile)
	assert.Equal(t, "report_01_02_03_04_05.csv", reportFile)
}
