package react

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLLMClient is a mock LLM client for testing.
type mockLLMClient struct {
	responses []mockResponse
	callIndex int

	// recorded per call
	toolsSeen    [][]Tool
	messagesSeen [][]Message
}

type mockResponse struct {
	text      string
	toolCalls []mockToolCall
	err       error
}

type mockToolCall struct {
	id    string
	name  string
	input map[string]any
	raw   string
}

func (m *mockLLMClient) Call(ctx context.Context, messages []Message, tools []Tool) (Response, error) {
	m.toolsSeen = append(m.toolsSeen, tools)
	m.messagesSeen = append(m.messagesSeen, messages)
	if m.callIndex >= len(m.responses) {
		// Return empty response if we've exhausted responses
		return &mockLLMResponse{}, nil
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	if resp.err != nil {
		return nil, resp.err
	}
	return &mockLLMResponse{text: resp.text, toolCalls: resp.toolCalls}, nil
}

func (m *mockLLMClient) ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error) {
	var msgs []Message
	for i, tu := range toolUses {
		content := results[i].Content
		msgs = append(msgs, GenericMessage{Role: "tool", Content: "Tool " + tu.Name + ": " + content})
	}
	return msgs, nil
}

func (m *mockLLMClient) CreateUserMessage(content string) Message {
	return GenericMessage{Role: "user", Content: content}
}

func (m *mockLLMClient) CreateAssistantMessage(content string) Message {
	return GenericMessage{Role: "assistant", Content: content}
}

// mockLLMResponse is a mock LLM response.
type mockLLMResponse struct {
	text      string
	toolCalls []mockToolCall
}

func (r *mockLLMResponse) Content() []ContentBlock {
	var blocks []ContentBlock
	for _, tc := range r.toolCalls {
		blocks = append(blocks, &mockToolUseBlock{id: tc.id, name: tc.name, input: tc.input, raw: tc.raw})
	}
	if r.text != "" {
		blocks = append(blocks, &mockTextBlock{text: r.text})
	}
	return blocks
}

func (r *mockLLMResponse) ToMessage() Message {
	return GenericMessage{Role: "assistant", Content: r.text}
}

// mockTextBlock is a mock text content block.
type mockTextBlock struct {
	text string
}

func (b *mockTextBlock) AsText() (string, bool) {
	return b.text, true
}

func (b *mockTextBlock) AsToolUse() (string, string, []byte, bool) {
	return "", "", nil, false
}

// mockToolUseBlock is a mock tool use content block.
type mockToolUseBlock struct {
	id    string
	name  string
	input map[string]any
	raw   string
}

func (b *mockToolUseBlock) AsText() (string, bool) {
	return "", false
}

func (b *mockToolUseBlock) AsToolUse() (string, string, []byte, bool) {
	if b.raw != "" {
		return b.id, b.name, []byte(b.raw), true
	}
	inputBytes, _ := json.Marshal(b.input)
	return b.id, b.name, inputBytes, true
}

// mockToolClient is a mock tool client for testing.
type mockToolClient struct {
	tools    []Tool
	results  map[string]mockToolResult
	listErr  error
	callErrs map[string]error
}

type mockToolResult struct {
	content string
	isError bool
}

func (m *mockToolClient) ListTools(ctx context.Context) ([]Tool, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.tools, nil
}

func (m *mockToolClient) CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	if err, ok := m.callErrs[name]; ok {
		return "", false, err
	}
	if result, ok := m.results[name]; ok {
		return result.content, result.isError, nil
	}
	return "no result", false, nil
}

func queryTool() []Tool {
	return []Tool{{Name: "run_sql_query", Description: "Execute SQL", InputSchema: map[string]any{}}}
}

func TestAgent_ConfigValidate(t *testing.T) {
	_, err := New(Config{ToolClient: &mockToolClient{}})
	require.ErrorContains(t, err, "LLM client is required")

	_, err = New(Config{LLM: &mockLLMClient{}})
	require.ErrorContains(t, err, "tool client is required")

	cfg := Config{LLM: &mockLLMClient{}, ToolClient: &mockToolClient{}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxRounds, cfg.MaxRounds)
	assert.Equal(t, DefaultMaxTurnDuration, cfg.MaxTurnDuration)
	assert.Equal(t, DefaultMaxContextTokens, cfg.MaxContextTokens)
	assert.Equal(t, DefaultFinalizationPrompt, cfg.FinalizationPrompt)
}

func TestAgent_Run_AnswersDirectly(t *testing.T) {
	llm := &mockLLMClient{
		responses: []mockResponse{
			{text: "The study contains 12 samples across two conditions."},
		},
	}

	agent, err := New(Config{LLM: llm, ToolClient: &mockToolClient{tools: queryTool()}})
	require.NoError(t, err)

	result, err := agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "How many samples?"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "The study contains 12 samples across two conditions.", result.FinalText)
	assert.Equal(t, 1, result.Rounds)
	assert.Empty(t, result.Invocations)
	assert.Equal(t, 1, llm.callIndex)
}

func TestAgent_Run_ToolRoundThenAnswer(t *testing.T) {
	llm := &mockLLMClient{
		responses: []mockResponse{
			// Round 1: Model calls query tool
			{
				text:      "Let me query the results table.",
				toolCalls: []mockToolCall{{id: "1", name: "run_sql_query", input: map[string]any{"query": "SELECT COUNT(*) FROM deseq2_results"}}},
			},
			// Round 2: Model provides final response (no tool calls)
			{
				text: "There are 18241 genes in the results table.",
			},
		},
	}

	toolClient := &mockToolClient{
		tools:   queryTool(),
		results: map[string]mockToolResult{"run_sql_query": {content: "count\n18241", isError: false}},
	}

	agent, err := New(Config{LLM: llm, ToolClient: toolClient})
	require.NoError(t, err)

	var streamed bytes.Buffer
	result, err := agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "How many genes?"}}, &streamed)
	require.NoError(t, err)

	assert.Contains(t, result.FinalText, "18241 genes")
	assert.Equal(t, 2, result.Rounds)
	assert.Equal(t, 2, llm.callIndex)

	// Intermediate text is streamed, the final answer is not.
	assert.Contains(t, streamed.String(), "Let me query the results table.")
	assert.NotContains(t, streamed.String(), "18241 genes")

	require.Len(t, result.Invocations, 1)
	assert.Equal(t, "run_sql_query", result.Invocations[0].Name)
	assert.Equal(t, "SELECT COUNT(*) FROM deseq2_results", result.Invocations[0].Input["query"])
	assert.Equal(t, "count\n18241", result.Invocations[0].Result.Content)
	assert.False(t, result.Invocations[0].Result.IsError)
}

func TestAgent_Run_RecordsInvocationsInOrder(t *testing.T) {
	llm := &mockLLMClient{
		responses: []mockResponse{
			// One response requesting two tools; they must run sequentially.
			{
				toolCalls: []mockToolCall{
					{id: "1", name: "describe_schema", input: map[string]any{}},
					{id: "2", name: "run_sql_query", input: map[string]any{"query": "SELECT 1"}},
				},
			},
			{text: "Done."},
		},
	}

	toolClient := &mockToolClient{
		tools: []Tool{
			{Name: "describe_schema", Description: "List tables", InputSchema: map[string]any{}},
			{Name: "run_sql_query", Description: "Execute SQL", InputSchema: map[string]any{}},
		},
		results: map[string]mockToolResult{
			"describe_schema": {content: "Table: deseq2_results"},
			"run_sql_query":   {content: "1"},
		},
	}

	agent, err := New(Config{LLM: llm, ToolClient: toolClient})
	require.NoError(t, err)

	result, err := agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "Explore"}}, nil)
	require.NoError(t, err)

	require.Len(t, result.Invocations, 2)
	assert.Equal(t, "describe_schema", result.Invocations[0].Name)
	assert.Equal(t, "run_sql_query", result.Invocations[1].Name)
}

func TestAgent_Run_ToolDispatchErrorBecomesObservation(t *testing.T) {
	llm := &mockLLMClient{
		responses: []mockResponse{
			{toolCalls: []mockToolCall{{id: "1", name: "run_sql_query", input: map[string]any{"query": "SELECT 1"}}}},
			{text: "The tool is unavailable right now."},
		},
	}

	toolClient := &mockToolClient{
		tools:    queryTool(),
		callErrs: map[string]error{"run_sql_query": errors.New("transport closed")},
	}

	agent, err := New(Config{LLM: llm, ToolClient: toolClient})
	require.NoError(t, err)

	result, err := agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "Query"}}, nil)
	require.NoError(t, err)

	require.Len(t, result.Invocations, 1)
	assert.True(t, result.Invocations[0].Result.IsError)
	assert.Contains(t, result.Invocations[0].Result.Content, "transport closed")
	assert.Contains(t, result.FinalText, "unavailable")
}

func TestAgent_Run_MalformedToolInputBecomesObservation(t *testing.T) {
	llm := &mockLLMClient{
		responses: []mockResponse{
			{toolCalls: []mockToolCall{{id: "1", name: "run_sql_query", raw: `{"query": `}}},
			{text: "Let me restate that query properly."},
		},
	}

	toolClient := &mockToolClient{
		tools:   queryTool(),
		results: map[string]mockToolResult{"run_sql_query": {content: "should not be reached"}},
	}

	agent, err := New(Config{LLM: llm, ToolClient: toolClient})
	require.NoError(t, err)

	result, err := agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "Query"}}, nil)
	require.NoError(t, err)

	require.Len(t, result.Invocations, 1)
	assert.True(t, result.Invocations[0].Result.IsError)
	assert.Contains(t, result.Invocations[0].Result.Content, "model output was malformed")
	assert.NotContains(t, result.Invocations[0].Result.Content, "should not be reached")
}

func TestAgent_Run_RoundBudgetTriggersFinalization(t *testing.T) {
	// Every response asks for another tool; the loop must cut the model
	// off after MaxRounds and demand an answer without tools.
	loop := mockResponse{
		toolCalls: []mockToolCall{{id: "1", name: "run_sql_query", input: map[string]any{"query": "SELECT 1"}}},
	}
	llm := &mockLLMClient{
		responses: []mockResponse{
			loop, loop, loop,
			{text: "Based on what I saw, the answer is 42."},
		},
	}

	toolClient := &mockToolClient{
		tools:   queryTool(),
		results: map[string]mockToolResult{"run_sql_query": {content: "1"}},
	}

	agent, err := New(Config{LLM: llm, ToolClient: toolClient, MaxRounds: 3})
	require.NoError(t, err)

	result, err := agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "Loop forever"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Based on what I saw, the answer is 42.", result.FinalText)
	assert.Equal(t, 4, result.Rounds)

	// The finalization call must not offer tools.
	require.Len(t, llm.toolsSeen, 4)
	assert.Nil(t, llm.toolsSeen[3])

	// The finalization prompt is injected as a user message.
	lastMessages := llm.messagesSeen[3]
	prompt, ok := lastMessages[len(lastMessages)-1].(GenericMessage)
	require.True(t, ok)
	assert.Equal(t, DefaultFinalizationPrompt, prompt.Content)
}

func TestAgent_Run_WallClockBudgetTriggersFinalization(t *testing.T) {
	llm := &mockLLMClient{
		responses: []mockResponse{
			{text: "Sorry, I ran out of time. The last query suggested 3 clusters."},
		},
	}

	agent, err := New(Config{
		LLM:             llm,
		ToolClient:      &mockToolClient{tools: queryTool()},
		MaxTurnDuration: time.Nanosecond,
	})
	require.NoError(t, err)

	result, err := agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "Slow question"}}, nil)
	require.NoError(t, err)

	assert.Contains(t, result.FinalText, "3 clusters")
	assert.Equal(t, 1, result.Rounds)
	require.Len(t, llm.toolsSeen, 1)
	assert.Nil(t, llm.toolsSeen[0])
}

func TestAgent_Run_EmptyResponseCorrected(t *testing.T) {
	llm := &mockLLMClient{
		responses: []mockResponse{
			{text: "   "},
			{text: "The top gene is TP53."},
		},
	}

	agent, err := New(Config{LLM: llm, ToolClient: &mockToolClient{tools: queryTool()}})
	require.NoError(t, err)

	result, err := agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "Top gene?"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "The top gene is TP53.", result.FinalText)
	assert.Equal(t, 2, result.Rounds)

	// The second call must carry the corrective reprompt.
	secondMessages := llm.messagesSeen[1]
	prompt, ok := secondMessages[len(secondMessages)-1].(GenericMessage)
	require.True(t, ok)
	assert.Equal(t, DefaultCorrectionPrompt, prompt.Content)
}

func TestAgent_Run_CorrectionBudgetExhausted(t *testing.T) {
	// No queued responses: every call comes back empty, including the
	// finalization call, so the caller gets the fallback answer.
	llm := &mockLLMClient{}

	agent, err := New(Config{LLM: llm, ToolClient: &mockToolClient{tools: queryTool()}})
	require.NoError(t, err)

	result, err := agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "Anything?"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, FallbackAnswer, result.FinalText)

	// Three empty rounds, then one finalization call without tools.
	require.Len(t, llm.toolsSeen, 4)
	assert.NotNil(t, llm.toolsSeen[0])
	assert.Nil(t, llm.toolsSeen[3])
}

func TestAgent_Run_FinalizationFailureFallsBack(t *testing.T) {
	llm := &mockLLMClient{
		responses: []mockResponse{
			{text: ""}, {text: ""}, {text: ""},
			{err: errors.New("connection reset")},
		},
	}

	agent, err := New(Config{LLM: llm, ToolClient: &mockToolClient{tools: queryTool()}})
	require.NoError(t, err)

	result, err := agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "Anything?"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, result.FinalText)
}

func TestAgent_Run_CapacityErrorPropagates(t *testing.T) {
	llm := &mockLLMClient{
		responses: []mockResponse{
			{err: fmt.Errorf("%w: 429 from upstream", ErrUpstreamCapacity)},
		},
	}

	agent, err := New(Config{LLM: llm, ToolClient: &mockToolClient{tools: queryTool()}})
	require.NoError(t, err)

	_, err = agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "Busy day"}}, nil)
	require.ErrorIs(t, err, ErrUpstreamCapacity)
}

func TestAgent_Run_ListToolsError(t *testing.T) {
	agent, err := New(Config{LLM: &mockLLMClient{}, ToolClient: &mockToolClient{listErr: errors.New("server down")}})
	require.NoError(t, err)

	_, err = agent.Run(context.Background(), []Message{GenericMessage{Role: "user", Content: "Hi"}}, nil)
	require.ErrorContains(t, err, "failed to list tools")
}

func TestAgent_Run_CompactsLongConversations(t *testing.T) {
	llm := &mockLLMClient{
		responses: []mockResponse{
			// First call is the summarization request.
			{text: "User asked about differential expression; two queries ran; top hit was TP53."},
			// Second call answers on the compacted conversation.
			{text: "TP53 remains the strongest hit."},
		},
	}

	agent, err := New(Config{
		LLM:              llm,
		ToolClient:       &mockToolClient{tools: queryTool()},
		MaxContextTokens: 1,
	})
	require.NoError(t, err)

	var initial []Message
	for i := 0; i < 8; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		initial = append(initial, GenericMessage{Role: role, Content: strings.Repeat("exchange detail ", 10)})
	}

	result, err := agent.Run(context.Background(), initial, nil)
	require.NoError(t, err)

	assert.Equal(t, "TP53 remains the strongest hit.", result.FinalText)
	assert.Equal(t, 2, llm.callIndex)

	// The summarization call carries no tools.
	assert.Nil(t, llm.toolsSeen[0])
	assert.NotNil(t, llm.toolsSeen[1])

	// Compacted shape: first message, summary, six recent, final answer.
	require.Len(t, result.FullConversation, 9)
	summary, ok := result.FullConversation[1].(GenericMessage)
	require.True(t, ok)
	assert.Contains(t, summary.Content, "Summary of the earlier conversation:")
	assert.Contains(t, summary.Content, "TP53")
}
