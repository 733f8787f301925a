// Package react implements a bounded tool-calling loop: the model reasons,
// requests tools, observes their results, and settles on a final answer.
// Budgets cap both the number of rounds and the wall-clock time of a turn;
// exhausting either forces a finalization call without tools.
package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultMaxRounds bounds the model calls in one turn.
	DefaultMaxRounds = 15

	// DefaultMaxTurnDuration bounds the wall-clock time of one turn.
	DefaultMaxTurnDuration = 75 * time.Second

	// DefaultMaxContextTokens triggers conversation compaction when the
	// estimated context size grows past it.
	DefaultMaxContextTokens = 20000

	// compactKeepRecent is how many trailing messages survive compaction
	// verbatim.
	compactKeepRecent = 6

	// maxCorrections bounds the reprompts sent when the model returns
	// neither text nor tool calls.
	maxCorrections = 2
)

const (
	DefaultFinalizationPrompt = "You have used the time and tool budget for this turn. Provide your final answer now using only what you have already learned. Do not request any more tools."

	DefaultSummaryPrompt = "Summarize the conversation so far in a compact form that preserves everything needed to finish the task: the user's question, the queries run, the key results observed, and any files produced."

	DefaultCorrectionPrompt = "Your last reply contained neither an answer nor a tool call. Either call one of the available tools or answer the user's question directly."

	// FallbackAnswer is returned when even the finalization call yields
	// nothing usable.
	FallbackAnswer = "I was unable to complete the answer within the allotted budget. Please try rephrasing the question or narrowing its scope."
)

// ErrMalformedOutput marks tool calls whose input failed structured
// decoding. They become error observations, never a crash.
var ErrMalformedOutput = errors.New("model output was malformed")

type Config struct {
	Logger     *slog.Logger
	LLM        LLMClient
	ToolClient ToolClient

	// MaxRounds caps model calls per turn. Defaults to DefaultMaxRounds.
	MaxRounds int

	// MaxTurnDuration caps the wall-clock budget per turn. Defaults to
	// DefaultMaxTurnDuration.
	MaxTurnDuration time.Duration

	// MaxContextTokens caps the estimated conversation size before older
	// messages are summarized away. Defaults to DefaultMaxContextTokens.
	MaxContextTokens int

	FinalizationPrompt string
	SummaryPrompt      string
	CorrectionPrompt   string
}

func (c *Config) Validate() error {
	if c.LLM == nil {
		return errors.New("LLM client is required")
	}
	if c.ToolClient == nil {
		return errors.New("tool client is required")
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.MaxTurnDuration <= 0 {
		c.MaxTurnDuration = DefaultMaxTurnDuration
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = DefaultMaxContextTokens
	}
	if c.FinalizationPrompt == "" {
		c.FinalizationPrompt = DefaultFinalizationPrompt
	}
	if c.SummaryPrompt == "" {
		c.SummaryPrompt = DefaultSummaryPrompt
	}
	if c.CorrectionPrompt == "" {
		c.CorrectionPrompt = DefaultCorrectionPrompt
	}
	return nil
}

// Agent runs the loop. It is stateless across turns; conversation memory
// lives with the session.
type Agent struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Agent{log: cfg.Logger, cfg: cfg}, nil
}

// Run drives one turn starting from the given conversation. Intermediate
// model text is streamed to output when it is non-nil. The returned error
// is non-nil only when the turn cannot produce any answer at all.
func (a *Agent) Run(ctx context.Context, initialMessages []Message, output io.Writer) (*RunResult, error) {
	tools, err := a.cfg.ToolClient.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	messages := make([]Message, len(initialMessages))
	copy(messages, initialMessages)

	result := &RunResult{}
	deadline := time.Now().Add(a.cfg.MaxTurnDuration)
	corrections := 0

	for round := 0; round < a.cfg.MaxRounds; round++ {
		messages = a.maybeCompact(ctx, messages)

		if time.Now().After(deadline) {
			if a.log != nil {
				a.log.Info("turn wall-clock budget exhausted", "rounds", result.Rounds)
			}
			return a.finalize(ctx, messages, result)
		}

		response, err := a.cfg.LLM.Call(ctx, messages, tools)
		if err != nil {
			return nil, fmt.Errorf("LLM call failed: %w", err)
		}
		result.Rounds++

		toolUses, text := a.readResponse(response)

		if len(toolUses) == 0 {
			if strings.TrimSpace(text) == "" {
				corrections++
				if a.log != nil {
					a.log.Warn("model returned neither text nor tool calls", "attempt", corrections)
				}
				if corrections > maxCorrections {
					return a.finalize(ctx, messages, result)
				}
				messages = append(messages, a.cfg.LLM.CreateUserMessage(a.cfg.CorrectionPrompt))
				continue
			}

			messages = append(messages, response.ToMessage())
			result.FinalText = text
			result.FullConversation = messages
			return result, nil
		}

		if output != nil && strings.TrimSpace(text) != "" {
			fmt.Fprintln(output, text)
		}

		messages = append(messages, response.ToMessage())

		toolResults := a.executeTools(ctx, toolUses, result)
		resultMessages, err := a.cfg.LLM.ConvertToolResults(toolUses, toolResults)
		if err != nil {
			return nil, fmt.Errorf("failed to convert tool results: %w", err)
		}
		messages = append(messages, resultMessages...)
	}

	if a.log != nil {
		a.log.Info("turn round budget exhausted", "rounds", result.Rounds)
	}
	return a.finalize(ctx, messages, result)
}

// finalize asks the model to answer with whatever it has, without tools.
// Capacity errors propagate so callers can degrade; anything else falls
// back to the apologetic answer.
func (a *Agent) finalize(ctx context.Context, messages []Message, result *RunResult) (*RunResult, error) {
	messages = append(messages, a.cfg.LLM.CreateUserMessage(a.cfg.FinalizationPrompt))

	response, err := a.cfg.LLM.Call(ctx, messages, nil)
	if err != nil {
		if errors.Is(err, ErrUpstreamCapacity) {
			return nil, err
		}
		if a.log != nil {
			a.log.Warn("finalization call failed", "error", err)
		}
		result.FinalText = FallbackAnswer
		result.FullConversation = messages
		return result, nil
	}
	result.Rounds++

	_, text := a.readResponse(response)
	if strings.TrimSpace(text) == "" {
		text = FallbackAnswer
	}
	messages = append(messages, response.ToMessage())
	result.FinalText = text
	result.FullConversation = messages
	return result, nil
}

// executeTools dispatches the requested tools one at a time, in order.
// Dispatch failures become error observations rather than aborting the
// turn; the model is expected to read them and correct course.
func (a *Agent) executeTools(ctx context.Context, toolUses []ToolUse, result *RunResult) []ToolResult {
	results := make([]ToolResult, len(toolUses))
	for i, toolUse := range toolUses {
		start := time.Now()
		var content string
		var isError bool
		if toolUse.DecodeErr != nil {
			content = fmt.Sprintf("Error: %v", fmt.Errorf("%w: %v", ErrMalformedOutput, toolUse.DecodeErr))
			isError = true
		} else {
			var err error
			content, isError, err = a.cfg.ToolClient.CallToolText(ctx, toolUse.Name, toolUse.Input)
			if err != nil {
				content = fmt.Sprintf("Error: %v", err)
				isError = true
			}
		}
		if a.log != nil {
			a.log.Debug("tool executed",
				"tool", toolUse.Name,
				"is_error", isError,
				"duration", time.Since(start),
			)
		}
		results[i] = ToolResult{ID: toolUse.ID, Content: content, IsError: isError}
		result.Invocations = append(result.Invocations, ToolInvocation{
			Name:   toolUse.Name,
			Input:  toolUse.Input,
			Result: results[i],
		})
	}
	return results
}

// readResponse splits a model response into tool uses and joined text.
func (a *Agent) readResponse(response Response) ([]ToolUse, string) {
	var toolUses []ToolUse
	var texts []string
	for _, block := range response.Content() {
		if text, ok := block.AsText(); ok {
			texts = append(texts, text)
			continue
		}
		id, name, input, ok := block.AsToolUse()
		if !ok {
			continue
		}
		var decodeErr error
		args := map[string]any{}
		if len(input) > 0 {
			if err := json.Unmarshal(input, &args); err != nil {
				if a.log != nil {
					a.log.Warn("failed to parse tool input", "tool", name, "error", err)
				}
				decodeErr = err
				args = map[string]any{}
			}
		}
		toolUses = append(toolUses, ToolUse{ID: id, Name: name, Input: args, DecodeErr: decodeErr})
	}
	return toolUses, strings.Join(texts, "\n")
}

// maybeCompact summarizes older messages through the model once the
// estimated context size exceeds the budget. The first message and the
// most recent ones survive verbatim; on any failure the conversation is
// left untouched.
func (a *Agent) maybeCompact(ctx context.Context, messages []Message) []Message {
	size := a.estimateContextTokens(messages)
	if size <= a.cfg.MaxContextTokens {
		return messages
	}
	if len(messages) <= compactKeepRecent+1 {
		return messages
	}

	if a.log != nil {
		a.log.Info("compacting conversation",
			"estimated_tokens", size,
			"messages", len(messages),
		)
	}

	summary, err := a.summarize(ctx, messages[:len(messages)-compactKeepRecent])
	if err != nil {
		if a.log != nil {
			a.log.Warn("conversation compaction failed", "error", err)
		}
		return messages
	}

	compacted := make([]Message, 0, compactKeepRecent+2)
	compacted = append(compacted, messages[0])
	compacted = append(compacted, a.cfg.LLM.CreateUserMessage("Summary of the earlier conversation:\n\n"+summary))
	compacted = append(compacted, messages[len(messages)-compactKeepRecent:]...)

	if a.log != nil {
		a.log.Info("conversation compacted",
			"before", len(messages),
			"after", len(compacted),
			"estimated_tokens", a.estimateContextTokens(compacted),
		)
	}
	return compacted
}

func (a *Agent) summarize(ctx context.Context, messages []Message) (string, error) {
	withPrompt := make([]Message, 0, len(messages)+1)
	withPrompt = append(withPrompt, messages...)
	withPrompt = append(withPrompt, a.cfg.LLM.CreateUserMessage(a.cfg.SummaryPrompt))

	response, err := a.cfg.LLM.Call(ctx, withPrompt, nil)
	if err != nil {
		return "", err
	}
	_, text := a.readResponse(response)
	if strings.TrimSpace(text) == "" {
		return "", errors.New("model returned an empty summary")
	}
	return text, nil
}

// estimateContextTokens approximates the context size as a quarter of the
// serialized byte length. Close enough to decide when to compact.
func (a *Agent) estimateContextTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		b, err := json.Marshal(msg.ToParam())
		if err != nil {
			continue
		}
		total += len(b) / 4
	}
	return total
}
