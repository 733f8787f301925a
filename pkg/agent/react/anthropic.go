package react

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
)

// ErrUpstreamCapacity marks provider failures that survived the whole
// retry schedule: rate limits and overload responses. Callers degrade the
// turn instead of failing it.
var ErrUpstreamCapacity = errors.New("model provider is at capacity")

const (
	// DefaultModel keeps turns fast and cheap; override per deployment.
	DefaultModel = anthropic.ModelClaudeHaiku4_5_20251001

	DefaultMaxOutputTokens = 4096

	DefaultRetryMaxAttempts     = 5
	DefaultRetryInitialInterval = 2 * time.Second
	DefaultRetryMaxInterval     = 30 * time.Second
)

type AnthropicConfig struct {
	Logger *slog.Logger
	Client anthropic.Client

	// Model defaults to DefaultModel.
	Model anthropic.Model

	// MaxOutputTokens defaults to DefaultMaxOutputTokens.
	MaxOutputTokens int64

	// System is the system prompt. It is sent with an ephemeral cache
	// control mark since it is static across the conversation.
	System string

	// RetryMaxAttempts bounds total attempts per call, first included.
	RetryMaxAttempts int

	// RetryInitialInterval is the first backoff delay; it doubles per
	// attempt, jittered, capped at RetryMaxInterval.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

func (c *AnthropicConfig) Validate() error {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = DefaultRetryMaxInterval
	}
	return nil
}

// AnthropicClient implements LLMClient for Anthropic, with retries on
// capacity errors.
type AnthropicClient struct {
	log *slog.Logger
	cfg AnthropicConfig
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &AnthropicClient{log: cfg.Logger, cfg: cfg}, nil
}

// Call sends the conversation to the model. Capacity errors are retried
// with exponential backoff; exhaustion surfaces as ErrUpstreamCapacity.
func (c *AnthropicClient) Call(ctx context.Context, messages []Message, tools []Tool) (Response, error) {
	anthropicMsgs := make([]anthropic.MessageParam, len(messages))
	for i, msg := range messages {
		param, ok := msg.ToParam().(anthropic.MessageParam)
		if !ok {
			return nil, fmt.Errorf("expected anthropic.MessageParam, got %T", msg.ToParam())
		}
		anthropicMsgs[i] = param
	}

	params := anthropic.MessageNewParams{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxOutputTokens,
		Messages:  anthropicMsgs,
		Tools:     toAnthropicTools(tools),
	}
	if c.cfg.System != "" {
		// The system prompt is static and reused every round, so let the
		// API cache it.
		params.System = []anthropic.TextBlockParam{
			{
				Text:         c.cfg.System,
				CacheControl: anthropic.NewCacheControlEphemeralParam(),
			},
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInitialInterval
	bo.MaxInterval = c.cfg.RetryMaxInterval
	bo.Multiplier = 2

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*anthropic.Message, error) {
		attempt++
		resp, err := c.cfg.Client.Messages.New(ctx, params)
		if err != nil {
			if !isCapacityError(err) {
				return nil, backoff.Permanent(err)
			}
			if c.log != nil {
				c.log.Warn("model call hit capacity, backing off",
					"attempt", attempt,
					"max_attempts", c.cfg.RetryMaxAttempts,
					"error", err,
				)
			}
			return nil, err
		}
		return resp, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.cfg.RetryMaxAttempts)),
	)
	if err != nil {
		if isCapacityError(err) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamCapacity, err)
		}
		return nil, fmt.Errorf("failed to get response: %w", err)
	}

	return anthropicResponse{resp: resp}, nil
}

// CreateUserMessage creates a user message in Anthropic format.
func (c *AnthropicClient) CreateUserMessage(content string) Message {
	return AnthropicMessage{Msg: anthropic.NewUserMessage(anthropic.NewTextBlock(content))}
}

// CreateAssistantMessage creates an assistant message in Anthropic format.
func (c *AnthropicClient) CreateAssistantMessage(content string) Message {
	return AnthropicMessage{Msg: anthropic.NewAssistantMessage(anthropic.NewTextBlock(content))}
}

// ConvertToolResults converts tool observations into one user message.
func (c *AnthropicClient) ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, result := range results {
		blocks = append(blocks, anthropic.NewToolResultBlock(result.ID, result.Content, result.IsError))
	}
	return []Message{AnthropicMessage{Msg: anthropic.NewUserMessage(blocks...)}}, nil
}

// isCapacityError reports whether err is a rate limit or overload
// response worth retrying.
func isCapacityError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == 529 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "429")
}

// AnthropicMessage wraps Anthropic's MessageParam to implement Message.
type AnthropicMessage struct {
	Msg anthropic.MessageParam
}

func (m AnthropicMessage) ToParam() any {
	return m.Msg
}

// anthropicResponse wraps Anthropic's response to implement Response.
type anthropicResponse struct {
	resp *anthropic.Message
}

func (r anthropicResponse) Content() []ContentBlock {
	blocks := make([]ContentBlock, len(r.resp.Content))
	for i, blk := range r.resp.Content {
		blocks[i] = anthropicContentBlock{blk: blk}
	}
	return blocks
}

func (r anthropicResponse) ToMessage() Message {
	return AnthropicMessage{Msg: r.resp.ToParam()}
}

// anthropicContentBlock wraps Anthropic's ContentBlockUnion to implement
// ContentBlock.
type anthropicContentBlock struct {
	blk anthropic.ContentBlockUnion
}

func (b anthropicContentBlock) AsText() (string, bool) {
	text := b.blk.AsText()
	if text.Text == "" {
		return "", false
	}
	return text.Text, true
}

func (b anthropicContentBlock) AsToolUse() (string, string, []byte, bool) {
	toolUse := b.blk.AsToolUse()
	if toolUse.ID == "" || toolUse.Name == "" {
		return "", "", nil, false
	}
	return toolUse.ID, toolUse.Name, toolUse.Input, true
}

func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props, _ := t.InputSchema["properties"].(map[string]any)
		required, _ := t.InputSchema["required"].([]string)
		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.Opt(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: props,
				Required:   required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}
