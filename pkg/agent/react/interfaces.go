package react

import "context"

// Message represents a message in a conversation with the LLM.
type Message interface {
	// ToParam returns the message in the provider's native parameter form.
	ToParam() any
}

// ContentBlock is a block of content in an LLM response.
type ContentBlock interface {
	// AsText returns the text content, if this is a text block.
	AsText() (string, bool)
	// AsToolUse returns tool use details, if this is a tool use block.
	AsToolUse() (id string, name string, input []byte, ok bool)
}

// Response represents an LLM response.
type Response interface {
	Content() []ContentBlock
	// ToMessage converts the response to a message for conversation history.
	ToMessage() Message
}

// Tool describes a tool the model may call.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolUse is a single tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any

	// DecodeErr is set when the block's input could not be decoded; the
	// loop reports it as an error observation instead of dispatching.
	DecodeErr error
}

// ToolResult is the observation produced for one tool use.
type ToolResult struct {
	ID      string
	Content string
	IsError bool
}

// ToolInvocation pairs a requested tool use with its observation. The loop
// records these in order so callers can recover artifacts after the run.
type ToolInvocation struct {
	Name   string
	Input  map[string]any
	Result ToolResult
}

// ToolClient provides tool listing and execution to the loop.
type ToolClient interface {
	// ListTools returns the tools available to the model.
	ListTools(ctx context.Context) ([]Tool, error)

	// CallToolText executes a tool and returns the observation text and
	// whether the observation represents an error. A non-nil error means
	// the call itself could not be dispatched.
	CallToolText(ctx context.Context, name string, args map[string]any) (string, bool, error)
}

// LLMClient abstracts the model provider for the loop.
type LLMClient interface {
	// Call sends the conversation and available tools to the model.
	Call(ctx context.Context, messages []Message, tools []Tool) (Response, error)

	// CreateUserMessage builds a user message in the provider's form.
	CreateUserMessage(content string) Message

	// CreateAssistantMessage builds an assistant message in the provider's form.
	CreateAssistantMessage(content string) Message

	// ConvertToolResults converts tool observations into messages.
	ConvertToolResults(toolUses []ToolUse, results []ToolResult) ([]Message, error)
}

// RunResult is the outcome of a single loop run.
type RunResult struct {
	// FinalText is the model's answer after the loop settled.
	FinalText string

	// FullConversation is the complete message history of the run,
	// including tool uses and observations.
	FullConversation []Message

	// Invocations lists every tool call made during the run, in order.
	Invocations []ToolInvocation

	// Rounds is the number of model calls the run consumed.
	Rounds int
}

// GenericMessage is a provider-independent message used where no
// provider-specific form is required, such as in tests.
type GenericMessage struct {
	Role    string
	Content string
}

func (m GenericMessage) ToParam() any { return m }
