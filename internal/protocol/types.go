// Package protocol defines the gateway's internal lingua franca for chat
// requests and responses, independent of whichever wire dialect (OpenAI or
// Anthropic) a given request arrived in.
package protocol

import "encoding/json"

// Role identifies the speaker of a single turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlockType discriminates the kinds of content a message turn can
// carry. Anthropic messages are natively block-structured; OpenAI messages
// are normalized on ingestion into Text blocks (one per text part), plus
// ToolUse blocks for tool calls and a ToolResult block for a tool message.
type ContentBlockType string

const (
	ContentText       ContentBlockType = "text"
	ContentToolUse    ContentBlockType = "tool_use"
	ContentToolResult ContentBlockType = "tool_result"
	ContentImage      ContentBlockType = "image"
	ContentThinking   ContentBlockType = "thinking"
)

// ContentBlock is one entry of a message's content. Only the fields
// relevant to its Type are populated. Extra is not populated by the openai
// or anthropic adapters, so unmodelled wire fields are not carried here.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`

	Text string `json:"text,omitempty"`

	// ToolUse fields.
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	ToolInput   json.RawMessage `json:"tool_input,omitempty"`

	// ToolResult fields. ToolUseID is shared with ToolUse above; the
	// content of a result is itself free-form (string or block array).
	ToolResultContent json.RawMessage `json:"tool_result_content,omitempty"`
	ToolResultIsError bool            `json:"tool_result_is_error,omitempty"`

	// Image fields.
	ImageSource json.RawMessage `json:"image_source,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Message is a single turn in the conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolDefinition is a tool the model may call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// UnifiedRequest is the dialect-independent representation of a chat
// request, built by a protocol adapter's Parse and consumed by the
// provider dispatcher.
type UnifiedRequest struct {
	// Provider and Model are the resolved halves of the "provider/model" id.
	Provider string
	Model    string

	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stream      bool
	Stop        []string

	// OriginalModel is the public model id exactly as the client sent it,
	// before provider/model splitting and rename substitution, used to echo
	// it back in responses.
	OriginalModel string
}

// Usage carries token accounting for a completed or in-flight response.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the sum of input and output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// UnifiedResponse is the dialect-independent representation of a unary
// chat completion.
type UnifiedResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	FinishReason string
	Usage        Usage

	// ErrorType is set when the provider returned a structured error that
	// the adapter translated into a response-shaped value instead of a Go
	// error (rare; most failures surface as a *gatewayerr.GatewayError
	// from the dispatcher instead).
	ErrorType string
}

// StreamEvent is one item of a streaming chat completion. Exactly one of
// the typed fields is meaningful per Kind.
type StreamEventKind string

const (
	StreamEventDelta     StreamEventKind = "delta"
	StreamEventToolDelta StreamEventKind = "tool_delta"
	StreamEventUsage     StreamEventKind = "usage"
	StreamEventDone      StreamEventKind = "done"
	StreamEventError     StreamEventKind = "error"
)

// StreamEvent is produced by a provider's streaming call and consumed by
// the telemetry middleware and the outbound protocol renderer, in that
// order, without reordering or buffering.
type StreamEvent struct {
	Kind StreamEventKind

	Model        string
	Delta        string
	ToolUseID    string
	ToolName     string
	ToolDelta    string
	FinishReason string
	Usage        *Usage
	Err          error
}
