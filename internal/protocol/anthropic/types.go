// Package anthropic implements the Anthropic messages wire dialect.
// Request and ContentBlock preserve unknown fields verbatim across a
// parse/render round trip, since Anthropic's API surface evolves faster
// than the gateway's model of it. Message, Tool, Response and the other
// types in this file keep only the fields they declare.
package anthropic

import "encoding/json"

// collectUnknown decodes data as a flat JSON object and returns every key
// not in known, for a struct's custom UnmarshalJSON to stash into Extra.
func collectUnknown(data []byte, known ...string) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(raw, k)
	}
	return raw, nil
}

func mergeUnknown(out map[string]json.RawMessage, known map[string]json.RawMessage) {
	for k, v := range known {
		out[k] = v
	}
}

// ContentBlock is a single Anthropic content block. Block-specific fields
// that the gateway does not model are preserved in Extra.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	Source json.RawMessage `json:"source,omitempty"`

	Thinking string `json:"thinking,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var contentBlockKnownFields = []string{"type", "text", "id", "name", "input", "tool_use_id", "content", "is_error", "source", "thinking"}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias ContentBlock
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := collectUnknown(data, contentBlockKnownFields...)
	if err != nil {
		return err
	}
	*b = ContentBlock(a)
	b.Extra = extra
	return nil
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	type alias ContentBlock
	data, err := json.Marshal(alias(b))
	if err != nil {
		return nil, err
	}
	if len(b.Extra) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	mergeUnknown(merged, b.Extra)
	return json.Marshal(merged)
}

// Message is a single Anthropic conversation turn. Content may arrive as a
// bare string on the wire; Blocks below normalizes it.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Blocks decodes Content into a block slice, normalizing a bare string
// into a single text block.
func (m Message) Blocks() ([]ContentBlock, error) {
	trimmed := trimSpace(m.Content)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(m.Content, &s); err != nil {
			return nil, err
		}
		return []ContentBlock{{Type: "text", Text: s}}, nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\n' || b[i] == '\t' || b[i] == '\r') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\n' || b[j-1] == '\t' || b[j-1] == '\r') {
		j--
	}
	return b[i:j]
}

// Tool is a tool definition in the Anthropic dialect.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Request is the /v1/messages request body.
type Request struct {
	Model       string          `json:"model"`
	System      json.RawMessage `json:"system,omitempty"`
	Messages    []Message       `json:"messages"`
	Tools       []Tool          `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	StopSeqs    []string        `json:"stop_sequences,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var requestKnownFields = []string{"model", "system", "messages", "tools", "max_tokens", "temperature", "top_p", "stream", "stop_sequences"}

func (r *Request) UnmarshalJSON(data []byte) error {
	type alias Request
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := collectUnknown(data, requestKnownFields...)
	if err != nil {
		return err
	}
	*r = Request(a)
	r.Extra = extra
	return nil
}

func (r Request) MarshalJSON() ([]byte, error) {
	type alias Request
	data, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	mergeUnknown(merged, r.Extra)
	return json.Marshal(merged)
}

// SystemText extracts System as plain text, normalizing the
// string-or-block-array form Anthropic allows.
func (r Request) SystemText() string {
	trimmed := trimSpace(r.System)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		_ = json.Unmarshal(r.System, &s)
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(r.System, &blocks); err != nil {
		return ""
	}
	var out string
	for _, b := range blocks {
		out += b.Text
	}
	return out
}

// Usage mirrors Anthropic's usage accounting block.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the unary /v1/messages response body.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// ErrorDetail is the inner error object of the Anthropic error envelope.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the Anthropic-shaped error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}
