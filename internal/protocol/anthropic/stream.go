package anthropic

import (
	"encoding/json"

	"github.com/compresr/llm-gateway/internal/protocol"
)

type messageStartPayload struct {
	Type    string `json:"type"`
	Message struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Role    string `json:"role"`
		Model   string `json:"model"`
		Content []any  `json:"content"`
		Usage   Usage  `json:"usage"`
	} `json:"message"`
}

type contentBlockStartPayload struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// PartialJSON carries incremental tool_use input for input_json_delta.
	PartialJSON string `json:"partial_json,omitempty"`
}

type contentBlockDeltaPayload struct {
	Type  string    `json:"type"`
	Index int       `json:"index"`
	Delta textDelta `json:"delta"`
}

type contentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaPayload struct {
	Type  string `json:"type"`
	Delta struct {
		StopReason   *string `json:"stop_reason"`
		StopSequence *string `json:"stop_sequence"`
	} `json:"delta"`
	Usage Usage `json:"usage"`
}

type messageStopPayload struct {
	Type string `json:"type"`
}

type errorPayload struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

func frame(event string, v any) StreamFrame {
	b, _ := json.Marshal(v)
	return StreamFrame{Event: event, Data: b}
}

// StreamSequencer turns a flat sequence of protocol.StreamEvent into the
// Anthropic block-structured event sequence. It tracks exactly one open
// content block at a time, which matches how every provider in this
// gateway emits deltas (no interleaved parallel tool calls within a single
// stream).
type StreamSequencer struct {
	id          string
	publicModel string
	started     bool
	blockOpen   bool
	blockIndex  int
	blockType   string
	usage       Usage
}

// NewStreamSequencer creates a sequencer for one streaming response.
func NewStreamSequencer(id, publicModel string) *StreamSequencer {
	return &StreamSequencer{id: id, publicModel: publicModel}
}

// Next consumes one protocol.StreamEvent and returns zero or more frames
// to emit, preserving the event's arrival order (the sequencer never
// buffers beyond synthesizing the bracketing start/stop frames for the
// event it is currently processing).
func (s *StreamSequencer) Next(ev protocol.StreamEvent) []StreamFrame {
	var frames []StreamFrame

	if !s.started {
		frames = append(frames, s.messageStart())
		s.started = true
	}

	switch ev.Kind {
	case protocol.StreamEventDelta:
		frames = append(frames, s.ensureBlockOpen("text")...)
		frames = append(frames, frame("content_block_delta", contentBlockDeltaPayload{
			Type: "content_block_delta", Index: s.blockIndex,
			Delta: textDelta{Type: "text_delta", Text: ev.Delta},
		}))
	case protocol.StreamEventToolDelta:
		frames = append(frames, s.ensureBlockOpen("tool_use")...)
		frames = append(frames, frame("content_block_delta", contentBlockDeltaPayload{
			Type: "content_block_delta", Index: s.blockIndex,
			Delta: textDelta{Type: "input_json_delta", PartialJSON: ev.ToolDelta},
		}))
	case protocol.StreamEventUsage:
		if ev.Usage != nil {
			s.usage = Usage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}
		}
	case protocol.StreamEventDone:
		frames = append(frames, s.closeBlockIfOpen()...)
		stopReason := mapFinishReason(ev.FinishReason)
		if ev.Usage != nil {
			s.usage = Usage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}
		}
		delta := messageDeltaPayload{Type: "message_delta", Usage: s.usage}
		delta.Delta.StopReason = &stopReason
		frames = append(frames, frame("message_delta", delta))
		frames = append(frames, frame("message_stop", messageStopPayload{Type: "message_stop"}))
	case protocol.StreamEventError:
		frames = append(frames, frame("error", errorPayload{Type: "error", Error: ErrorDetail{Type: "api_error", Message: ev.Err.Error()}}))
	}

	return frames
}

func (s *StreamSequencer) messageStart() StreamFrame {
	payload := messageStartPayload{Type: "message_start"}
	payload.Message.ID = s.id
	payload.Message.Type = "message"
	payload.Message.Role = "assistant"
	payload.Message.Model = s.publicModel
	payload.Message.Content = []any{}
	return frame("message_start", payload)
}

func (s *StreamSequencer) ensureBlockOpen(blockType string) []StreamFrame {
	if s.blockOpen && s.blockType == blockType {
		return nil
	}
	var frames []StreamFrame
	frames = append(frames, s.closeBlockIfOpen()...)

	block := ContentBlock{Type: blockType}
	frames = append(frames, frame("content_block_start", contentBlockStartPayload{
		Type: "content_block_start", Index: s.blockIndex, ContentBlock: block,
	}))
	s.blockOpen = true
	s.blockType = blockType
	return frames
}

func (s *StreamSequencer) closeBlockIfOpen() []StreamFrame {
	if !s.blockOpen {
		return nil
	}
	frames := []StreamFrame{frame("content_block_stop", contentBlockStopPayload{Type: "content_block_stop", Index: s.blockIndex})}
	s.blockOpen = false
	s.blockIndex++
	return frames
}
