// Package tokencount provides an approximate prompt-size estimate for the
// Anthropic-dialect count_tokens endpoint, used only as a fallback when a
// provider has no real counting endpoint of its own, grounded on
// codefionn-scriptschnell's internal/orchestrator/context_tokens.go.
package tokencount

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/compresr/llm-gateway/internal/protocol"
)

const (
	systemMessageOverhead = 2
	perMessageOverhead    = 4
)

// Estimate returns an approximate token count for a request's system
// prompt and messages. Never overrides a provider's real usage figures;
// this exists only to answer /v1/messages/count_tokens.
func Estimate(model, system string, messages []protocol.Message) int {
	encoder := encodingForModel(model)

	total := tokenCount(encoder, system)
	if system != "" {
		total += systemMessageOverhead
	}

	for _, msg := range messages {
		total += perMessageOverhead
		for _, block := range msg.Content {
			switch block.Type {
			case protocol.ContentText, protocol.ContentThinking:
				total += tokenCount(encoder, block.Text)
			case protocol.ContentToolUse:
				total += tokenCount(encoder, block.ToolName)
				total += tokenCount(encoder, string(block.ToolInput))
			case protocol.ContentToolResult:
				total += tokenCount(encoder, string(block.ToolResultContent))
			}
		}
	}

	return total
}

func encodingForModel(model string) *tiktoken.Tiktoken {
	if encoder, err := tiktoken.EncodingForModel(model); err == nil {
		return encoder
	}
	fallback, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil
	}
	return fallback
}

func tokenCount(encoder *tiktoken.Tiktoken, text string) int {
	if text == "" {
		return 0
	}
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}
