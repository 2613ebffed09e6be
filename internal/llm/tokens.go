package llm

import (
	"encoding/json"

	"github.com/pkoukk/tiktoken-go"
)

const (
	systemMessageOverhead = 2
	perMessageOverhead    = 4
)

// EstimateTranscriptTokens returns the estimated token usage for a transcript
// and whether the estimate is approximate (no exact encoding for the model).
// The engine uses this to keep oracle requests inside a bounded window.
func EstimateTranscriptTokens(modelID, systemPrompt string, messages []*Message) (int, bool) {
	encoder, approx := encodingForModel(modelID)

	total := tokenCount(encoder, systemPrompt)
	if systemPrompt != "" {
		total += systemMessageOverhead
	}

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		tokens := tokenCount(encoder, msg.Content) + perMessageOverhead

		if msg.ToolID != "" {
			tokens += tokenCount(encoder, msg.ToolID)
		}
		if msg.ToolName != "" {
			tokens += tokenCount(encoder, msg.ToolName)
		}
		if len(msg.ToolCalls) > 0 {
			if data, err := json.Marshal(msg.ToolCalls); err == nil {
				tokens += tokenCount(encoder, string(data))
			}
		}

		total += tokens
	}

	return total, approx
}

func encodingForModel(modelID string) (*tiktoken.Tiktoken, bool) {
	encoder, err := tiktoken.EncodingForModel(modelID)
	if err == nil {
		return encoder, false
	}

	fallback, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, true
	}
	return fallback, true
}

func tokenCount(encoder *tiktoken.Tiktoken, content string) int {
	if content == "" {
		return 0
	}
	if encoder == nil {
		return charsToTokens(len(content))
	}
	return len(encoder.Encode(content, nil, nil))
}

func charsToTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	tokens := chars / 4
	if tokens <= 0 {
		tokens = 1
	}
	return tokens
}
