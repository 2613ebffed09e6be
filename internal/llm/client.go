// Package llm provides the reasoning-oracle interface and provider-backed
// implementations. The engine only depends on the Client interface; failures
// from any client flow through the normal iteration error counting.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message represents a chat message
type Message struct {
	Role      string                   `json:"role"` // "user", "assistant", "tool", "system"
	Content   string                   `json:"content"`
	ToolCalls []map[string]interface{} `json:"tool_calls,omitempty"`
	ToolID    string                   `json:"tool_id,omitempty"`
	ToolName  string                   `json:"tool_name,omitempty"`
}

// CompletionRequest represents a completion request
type CompletionRequest struct {
	Messages     []*Message               `json:"messages"`
	Tools        []map[string]interface{} `json:"tools,omitempty"`
	Temperature  float64                  `json:"temperature"`
	MaxTokens    int                      `json:"max_tokens,omitempty"`
	SystemPrompt string                   `json:"system_prompt,omitempty"`
}

// CompletionResponse represents a completion response
type CompletionResponse struct {
	Content    string                   `json:"content"`
	ToolCalls  []map[string]interface{} `json:"tool_calls,omitempty"`
	StopReason string                   `json:"stop_reason"`
	Usage      map[string]interface{}   `json:"usage,omitempty"`
}

// Client is the interface for reasoning-oracle clients
type Client interface {
	// CompleteWithRequest sends a completion request and returns the response
	CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Complete is a simplified version for single prompt
	Complete(ctx context.Context, prompt string) (string, error)
	// GetModelName returns the model name
	GetModelName() string
}

// NewClient builds a client for the named provider.
func NewClient(provider, apiKey, model string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "anthropic":
		return NewAnthropicClient(apiKey, model)
	case "openai":
		return NewOpenAIClient(apiKey, model)
	default:
		return nil, fmt.Errorf("unknown oracle provider: %s", provider)
	}
}

// ParseToolCall extracts the id, tool name and decoded parameters from a raw
// tool-call map in the wire shape shared by all providers:
// {"id": ..., "type": "function", "function": {"name": ..., "arguments": ...}}.
func ParseToolCall(raw map[string]interface{}) (id, name string, params map[string]interface{}, ok bool) {
	if raw == nil {
		return "", "", nil, false
	}

	id, _ = raw["id"].(string)
	if id == "" {
		id, _ = raw["call_id"].(string)
	}

	function, fok := raw["function"].(map[string]interface{})
	if !fok {
		return "", "", nil, false
	}

	name, _ = function["name"].(string)
	if name == "" {
		return "", "", nil, false
	}

	params = decodeArguments(function["arguments"])
	if id == "" {
		id = fmt.Sprintf("call_%s", name)
	}

	return id, name, params, true
}

// NewToolCall builds a raw tool-call map in the shared wire shape. Used when
// the engine synthesizes actions (ask_user substitution, recovery
// alternatives) that must look like oracle-selected calls.
func NewToolCall(id, name string, params map[string]interface{}) map[string]interface{} {
	arguments := "{}"
	if len(params) > 0 {
		if data, err := json.Marshal(params); err == nil {
			arguments = string(data)
		}
	}
	return map[string]interface{}{
		"id":   id,
		"type": "function",
		"function": map[string]interface{}{
			"name":      name,
			"arguments": arguments,
		},
	}
}

func decodeArguments(value interface{}) map[string]interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return v
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]interface{}{}
		}
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return decoded
		}
		return map[string]interface{}{}
	case []byte:
		var decoded map[string]interface{}
		if err := json.Unmarshal(v, &decoded); err == nil {
			return decoded
		}
		return map[string]interface{}{}
	default:
		return map[string]interface{}{}
	}
}

func stringifyArguments(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(bytes)
	}
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(bytes)
	}
}

func normalizeRole(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return "user"
	}
	return role
}
