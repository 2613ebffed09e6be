package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolCall(t *testing.T) {
	raw := map[string]interface{}{
		"id":   "call_1",
		"type": "function",
		"function": map[string]interface{}{
			"name":      "browser_click",
			"arguments": `{"selector": "#submit", "timeout_seconds": 10}`,
		},
	}

	id, name, params, ok := ParseToolCall(raw)
	require.True(t, ok)
	assert.Equal(t, "call_1", id)
	assert.Equal(t, "browser_click", name)
	assert.Equal(t, "#submit", params["selector"])
	assert.Equal(t, float64(10), params["timeout_seconds"])
}

func TestParseToolCallMissingFunction(t *testing.T) {
	_, _, _, ok := ParseToolCall(map[string]interface{}{"id": "x"})
	assert.False(t, ok)

	_, _, _, ok = ParseToolCall(nil)
	assert.False(t, ok)
}

func TestParseToolCallGeneratesID(t *testing.T) {
	raw := map[string]interface{}{
		"function": map[string]interface{}{
			"name":      "browser_navigate",
			"arguments": map[string]interface{}{"url": "https://example.com"},
		},
	}

	id, name, params, ok := ParseToolCall(raw)
	require.True(t, ok)
	assert.Equal(t, "call_browser_navigate", id)
	assert.Equal(t, "browser_navigate", name)
	assert.Equal(t, "https://example.com", params["url"])
}

func TestNewToolCallRoundTrip(t *testing.T) {
	call := NewToolCall("call_9", "http_request", map[string]interface{}{
		"url":    "https://api.example.com/contacts",
		"method": "GET",
	})

	id, name, params, ok := ParseToolCall(call)
	require.True(t, ok)
	assert.Equal(t, "call_9", id)
	assert.Equal(t, "http_request", name)
	assert.Equal(t, "GET", params["method"])
}

func TestEstimateTranscriptTokens(t *testing.T) {
	messages := []*Message{
		{Role: "user", Content: "log in and extract the primary contact"},
		{Role: "assistant", Content: "Navigating to the login page."},
		nil,
	}

	total, _ := EstimateTranscriptTokens("unknown-model-id", "You are a task execution agent.", messages)
	assert.Greater(t, total, 0)

	empty, _ := EstimateTranscriptTokens("unknown-model-id", "", nil)
	assert.Zero(t, empty)
}
