package tools

import (
	"context"
	"fmt"
)

// Scratch is the run-scoped key/value store backing the data tools. The
// engine passes its own execution state in, so scratch writes survive phase
// transitions but never leak across runs.
type Scratch interface {
	Set(key string, value interface{})
	Get(key string) (interface{}, bool)
}

// StoreValueTool saves a value into the run's scratch store.
type StoreValueTool struct {
	Scratch Scratch
}

func (t *StoreValueTool) Name() string { return "store_value" }

func (t *StoreValueTool) Description() string {
	return "Store a value under a key in the run's scratch memory for use in later phases"
}

func (t *StoreValueTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Key to store the value under",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "Value to store",
			},
		},
		"required": []string{"key", "value"},
	}
}

func (t *StoreValueTool) Execute(_ context.Context, params map[string]interface{}) *ToolResult {
	key := GetStringParam(params, "key", "")
	if key == "" {
		return &ToolResult{Error: "invalid parameter: key is required"}
	}
	value, ok := params["value"]
	if !ok {
		return &ToolResult{Error: "invalid parameter: value is required"}
	}
	t.Scratch.Set(key, value)
	return &ToolResult{Result: fmt.Sprintf("stored %q", key)}
}

// GetValueTool reads a value from the run's scratch store.
type GetValueTool struct {
	Scratch Scratch
}

func (t *GetValueTool) Name() string { return "get_value" }

func (t *GetValueTool) Description() string {
	return "Read a previously stored value from the run's scratch memory"
}

func (t *GetValueTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"key": map[string]interface{}{
				"type":        "string",
				"description": "Key to read",
			},
		},
		"required": []string{"key"},
	}
}

func (t *GetValueTool) Execute(_ context.Context, params map[string]interface{}) *ToolResult {
	key := GetStringParam(params, "key", "")
	if key == "" {
		return &ToolResult{Error: "invalid parameter: key is required"}
	}
	value, ok := t.Scratch.Get(key)
	if !ok {
		return &ToolResult{Error: fmt.Sprintf("no value stored under %q", key)}
	}
	return &ToolResult{Result: value}
}
