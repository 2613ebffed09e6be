package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	name   string
	result *ToolResult
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes a fixed result" }
func (t *echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"value":         map[string]interface{}{"type": "string"},
			"session_token": map[string]interface{}{"type": "string"},
		},
	}
}
func (t *echoTool) Execute(_ context.Context, _ map[string]interface{}) *ToolResult {
	return t.result
}

func TestRegistryExecute(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(&echoTool{name: "echo", result: &ToolResult{Result: "ok"}})

	result := registry.Execute(context.Background(), "tester", &ToolCall{ID: "c1", Name: "echo"})
	require.NotNil(t, result)
	assert.True(t, result.Success())
	assert.Equal(t, "c1", result.ID)
	assert.Equal(t, "ok", result.Result)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry(nil)

	result := registry.Execute(context.Background(), "tester", &ToolCall{ID: "c1", Name: "missing"})
	require.NotNil(t, result)
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "tool not found")
}

func TestRegistryExecuteNilResult(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(&echoTool{name: "broken", result: nil})

	result := registry.Execute(context.Background(), "tester", &ToolCall{ID: "c1", Name: "broken"})
	require.NotNil(t, result)
	assert.Contains(t, result.Error, "nil result")
}

func TestRegistryPermissionDenied(t *testing.T) {
	registry := NewRegistry(NewAllowlistAuthorizer([]string{"echo"}))
	registry.Register(&echoTool{name: "echo", result: &ToolResult{Result: "ok"}})
	registry.Register(&echoTool{name: "restricted", result: &ToolResult{Result: "never"}})

	allowed := registry.Execute(context.Background(), "tester", &ToolCall{ID: "a", Name: "echo"})
	assert.True(t, allowed.Success())

	denied := registry.Execute(context.Background(), "tester", &ToolCall{ID: "b", Name: "restricted"})
	assert.False(t, denied.Success())
	assert.True(t, denied.PermissionDenied)
	assert.Contains(t, denied.Error, "PERMISSION_DENIED")
	assert.Contains(t, denied.Error, "tester")
}

type failingAuthorizer struct{}

func (failingAuthorizer) Authorize(context.Context, string, string, map[string]interface{}) (*Decision, error) {
	return nil, errors.New("authorizer backend unavailable")
}

func TestRegistryAuthorizerError(t *testing.T) {
	registry := NewRegistry(failingAuthorizer{})
	registry.Register(&echoTool{name: "echo", result: &ToolResult{Result: "ok"}})

	result := registry.Execute(context.Background(), "tester", &ToolCall{ID: "c", Name: "echo"})
	assert.False(t, result.Success())
	assert.False(t, result.PermissionDenied)
	assert.Contains(t, result.Error, "authorization error")
}

func TestRegistryUnreliableClass(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(&echoTool{name: "safe", result: &ToolResult{}})
	registry.RegisterUnreliable(&echoTool{name: "flaky", result: &ToolResult{}})

	assert.False(t, registry.IsUnreliable("safe"))
	assert.True(t, registry.IsUnreliable("flaky"))
	assert.False(t, registry.IsUnreliable("missing"))
}

func TestRegistryToJSONSchema(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(&echoTool{name: "echo", result: &ToolResult{}})

	schemas := registry.ToJSONSchema()
	require.Len(t, schemas, 1)
	assert.Equal(t, "function", schemas[0]["type"])

	function := schemas[0]["function"].(map[string]interface{})
	assert.Equal(t, "echo", function["name"])
	assert.NotEmpty(t, function["description"])
}

func TestExpectedParamsSkipsSessionParams(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(&echoTool{name: "echo", result: &ToolResult{}})

	params := registry.ExpectedParams("echo")
	assert.ElementsMatch(t, []string{"value"}, params)
	assert.Nil(t, registry.ExpectedParams("missing"))
}

func TestParamHelpers(t *testing.T) {
	params := map[string]interface{}{
		"str":   "hello",
		"num":   float64(7),
		"flag":  true,
		"other": []string{"x"},
	}

	assert.Equal(t, "hello", GetStringParam(params, "str", "d"))
	assert.Equal(t, "d", GetStringParam(params, "missing", "d"))
	assert.Equal(t, "d", GetStringParam(params, "num", "d"))

	assert.Equal(t, 7, GetIntParam(params, "num", 0))
	assert.Equal(t, 3, GetIntParam(params, "missing", 3))

	assert.True(t, GetBoolParam(params, "flag", false))
	assert.False(t, GetBoolParam(params, "missing", false))
}

type mapScratch map[string]interface{}

func (m mapScratch) Set(key string, value interface{}) { m[key] = value }
func (m mapScratch) Get(key string) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

func TestScratchTools(t *testing.T) {
	scratch := mapScratch{}
	store := &StoreValueTool{Scratch: scratch}
	get := &GetValueTool{Scratch: scratch}

	result := store.Execute(context.Background(), map[string]interface{}{
		"key":   "contact_email",
		"value": "a@example.com",
	})
	require.True(t, result.Success())

	read := get.Execute(context.Background(), map[string]interface{}{"key": "contact_email"})
	require.True(t, read.Success())
	assert.Equal(t, "a@example.com", read.Result)

	missing := get.Execute(context.Background(), map[string]interface{}{"key": "nope"})
	assert.False(t, missing.Success())

	noKey := store.Execute(context.Background(), map[string]interface{}{"value": "x"})
	assert.Contains(t, noKey.Error, "key is required")
}
