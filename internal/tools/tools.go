// Package tools provides the tool registry and the built-in tool set. The
// registry maps tool names to executors, gates every execution through an
// authorizer, and returns a uniform result the engine can audit.
package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Tool represents a named, parameterized external operation.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) *ToolResult
}

// ToolCall represents a tool call selected by the oracle
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result"`
	Error  string      `json:"error,omitempty"`

	// PermissionDenied distinguishes authorization rejections from ordinary
	// failures; the taxonomy maps these to a non-retryable critical category.
	PermissionDenied bool `json:"permission_denied,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// Success reports whether the execution succeeded.
func (r *ToolResult) Success() bool {
	return r != nil && r.Error == "" && !r.PermissionDenied
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Authorizer gates tool execution per caller identity.
type Authorizer interface {
	Authorize(ctx context.Context, caller, toolName string, params map[string]interface{}) (*Decision, error)
}

// AllowlistAuthorizer permits only the listed tools; an empty list permits
// everything.
type AllowlistAuthorizer struct {
	allowed map[string]bool
}

// NewAllowlistAuthorizer builds an authorizer from a tool-name allowlist.
func NewAllowlistAuthorizer(names []string) *AllowlistAuthorizer {
	if len(names) == 0 {
		return &AllowlistAuthorizer{}
	}
	allowed := make(map[string]bool, len(names))
	for _, name := range names {
		allowed[name] = true
	}
	return &AllowlistAuthorizer{allowed: allowed}
}

func (a *AllowlistAuthorizer) Authorize(_ context.Context, caller, toolName string, _ map[string]interface{}) (*Decision, error) {
	if a.allowed == nil || a.allowed[toolName] {
		return &Decision{Allowed: true}, nil
	}
	return &Decision{
		Allowed: false,
		Reason:  "PERMISSION_DENIED: caller " + caller + " lacks rights for tool " + toolName,
	}, nil
}

// Registry manages available tools
type Registry struct {
	tools      map[string]Tool
	unreliable map[string]bool
	authorizer Authorizer
}

// NewRegistry creates a new tool registry with an optional authorizer
func NewRegistry(authorizer Authorizer) *Registry {
	return &Registry{
		tools:      make(map[string]Tool),
		unreliable: make(map[string]bool),
		authorizer: authorizer,
	}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// RegisterUnreliable adds a tool and marks it as part of the
// external-effect class whose failures route through self-correction.
func (r *Registry) RegisterUnreliable(tool Tool) {
	r.Register(tool)
	r.unreliable[tool.Name()] = true
}

// IsUnreliable reports whether the named tool belongs to the
// external-effect class.
func (r *Registry) IsUnreliable(name string) bool {
	return r.unreliable[name]
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the names of all registered tools.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Execute executes a tool call on behalf of the caller identity. The result
// is never nil; unknown tools, denials and executor failures all surface as
// error results rather than Go errors so the engine has one audit path.
func (r *Registry) Execute(ctx context.Context, caller string, call *ToolCall) *ToolResult {
	tool, ok := r.tools[call.Name]
	if !ok {
		return &ToolResult{
			ID:    call.ID,
			Error: "tool not found: " + call.Name,
		}
	}

	if r.authorizer != nil {
		decision, err := r.authorizer.Authorize(ctx, caller, call.Name, call.Parameters)
		if err != nil {
			return &ToolResult{
				ID:    call.ID,
				Error: "authorization error: " + err.Error(),
			}
		}
		if decision != nil && !decision.Allowed {
			reason := decision.Reason
			if reason == "" {
				reason = "PERMISSION_DENIED: tool " + call.Name
			}
			return &ToolResult{
				ID:               call.ID,
				Error:            reason,
				PermissionDenied: true,
			}
		}
	}

	start := time.Now()
	result := tool.Execute(ctx, call.Parameters)
	if result == nil {
		result = &ToolResult{
			ID:    call.ID,
			Error: "tool returned nil result",
		}
	}

	result.ID = call.ID
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

// ToJSONSchema converts tools to JSON schema format for the oracle
func (r *Registry) ToJSONSchema() []map[string]interface{} {
	schemas := make([]map[string]interface{}, 0, len(r.tools))
	for _, tool := range r.tools {
		schemas = append(schemas, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Parameters(),
			},
		})
	}
	return schemas
}

// ExpectedParams returns the names of the tool's declared non-session
// parameters, used by the confidence scorer's completeness factor.
func (r *Registry) ExpectedParams(name string) []string {
	tool, ok := r.tools[name]
	if !ok {
		return nil
	}
	schema := tool.Parameters()
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	params := make([]string, 0, len(props))
	for key := range props {
		if strings.HasPrefix(key, "session_") {
			continue
		}
		params = append(params, key)
	}
	return params
}

// Helper function to get string parameter
func GetStringParam(params map[string]interface{}, key string, defaultVal string) string {
	if val, ok := params[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// Helper function to get int parameter
func GetIntParam(params map[string]interface{}, key string, defaultVal int) int {
	if val, ok := params[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case float64:
			return int(v)
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return defaultVal
}

// Helper function to get bool parameter
func GetBoolParam(params map[string]interface{}, key string, defaultVal bool) bool {
	if val, ok := params[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return defaultVal
}
