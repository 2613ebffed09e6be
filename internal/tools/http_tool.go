package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	httpToolMaxBody        = 1 << 20 // response bodies are truncated at 1 MiB
	httpToolDefaultTimeout = 30 * time.Second
)

var httpToolAllowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// HTTPRequestTool performs a bounded HTTP request against an external
// endpoint. It is registered as an ordinary (reliable-path) tool: HTTP
// failures are informative to the oracle and retried through normal
// iteration rather than self-correction.
type HTTPRequestTool struct {
	Client *http.Client
}

// NewHTTPRequestTool creates the tool with a bounded default client.
func NewHTTPRequestTool() *HTTPRequestTool {
	return &HTTPRequestTool{
		Client: &http.Client{Timeout: httpToolDefaultTimeout},
	}
}

func (t *HTTPRequestTool) Name() string { return "http_request" }

func (t *HTTPRequestTool) Description() string {
	return "Perform an HTTP request (GET, POST, PUT, PATCH, DELETE) and return status and body"
}

func (t *HTTPRequestTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Absolute URL to request",
			},
			"method": map[string]interface{}{
				"type":        "string",
				"description": "HTTP method (default GET)",
			},
			"body": map[string]interface{}{
				"type":        "string",
				"description": "Request body for POST/PUT/PATCH",
			},
			"content_type": map[string]interface{}{
				"type":        "string",
				"description": "Content-Type header for the request body",
			},
		},
		"required": []string{"url"},
	}
}

func (t *HTTPRequestTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	url := GetStringParam(params, "url", "")
	if url == "" {
		return &ToolResult{Error: "invalid parameter: url is required"}
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return &ToolResult{Error: "invalid parameter: url must be absolute"}
	}

	method := strings.ToUpper(GetStringParam(params, "method", http.MethodGet))
	if !httpToolAllowedMethods[method] {
		return &ToolResult{Error: fmt.Sprintf("invalid parameter: method %s is not allowed", method)}
	}

	var bodyReader io.Reader
	if body := GetStringParam(params, "body", ""); body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return &ToolResult{Error: "invalid request: " + err.Error()}
	}
	if ct := GetStringParam(params, "content_type", ""); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return &ToolResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpToolMaxBody))
	if err != nil {
		return &ToolResult{Error: "failed to read response: " + err.Error()}
	}

	if resp.StatusCode >= 400 {
		return &ToolResult{Error: fmt.Sprintf("request failed with status %d %s: %s",
			resp.StatusCode, http.StatusText(resp.StatusCode), truncate(string(body), 512))}
	}

	return &ToolResult{Result: map[string]interface{}{
		"status": resp.StatusCode,
		"body":   string(body),
	}}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
