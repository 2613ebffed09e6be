package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/bottleneck-bots/botengine/internal/browser"
	"github.com/bottleneck-bots/botengine/internal/htmlconv"
)

// The browser tools form the unreliable external-effect class: their
// failures are routed through the self-correction engine rather than failing
// the iteration outright.

// NavigateTool loads a URL in the controlled browser.
type NavigateTool struct {
	Browser browser.Client
}

func (t *NavigateTool) Name() string { return "browser_navigate" }

func (t *NavigateTool) Description() string {
	return "Navigate the controlled browser to a URL and wait for the page to load"
}

func (t *NavigateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Absolute URL to navigate to",
			},
		},
		"required": []string{"url"},
	}
}

func (t *NavigateTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	url := GetStringParam(params, "url", "")
	if url == "" {
		return &ToolResult{Error: "invalid parameter: url is required"}
	}
	if err := t.Browser.Navigate(ctx, url); err != nil {
		return &ToolResult{Error: err.Error()}
	}
	return &ToolResult{Result: fmt.Sprintf("navigated to %s", url)}
}

// ClickTool clicks the first element matching a selector.
type ClickTool struct {
	Browser browser.Client
}

func (t *ClickTool) Name() string { return "browser_click" }

func (t *ClickTool) Description() string {
	return "Click the first element matching a CSS selector or visible text description"
}

func (t *ClickTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector, element id or visible text of the target element",
			},
		},
		"required": []string{"selector"},
	}
}

func (t *ClickTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	selector := GetStringParam(params, "selector", "")
	if selector == "" {
		return &ToolResult{Error: "invalid parameter: selector is required"}
	}
	if err := t.Browser.Click(ctx, selector); err != nil {
		return &ToolResult{Error: err.Error()}
	}
	return &ToolResult{Result: fmt.Sprintf("clicked %s", selector)}
}

// TypeTool types text into the element matching a selector.
type TypeTool struct {
	Browser browser.Client
}

func (t *TypeTool) Name() string { return "browser_type" }

func (t *TypeTool) Description() string {
	return "Type text into the input element matching a CSS selector"
}

func (t *TypeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector of the input element",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Text to type",
			},
		},
		"required": []string{"selector", "text"},
	}
}

func (t *TypeTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	selector := GetStringParam(params, "selector", "")
	if selector == "" {
		return &ToolResult{Error: "invalid parameter: selector is required"}
	}
	text := GetStringParam(params, "text", "")
	if err := t.Browser.Type(ctx, selector, text); err != nil {
		return &ToolResult{Error: err.Error()}
	}
	return &ToolResult{Result: fmt.Sprintf("typed %d characters into %s", len(text), selector)}
}

// ExtractTool extracts page or element content, converted to markdown so the
// oracle sees compact text instead of raw markup.
type ExtractTool struct {
	Browser browser.Client
}

func (t *ExtractTool) Name() string { return "browser_extract" }

func (t *ExtractTool) Description() string {
	return "Extract the content of the matched element (or whole page when selector is empty) as markdown"
}

func (t *ExtractTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector to scope extraction; empty extracts the whole page",
			},
		},
	}
}

func (t *ExtractTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	selector := GetStringParam(params, "selector", "")
	content, err := t.Browser.Extract(ctx, selector)
	if err != nil {
		return &ToolResult{Error: err.Error()}
	}

	markdown, _ := htmlconv.ConvertIfHTML(content)
	return &ToolResult{Result: markdown}
}

// WaitTool waits for a selector to match a visible element.
type WaitTool struct {
	Browser browser.Client
}

func (t *WaitTool) Name() string { return "browser_wait" }

func (t *WaitTool) Description() string {
	return "Wait until an element matching the selector becomes visible, up to a timeout"
}

func (t *WaitTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector to wait for",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum seconds to wait (default 10)",
			},
		},
		"required": []string{"selector"},
	}
}

func (t *WaitTool) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	selector := GetStringParam(params, "selector", "")
	if selector == "" {
		return &ToolResult{Error: "invalid parameter: selector is required"}
	}
	timeout := GetIntParam(params, "timeout_seconds", 10)
	if err := t.Browser.WaitFor(ctx, selector, time.Duration(timeout)*time.Second); err != nil {
		return &ToolResult{Error: err.Error()}
	}
	return &ToolResult{Result: fmt.Sprintf("element %s is visible", selector)}
}

// RefreshTool reloads the current page.
type RefreshTool struct {
	Browser browser.Client
}

func (t *RefreshTool) Name() string { return "browser_refresh" }

func (t *RefreshTool) Description() string {
	return "Reload the current page"
}

func (t *RefreshTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *RefreshTool) Execute(ctx context.Context, _ map[string]interface{}) *ToolResult {
	if err := t.Browser.Refresh(ctx); err != nil {
		return &ToolResult{Error: err.Error()}
	}
	return &ToolResult{Result: "page reloaded"}
}

// RegisterBrowserTools registers the full browser tool set as unreliable.
func RegisterBrowserTools(registry *Registry, client browser.Client) {
	registry.RegisterUnreliable(&NavigateTool{Browser: client})
	registry.RegisterUnreliable(&ClickTool{Browser: client})
	registry.RegisterUnreliable(&TypeTool{Browser: client})
	registry.RegisterUnreliable(&ExtractTool{Browser: client})
	registry.RegisterUnreliable(&WaitTool{Browser: client})
	registry.RegisterUnreliable(&RefreshTool{Browser: client})
}
