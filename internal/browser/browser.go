// Package browser defines the narrow contract the engine has with the
// browser-automation bridge. The wire format behind the bridge is not part
// of the core; tools only see this interface and free-text errors, which the
// taxonomy classifies.
package browser

import (
	"context"
	"time"
)

// PageState is the bridge's snapshot of the current page, used by the
// confidence scorer's feasibility checks and by recovery prompts.
type PageState struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	ReadyAt string `json:"ready_at,omitempty"`
}

// Client is the set of browser primitives the tool layer dispatches to.
type Client interface {
	// Navigate loads a URL in the controlled browser.
	Navigate(ctx context.Context, url string) error

	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error

	// Type focuses the element matching the selector and types text into it.
	Type(ctx context.Context, selector, text string) error

	// Extract returns the HTML content of the matched element, or of the
	// whole page when the selector is empty.
	Extract(ctx context.Context, selector string) (string, error)

	// WaitFor blocks until the selector matches a visible element or the
	// timeout elapses.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	// Refresh reloads the current page.
	Refresh(ctx context.Context) error

	// PageState returns the bridge's view of the current page.
	PageState(ctx context.Context) (*PageState, error)
}
