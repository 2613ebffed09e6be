package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bottleneck-bots/botengine/internal/logger"
)

const defaultBridgeTimeout = 30 * time.Second

// Bridge talks to a local browser-automation bridge over HTTP. Every
// primitive is a POST to /command with a JSON body; errors come back as
// free-text messages the taxonomy can classify.
type Bridge struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

// NewBridge creates a bridge client for the given base URL.
func NewBridge(baseURL string, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = defaultBridgeTimeout
	}
	return &Bridge{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     logger.Global().WithPrefix("browser"),
	}
}

type commandRequest struct {
	Action         string `json:"action"`
	URL            string `json:"url,omitempty"`
	Selector       string `json:"selector,omitempty"`
	Text           string `json:"text,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type commandResponse struct {
	OK      bool       `json:"ok"`
	Error   string     `json:"error,omitempty"`
	Content string     `json:"content,omitempty"`
	Page    *PageState `json:"page,omitempty"`
}

func (b *Bridge) Navigate(ctx context.Context, url string) error {
	_, err := b.command(ctx, &commandRequest{Action: "navigate", URL: url})
	return err
}

func (b *Bridge) Click(ctx context.Context, selector string) error {
	_, err := b.command(ctx, &commandRequest{Action: "click", Selector: selector})
	return err
}

func (b *Bridge) Type(ctx context.Context, selector, text string) error {
	_, err := b.command(ctx, &commandRequest{Action: "type", Selector: selector, Text: text})
	return err
}

func (b *Bridge) Extract(ctx context.Context, selector string) (string, error) {
	resp, err := b.command(ctx, &commandRequest{Action: "extract", Selector: selector})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (b *Bridge) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	_, err := b.command(ctx, &commandRequest{Action: "wait_for", Selector: selector, TimeoutSeconds: seconds})
	return err
}

func (b *Bridge) Refresh(ctx context.Context) error {
	_, err := b.command(ctx, &commandRequest{Action: "refresh"})
	return err
}

func (b *Bridge) PageState(ctx context.Context) (*PageState, error) {
	resp, err := b.command(ctx, &commandRequest{Action: "page_state"})
	if err != nil {
		return nil, err
	}
	if resp.Page == nil {
		return &PageState{}, nil
	}
	return resp.Page, nil
}

func (b *Bridge) command(ctx context.Context, cmd *commandRequest) (*commandResponse, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode browser command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/command", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build browser request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	b.log.Debug("browser %s selector=%q url=%q", cmd.Action, cmd.Selector, cmd.URL)

	httpResp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser bridge unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read browser response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("browser bridge returned %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp commandResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid browser response: %w", err)
	}

	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = "browser command failed without detail"
		}
		return nil, fmt.Errorf("%s", msg)
	}

	return &resp, nil
}
