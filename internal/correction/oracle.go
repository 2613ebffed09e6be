package correction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bottleneck-bots/botengine/internal/llm"
	"github.com/bottleneck-bots/botengine/internal/taxonomy"
)

const analysisSystemPrompt = `You are a failure analyst for a browser automation engine.
Given a failed action, respond with ONLY a JSON object of this shape:
{
  "root_cause": "one-sentence diagnosis",
  "should_retry": true,
  "should_escalate": false,
  "alternatives": [
    {
      "action": "tool name",
      "parameters": {},
      "strategy": "wait_and_retry | alternative_selector | refresh_and_retry | escalate_to_user",
      "confidence": 0.8,
      "success_probability": 0.7,
      "reasoning": "why this should work"
    }
  ]
}
Produce 3 to 5 ranked alternatives. Never repeat an attempt listed as already failed.
Set should_escalate true only when no automated recovery is plausible.`

// OracleAnalyzer asks the reasoning oracle for root-cause analysis and
// ranked alternatives. Malformed output surfaces as an error so the engine
// can fall back to rule-based generation.
type OracleAnalyzer struct {
	client    llm.Client
	maxTokens int
}

// NewOracleAnalyzer wraps an oracle client for failure analysis.
func NewOracleAnalyzer(client llm.Client) *OracleAnalyzer {
	return &OracleAnalyzer{client: client, maxTokens: 1024}
}

func (a *OracleAnalyzer) Analyze(ctx context.Context, req *AnalysisRequest) (*Analysis, error) {
	resp, err := a.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:     []*llm.Message{{Role: "user", Content: buildAnalysisPrompt(req)}},
		SystemPrompt: analysisSystemPrompt,
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle analysis request failed: %w", err)
	}
	return parseAnalysis(resp.Content)
}

func buildAnalysisPrompt(req *AnalysisRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Action %q failed on recovery cycle %d.\n", req.Action, req.Cycle)
	if len(req.Parameters) > 0 {
		if data, err := json.Marshal(req.Parameters); err == nil {
			fmt.Fprintf(&b, "Parameters: %s\n", data)
		}
	}
	fmt.Fprintf(&b, "Error: %s\n", req.Error)
	fmt.Fprintf(&b, "Classified as: %s\n", req.Category)

	if req.Page != nil && req.Page.URL != "" {
		fmt.Fprintf(&b, "Current page: %s (%s)\n", req.Page.URL, req.Page.Title)
	}

	if len(req.Attempts) > 0 {
		b.WriteString("Already attempted (do not repeat):\n")
		for _, attempt := range req.Attempts {
			outcome := "failed"
			if attempt.Succeeded {
				outcome = "succeeded"
			}
			fmt.Fprintf(&b, "- cycle %d: %s via %s, %s", attempt.Cycle, attempt.Action, attempt.Strategy, outcome)
			if attempt.Error != "" {
				fmt.Fprintf(&b, " (%s)", attempt.Error)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("Diagnose the root cause and propose ranked alternative actions.")
	return b.String()
}

// parseAnalysis decodes the oracle's JSON, tolerating surrounding prose by
// extracting the outermost object.
func parseAnalysis(content string) (*Analysis, error) {
	raw, ok := extractJSONObject(content)
	if !ok {
		return nil, fmt.Errorf("analysis response contains no JSON object")
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("malformed analysis JSON: %w", err)
	}

	if len(analysis.Alternatives) == 0 && !analysis.ShouldEscalate && analysis.ShouldRetry {
		return nil, fmt.Errorf("analysis proposes retry but names no alternatives")
	}

	if len(analysis.Alternatives) > 5 {
		analysis.Alternatives = analysis.Alternatives[:5]
	}
	for i := range analysis.Alternatives {
		analysis.Alternatives[i].Strategy = normalizeStrategy(analysis.Alternatives[i].Strategy)
	}

	return &analysis, nil
}

func normalizeStrategy(s taxonomy.Strategy) taxonomy.Strategy {
	switch s {
	case taxonomy.StrategyWaitAndRetry,
		taxonomy.StrategyAlternativeSelector,
		taxonomy.StrategyRefreshAndRetry,
		taxonomy.StrategyEscalateToUser,
		taxonomy.StrategyAbort:
		return s
	default:
		return taxonomy.StrategyWaitAndRetry
	}
}

func extractJSONObject(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return content[start : end+1], true
}
