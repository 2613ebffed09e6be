// Package confidence scores proposed actions before execution. The score is a
// fixed weighted sum of five independent factors; anything under the medium
// threshold is escalated to a human instead of guessed at.
package confidence

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bottleneck-bots/botengine/internal/tools"
)

const (
	weightClarity      = 0.25
	weightFeasibility  = 0.25
	weightRelevance    = 0.20
	weightHistory      = 0.15
	weightCompleteness = 0.15

	// AskUserThreshold is the medium confidence threshold: any action scoring
	// below it is substituted with an ask_user action.
	AskUserThreshold = 0.6

	// historyDecay is the EMA weight on the old rate; outcome contributes the
	// remainder. Unseen actions start at historyDefault.
	historyDecay   = 0.9
	historyDefault = 0.5
)

// Context carries the engine's view of the world at scoring time.
type Context struct {
	Goal      string
	PhaseGoal string
	PageURL   string
	PageTitle string
}

// Alternative is a concrete substitute for a low-confidence action.
type Alternative struct {
	Description string                 `json:"description"`
	Action      string                 `json:"action"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// Assessment is the scorer's verdict on a proposed action.
type Assessment struct {
	Confidence    float64            `json:"confidence"`
	ShouldAskUser bool               `json:"should_ask_user"`
	Reasoning     string             `json:"reasoning"`
	Factors       map[string]float64 `json:"factors"`
	Alternatives  []Alternative      `json:"alternatives,omitempty"`
}

// Scorer computes confidence for proposed actions and tracks per-action
// success history. The history map is shared across runs and guarded by a
// mutex; losing a racing update is acceptable, corrupting the map is not.
type Scorer struct {
	registry *tools.Registry

	mu      sync.Mutex
	history map[string]float64
}

// NewScorer creates a scorer backed by the given registry. The registry
// supplies expected parameter names for the completeness factor; a nil
// registry disables that check (completeness scores 1.0).
func NewScorer(registry *tools.Registry) *Scorer {
	return &Scorer{
		registry: registry,
		history:  make(map[string]float64),
	}
}

// Score computes the confidence of executing action with params in sc.
// The returned assessment always has reasoning populated; alternatives are
// produced only when the action falls below the ask-user threshold.
func (s *Scorer) Score(action string, params map[string]interface{}, sc *Context) *Assessment {
	if sc == nil {
		sc = &Context{}
	}

	factors := map[string]float64{
		"clarity":      s.scoreClarity(params),
		"feasibility":  s.scoreFeasibility(action, params, sc),
		"relevance":    s.scoreRelevance(action, params, sc),
		"history":      s.historicalRate(action),
		"completeness": s.scoreCompleteness(action, params),
	}

	confidence := clamp01(weightClarity*factors["clarity"] +
		weightFeasibility*factors["feasibility"] +
		weightRelevance*factors["relevance"] +
		weightHistory*factors["history"] +
		weightCompleteness*factors["completeness"])

	assessment := &Assessment{
		Confidence:    confidence,
		ShouldAskUser: confidence < AskUserThreshold,
		Factors:       factors,
	}
	assessment.Reasoning = buildReasoning(action, confidence, factors)

	if assessment.ShouldAskUser {
		assessment.Alternatives = []Alternative{
			{
				Description: "Observe the current page first to gather more context",
				Action:      "browser_extract",
				Parameters:  map[string]interface{}{},
			},
			{
				Description: "Ask the user how to proceed: " + assessment.Reasoning,
				Action:      "ask_user",
				Parameters: map[string]interface{}{
					"question": fmt.Sprintf("I am not confident about the next step (%s). How should I proceed?", assessment.Reasoning),
				},
			},
		}
	}

	return assessment
}

// RecordOutcome folds an execution outcome into the action's success EMA.
func (s *Scorer) RecordOutcome(action string, success bool) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.history[action]
	if !ok {
		old = historyDefault
	}
	s.history[action] = historyDecay*old + (1-historyDecay)*outcome
}

func (s *Scorer) historicalRate(action string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate, ok := s.history[action]; ok {
		return rate
	}
	return historyDefault
}

// genericLocators are nouns that name a kind of element without identifying
// one. Their presence in a locator drags clarity down.
var genericLocators = []string{
	"button", "link", "element", "item", "thing", "box", "field", "icon",
	"the page", "somewhere", "first one", "that one",
}

func (s *Scorer) scoreClarity(params map[string]interface{}) float64 {
	locator := firstStringParam(params, "selector", "url", "text", "key", "question")
	if locator == "" {
		// nothing to judge; neither reward nor penalize
		return 0.7
	}

	score := 0.5

	lower := strings.ToLower(locator)
	if strings.ContainsAny(locator, "#[") || strings.Contains(locator, "=") {
		// id selectors and attribute selectors are strong identifiers
		score += 0.4
	} else if strings.HasPrefix(locator, ".") || strings.Contains(locator, "://") {
		score += 0.3
	}

	if len(locator) >= 8 {
		score += 0.1
	} else if len(locator) < 4 {
		score -= 0.3
	}

	for _, generic := range genericLocators {
		if lower == generic || (strings.Contains(lower, generic) && len(lower) <= len(generic)+4) {
			score -= 0.3
			break
		}
	}

	return clamp01(score)
}

func (s *Scorer) scoreFeasibility(action string, params map[string]interface{}, sc *Context) float64 {
	if !strings.HasPrefix(action, "browser_") {
		return 0.9
	}

	// navigation establishes context; everything else needs a loaded page
	if action == "browser_navigate" {
		url := tools.GetStringParam(params, "url", "")
		if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
			return 1.0
		}
		return 0.2
	}

	if sc.PageURL == "" {
		return 0.3
	}

	// a selector scoped to a different host than the loaded page is a strong
	// sign the oracle is reasoning about the wrong context
	if host := firstStringParam(params, "url"); host != "" && !strings.Contains(host, hostOf(sc.PageURL)) {
		return 0.4
	}

	return 0.9
}

func (s *Scorer) scoreRelevance(action string, params map[string]interface{}, sc *Context) float64 {
	goal := strings.ToLower(strings.TrimSpace(sc.PhaseGoal))
	if goal == "" {
		goal = strings.ToLower(strings.TrimSpace(sc.Goal))
	}
	if goal == "" {
		return 0.7
	}

	goalWords := significantWords(goal)
	if len(goalWords) == 0 {
		return 0.7
	}

	actionText := strings.ToLower(action)
	for _, v := range params {
		if str, ok := v.(string); ok {
			actionText += " " + strings.ToLower(str)
		}
	}

	matched := 0
	for word := range goalWords {
		if strings.Contains(actionText, word) {
			matched++
		}
	}

	// any overlap at all is a decent signal; scale the rest
	overlap := float64(matched) / float64(len(goalWords))
	return clamp01(0.4 + 0.6*overlap)
}

func (s *Scorer) scoreCompleteness(action string, params map[string]interface{}) float64 {
	if s.registry == nil {
		return 1.0
	}
	expected := s.registry.ExpectedParams(action)
	if len(expected) == 0 {
		return 1.0
	}

	present := 0
	for _, name := range expected {
		if v, ok := params[name]; ok && v != nil {
			if str, isStr := v.(string); isStr && str == "" {
				continue
			}
			present++
		}
	}
	return float64(present) / float64(len(expected))
}

// buildReasoning names the weakest contributing factors so a human asked to
// intervene can see why the engine hesitated.
func buildReasoning(action string, confidence float64, factors map[string]float64) string {
	type weighted struct {
		name  string
		score float64
	}
	ranked := make([]weighted, 0, len(factors))
	for name, score := range factors {
		ranked = append(ranked, weighted{name, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score < ranked[j].score
		}
		return ranked[i].name < ranked[j].name
	})

	weakest := make([]string, 0, 2)
	for _, f := range ranked {
		if len(weakest) == 2 {
			break
		}
		if f.score < 0.6 {
			weakest = append(weakest, fmt.Sprintf("%s %.2f", f.name, f.score))
		}
	}

	if len(weakest) == 0 {
		return fmt.Sprintf("confidence %.2f for %s, no weak factors", confidence, action)
	}
	return fmt.Sprintf("confidence %.2f for %s, weakest factors: %s",
		confidence, action, strings.Join(weakest, ", "))
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "from": true, "with": true,
	"into": true, "then": true, "that": true, "this": true, "a": true,
	"an": true, "to": true, "of": true, "on": true, "in": true,
}

func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,:;!?\"'()")
		if len(word) < 3 || stopWords[word] {
			continue
		}
		words[word] = true
	}
	return words
}

func firstStringParam(params map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v := tools.GetStringParam(params, key, ""); v != "" {
			return v
		}
	}
	return ""
}

func hostOf(url string) string {
	rest := url
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/?#"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
