// Package correction implements the self-correction engine: when a tool from
// the unreliable class fails, it classifies the failure, asks the oracle for
// ranked alternatives, and tries them in order, learning which strategies
// work per failure category.
package correction

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bottleneck-bots/botengine/internal/browser"
	"github.com/bottleneck-bots/botengine/internal/logger"
	"github.com/bottleneck-bots/botengine/internal/taxonomy"
	"github.com/bottleneck-bots/botengine/internal/tools"
)

const (
	// maxCycles bounds how many analyze-and-retry rounds one originating
	// failure gets before it is surfaced unchanged.
	maxCycles = 3

	// boostConfidence and boostProbability reward strategies that previously
	// resolved the same category:action pair. Both products cap at 1.0.
	boostConfidence  = 1.2
	boostProbability = 1.15

	defaultBaseBackoff = 2 * time.Second
	maxBackoff         = 15 * time.Second
)

// FailureAttempt is one recovery attempt in the audit trail. Entries are
// append-only and never mutated after the fact.
type FailureAttempt struct {
	Timestamp  time.Time              `json:"timestamp"`
	Action     string                 `json:"action"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Strategy   taxonomy.Strategy      `json:"strategy"`
	Cycle      int                    `json:"cycle"`
	Error      string                 `json:"error,omitempty"`
	Succeeded  bool                   `json:"succeeded"`
}

// Alternative is a candidate recovery action.
type Alternative struct {
	Action             string                 `json:"action"`
	Parameters         map[string]interface{} `json:"parameters,omitempty"`
	Strategy           taxonomy.Strategy      `json:"strategy"`
	Confidence         float64                `json:"confidence"`
	SuccessProbability float64                `json:"success_probability"`
	Reasoning          string                 `json:"reasoning,omitempty"`
}

// Analysis is the oracle's (or the fallback generator's) view of a failure.
type Analysis struct {
	RootCause      string        `json:"root_cause"`
	ShouldRetry    bool          `json:"should_retry"`
	ShouldEscalate bool          `json:"should_escalate"`
	Alternatives   []Alternative `json:"alternatives"`
}

// AnalysisRequest carries everything the analyzer gets to see about a
// failure, including all prior attempts so it never repeats one blindly.
type AnalysisRequest struct {
	Action     string
	Parameters map[string]interface{}
	Error      string
	Category   taxonomy.Category
	Cycle      int
	Attempts   []FailureAttempt
	Page       *browser.PageState
}

// Analyzer produces root-cause analysis and ranked alternatives.
type Analyzer interface {
	Analyze(ctx context.Context, req *AnalysisRequest) (*Analysis, error)
}

// Executor runs a single tool call. *tools.Registry satisfies this.
type Executor interface {
	Execute(ctx context.Context, caller string, call *tools.ToolCall) *tools.ToolResult
}

// Engine drives the bounded recovery loop for one failure at a time.
type Engine struct {
	analyzer Analyzer
	executor Executor
	memory   *Memory
	caller   string
	log      *logger.Logger

	baseBackoff time.Duration
}

// NewEngine wires a correction engine. A nil memory gets a fresh store.
func NewEngine(analyzer Analyzer, executor Executor, memory *Memory, caller string) *Engine {
	if memory == nil {
		memory = NewMemory()
	}
	return &Engine{
		analyzer:    analyzer,
		executor:    executor,
		memory:      memory,
		caller:      caller,
		log:         logger.Global().WithPrefix("correction"),
		baseBackoff: defaultBaseBackoff,
	}
}

// Memory exposes the engine's learning store for persistence.
func (e *Engine) Memory() *Memory {
	return e.memory
}

// SetBaseBackoff overrides the wait-and-retry base delay.
func (e *Engine) SetBaseBackoff(d time.Duration) {
	if d > 0 {
		e.baseBackoff = d
	}
}

// Correct attempts to recover from a failed tool call. It returns the first
// successful alternative's result, or the original failure unchanged after
// the cycle bound is exhausted, plus the full attempt trail either way. It
// never substitutes a different error than what the tool produced.
func (e *Engine) Correct(ctx context.Context, call *tools.ToolCall, failure *tools.ToolResult, page *browser.PageState) (*tools.ToolResult, []FailureAttempt) {
	category := taxonomy.Classify(failure.Error)
	meta := taxonomy.MetadataOf(category)

	if failure.PermissionDenied || !meta.Retryable {
		e.log.Info("failure %s is %s, not retrying", call.Name, category)
		return failure, nil
	}

	// the category's own retry bound tightens the flat ceiling: a page crash
	// does not get the same number of rounds as a timeout
	cycles := maxCycles
	if meta.MaxRetries > 0 && meta.MaxRetries < cycles {
		cycles = meta.MaxRetries
	}

	var attempts []FailureAttempt

	for cycle := 0; cycle < cycles; cycle++ {
		if ctx.Err() != nil {
			return failure, attempts
		}

		analysis := e.analyze(ctx, &AnalysisRequest{
			Action:     call.Name,
			Parameters: call.Parameters,
			Error:      failure.Error,
			Category:   category,
			Cycle:      cycle,
			Attempts:   attempts,
			Page:       page,
		}, meta)

		if analysis.ShouldEscalate || !analysis.ShouldRetry {
			e.log.Info("analysis for %s says stop (escalate=%v retry=%v)",
				call.Name, analysis.ShouldEscalate, analysis.ShouldRetry)
			return failure, attempts
		}

		alternatives := e.rank(analysis.Alternatives, category, call.Name)

		for _, alt := range alternatives {
			if ctx.Err() != nil {
				return failure, attempts
			}

			result := e.tryAlternative(ctx, call, alt, meta, cycle)
			attempt := FailureAttempt{
				Timestamp:  time.Now(),
				Action:     alt.Action,
				Parameters: alt.Parameters,
				Strategy:   alt.Strategy,
				Cycle:      cycle,
				Succeeded:  result.Success(),
			}
			if !result.Success() {
				attempt.Error = result.Error
			}
			attempts = append(attempts, attempt)

			if result.Success() {
				e.memory.Record(category, call.Name, alt.Strategy)
				e.log.Info("recovered %s via %s on cycle %d", call.Name, alt.Strategy, cycle)
				return result, attempts
			}
		}
	}

	e.log.Warn("recovery exhausted for %s after %d attempts", call.Name, len(attempts))
	return failure, attempts
}

// analyze consults the oracle, falling back to the rule-based generator on
// error or malformed output so a retryable failure always has at least one
// alternative.
func (e *Engine) analyze(ctx context.Context, req *AnalysisRequest, meta taxonomy.Metadata) *Analysis {
	if e.analyzer != nil {
		analysis, err := e.analyzer.Analyze(ctx, req)
		if err == nil && analysis != nil && (len(analysis.Alternatives) > 0 || analysis.ShouldEscalate || !analysis.ShouldRetry) {
			return analysis
		}
		if err != nil {
			e.log.Warn("oracle analysis failed, using fallback: %v", err)
		}
	}

	return &Analysis{
		RootCause:    "rule-based fallback for " + string(req.Category),
		ShouldRetry:  true,
		Alternatives: fallbackAlternatives(req.Action, req.Parameters, meta),
	}
}

// rank boosts alternatives whose strategy previously worked for this
// category:action pair and re-sorts by success probability.
func (e *Engine) rank(alternatives []Alternative, category taxonomy.Category, action string) []Alternative {
	proven := e.memory.SuccessfulStrategies(category, action)
	ranked := make([]Alternative, len(alternatives))
	copy(ranked, alternatives)

	for i := range ranked {
		if proven[ranked[i].Strategy] {
			ranked[i].Confidence = capAt1(ranked[i].Confidence * boostConfidence)
			ranked[i].SuccessProbability = capAt1(ranked[i].SuccessProbability * boostProbability)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].SuccessProbability > ranked[j].SuccessProbability
	})
	return ranked
}

// tryAlternative executes one alternative directly (never recursively
// self-corrected). Strategy decides the pre-step: wait strategies sleep a
// bounded backoff, refresh strategies reload the page first.
func (e *Engine) tryAlternative(ctx context.Context, original *tools.ToolCall, alt Alternative, meta taxonomy.Metadata, cycle int) *tools.ToolResult {
	switch alt.Strategy {
	case taxonomy.StrategyWaitAndRetry:
		if err := e.sleep(ctx, e.backoff(meta, cycle)); err != nil {
			return &tools.ToolResult{ID: original.ID, Error: err.Error()}
		}
	case taxonomy.StrategyRefreshAndRetry:
		refresh := e.executor.Execute(ctx, e.caller, &tools.ToolCall{
			ID:   original.ID + "_refresh",
			Name: "browser_refresh",
		})
		if !refresh.Success() {
			return refresh
		}
	}

	action := alt.Action
	params := alt.Parameters
	if action == "" {
		action = original.Name
		params = original.Parameters
	}

	return e.executor.Execute(ctx, e.caller, &tools.ToolCall{
		ID:         original.ID,
		Name:       action,
		Parameters: params,
	})
}

func (e *Engine) backoff(meta taxonomy.Metadata, cycle int) time.Duration {
	multiplier := meta.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	wait := e.baseBackoff
	for i := 0; i < cycle; i++ {
		wait = time.Duration(float64(wait) * multiplier)
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fallbackAlternatives turns a category's default strategies into concrete
// actions without oracle help. Escalation strategies produce no executable
// alternative; every retryable category carries at least one that does.
func fallbackAlternatives(action string, params map[string]interface{}, meta taxonomy.Metadata) []Alternative {
	var alternatives []Alternative
	for _, strategy := range meta.DefaultStrategies {
		switch strategy {
		case taxonomy.StrategyWaitAndRetry:
			alternatives = append(alternatives, Alternative{
				Action:             action,
				Parameters:         params,
				Strategy:           taxonomy.StrategyWaitAndRetry,
				Confidence:         0.5,
				SuccessProbability: 0.5,
				Reasoning:          "wait for the page to settle, then retry the same action",
			})
		case taxonomy.StrategyRefreshAndRetry:
			alternatives = append(alternatives, Alternative{
				Action:             action,
				Parameters:         params,
				Strategy:           taxonomy.StrategyRefreshAndRetry,
				Confidence:         0.45,
				SuccessProbability: 0.45,
				Reasoning:          "reload the page to reset its state, then retry the same action",
			})
		case taxonomy.StrategyAlternativeSelector:
			variant, ok := variantSelector(params)
			if !ok {
				continue
			}
			alternatives = append(alternatives, Alternative{
				Action:             action,
				Parameters:         variant,
				Strategy:           taxonomy.StrategyAlternativeSelector,
				Confidence:         0.4,
				SuccessProbability: 0.4,
				Reasoning:          "retry with a looser locator derived from the original selector",
			})
		}
	}
	return alternatives
}

// variantSelector derives a looser locator from a CSS id/class selector: the
// bridge also matches on element ids and visible text, so the bare name is a
// meaningful second try.
func variantSelector(params map[string]interface{}) (map[string]interface{}, bool) {
	selector := tools.GetStringParam(params, "selector", "")
	if len(selector) < 2 || (selector[0] != '#' && selector[0] != '.') {
		return nil, false
	}

	variant := make(map[string]interface{}, len(params))
	for k, v := range params {
		variant[k] = v
	}
	variant["selector"] = strings.ReplaceAll(selector[1:], "-", " ")
	return variant, true
}

func capAt1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}
