// Package engine implements the execution loop: a sequential state machine
// that asks the reasoning oracle for the next action, gates it on confidence,
// executes it through the tool registry, routes unreliable-tool failures
// through self-correction, and enforces the run's liveness bounds.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bottleneck-bots/botengine/internal/browser"
	"github.com/bottleneck-bots/botengine/internal/confidence"
	"github.com/bottleneck-bots/botengine/internal/correction"
	"github.com/bottleneck-bots/botengine/internal/llm"
	"github.com/bottleneck-bots/botengine/internal/logger"
	"github.com/bottleneck-bots/botengine/internal/taxonomy"
	"github.com/bottleneck-bots/botengine/internal/tools"
)

const (
	// consecutiveErrorCeiling ends the run the moment this many failures
	// happen back to back.
	consecutiveErrorCeiling = 3

	defaultMaxIterations = 50
	defaultPauseTimeout  = 5 * time.Minute
	defaultPollInterval  = time.Second

	oracleMaxTokens = 4096

	// past this estimate the context window is at risk on most models
	transcriptTokenWarn = 100_000

	// promptResultLimit bounds how much of a tool result is echoed back into
	// the next prompt.
	promptResultLimit = 2000
)

const systemPrompt = `You are an autonomous task-execution engine controlling a browser and other tools.
Work strictly one action per turn.

Start by calling update_plan with 2-6 named phases, each with a concrete success criterion.
Use advance_phase when the current phase's success criterion is met.
Use ask_user only when you genuinely cannot proceed without human input.
Call complete_task with a summary once the goal is achieved.
Store intermediate values with store_value so later phases can read them with get_value.
Prefer specific selectors (ids, attributes) over generic descriptions.`

// Result is the outcome of a run.
type Result struct {
	FinalStatus string              `json:"final_status"`
	Plan        *Plan               `json:"plan,omitempty"`
	Output      string              `json:"output,omitempty"`
	ToolHistory []*ToolHistoryEntry `json:"tool_history"`
	Iterations  int                 `json:"iterations"`
	DurationMs  int64               `json:"duration_ms"`
}

// Options wires the engine's collaborators. Oracle and Registry are
// required; everything else has a working default.
type Options struct {
	Oracle        llm.Client
	Registry      *tools.Registry
	Scorer        *confidence.Scorer
	Corrector     *correction.Engine
	Browser       browser.Client
	Observer      Observer
	Persister     Persister
	MaxIterations int
}

// Engine drives execution runs. One engine may serve several concurrent
// runs; per-run state lives entirely in ExecutionState.
type Engine struct {
	oracle    llm.Client
	registry  *tools.Registry
	scorer    *confidence.Scorer
	corrector *correction.Engine
	browser   browser.Client
	observer  Observer
	persister Persister
	log       *logger.Logger

	caller        string
	maxIterations int
	pauseTimeout  time.Duration
	pollInterval  time.Duration

	mu        sync.Mutex
	paused    bool
	cancelled bool
}

// New creates an engine from options, filling in defaults.
func New(opts Options) *Engine {
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Persister == nil {
		opts.Persister = NopPersister{}
	}
	if opts.Scorer == nil {
		opts.Scorer = confidence.NewScorer(opts.Registry)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	return &Engine{
		oracle:        opts.Oracle,
		registry:      opts.Registry,
		scorer:        opts.Scorer,
		corrector:     opts.Corrector,
		browser:       opts.Browser,
		observer:      opts.Observer,
		persister:     opts.Persister,
		log:           logger.Global().WithPrefix("engine"),
		caller:        "engine",
		maxIterations: opts.MaxIterations,
		pauseTimeout:  defaultPauseTimeout,
		pollInterval:  defaultPollInterval,
	}
}

// Pause asks the loop to block at the top of the next iteration, bounded by
// the pause timeout.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume releases a pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// Cancel asks the loop to stop at the top of the next iteration.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = true
}

func (e *Engine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Run starts a fresh run and drives it to a terminal status.
func (e *Engine) Run(ctx context.Context, goal, initialContext string, maxIterations int) (*Result, error) {
	if goal == "" {
		return nil, errors.New("goal is required")
	}

	state := NewExecutionState(goal, initialContext)
	if err := e.persister.CreateRun(ctx, state.RunID, goal); err != nil {
		e.log.Warn("failed to create run record: %v", err)
	}
	return e.loop(ctx, state, maxIterations)
}

// RunFromState resumes a run from a restored snapshot. Given the same oracle
// and tool responses, the resumed run behaves identically to an
// uninterrupted one.
func (e *Engine) RunFromState(ctx context.Context, state *ExecutionState, maxIterations int) (*Result, error) {
	if state == nil {
		return nil, errors.New("state is required")
	}
	return e.loop(ctx, state, maxIterations)
}

func (e *Engine) loop(ctx context.Context, state *ExecutionState, maxIterations int) (*Result, error) {
	if maxIterations <= 0 {
		maxIterations = e.maxIterations
	}
	if state.Status == StatusInitializing {
		state.Status = StatusExecuting
	}

	final := ""

	for state.Status == StatusExecuting {
		if err := e.waitIfPaused(ctx); err != nil {
			e.log.Warn("run %s: %v", state.RunID, err)
			state.Status = StatusFailed
			break
		}
		if e.isCancelled() || ctx.Err() != nil {
			e.log.Info("run %s cancelled", state.RunID)
			state.Status = StatusFailed
			break
		}
		if state.IterationCount >= maxIterations {
			e.log.Warn("run %s hit the iteration ceiling (%d)", state.RunID, maxIterations)
			state.Status = StatusFailed
			final = FinalMaxIterations
			break
		}

		e.iterate(ctx, state)
		state.IterationCount++

		e.persist(ctx, state)
	}

	e.persist(ctx, state)

	if final == "" {
		switch state.Status {
		case StatusCompleted:
			final = FinalCompleted
		case StatusNeedsInput:
			final = FinalNeedsInput
		default:
			final = FinalFailed
		}
	}

	result := &Result{
		FinalStatus: final,
		Plan:        state.Plan,
		Output:      state.Output,
		ToolHistory: state.ToolHistory,
		Iterations:  state.IterationCount,
		DurationMs:  time.Since(state.StartedAt).Milliseconds(),
	}

	if err := e.persister.FinishRun(ctx, state.RunID, final); err != nil {
		e.log.Warn("failed to finish run record: %v", err)
	}
	e.observer.RunFinished(state.RunID, result)

	return result, nil
}

// iterate performs exactly one loop step: prompt, oracle, gate, execute,
// count, decide.
func (e *Engine) iterate(ctx context.Context, state *ExecutionState) {
	prompt := e.buildPrompt(state)
	state.Transcript = append(state.Transcript, &llm.Message{Role: "user", Content: prompt})

	if estimate, _ := llm.EstimateTranscriptTokens(e.oracle.GetModelName(), systemPrompt, state.Transcript); estimate > transcriptTokenWarn {
		e.log.Warn("transcript estimate %d tokens on iteration %d", estimate, state.IterationCount)
	}

	resp, err := e.oracle.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:     state.Transcript,
		Tools:        e.toolCatalog(),
		SystemPrompt: systemPrompt,
		MaxTokens:    oracleMaxTokens,
	})
	if err != nil {
		e.log.Warn("oracle call failed: %v", err)
		e.countSoftError(state)
		return
	}

	// appended unconditionally so the conversation stays continuous even on
	// failure paths
	state.Transcript = append(state.Transcript, &llm.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})

	if resp.Content != "" {
		e.observer.Thinking(state.RunID, resp.Content)
	}

	if len(resp.ToolCalls) == 0 {
		if signalsCompletion(resp.Content) {
			state.Status = StatusCompleted
			state.Output = resp.Content
			return
		}
		// soft error: the oracle may just need another nudge
		e.countSoftError(state)
		return
	}

	id, name, params, ok := llm.ParseToolCall(resp.ToolCalls[0])
	if !ok {
		e.countSoftError(state)
		return
	}
	call := &tools.ToolCall{ID: id, Name: name, Parameters: params}

	// one action per iteration: surplus calls get a placeholder result so
	// the transcript stays well-formed for the provider
	for _, raw := range resp.ToolCalls[1:] {
		if extraID, extraName, _, extraOK := llm.ParseToolCall(raw); extraOK {
			state.Transcript = append(state.Transcript, &llm.Message{
				Role:     "tool",
				ToolID:   extraID,
				ToolName: extraName,
				Content:  "not executed: one action per iteration",
			})
		}
	}

	if e.handleControlCall(state, call) {
		return
	}

	assessment := e.scorer.Score(name, params, &confidence.Context{
		Goal:      state.Goal,
		PhaseGoal: phaseGoal(state),
		PageURL:   state.PageURL,
		PageTitle: state.PageTitle,
	})
	if assessment.ShouldAskUser {
		// substitute an ask_user action; the original action has zero
		// tool-level side effects
		e.appendToolMessage(state, call, "low confidence, asking the user instead: "+assessment.Reasoning)
		state.PendingQuestion = askUserQuestion(assessment)
		state.Status = StatusNeedsInput
		e.log.Info("run %s: %s gated at confidence %.2f", state.RunID, name, assessment.Confidence)
		return
	}

	result := e.executeWithCorrection(ctx, state, call)
	e.appendToolMessage(state, call, resultText(result))

	if !result.Success() {
		category := taxonomy.Classify(result.Error)
		if result.PermissionDenied || taxonomy.IsFatal(category) {
			e.log.Error("run %s: fatal %s failure from %s", state.RunID, category, name)
			state.Status = StatusFailed
			return
		}
		e.enforceErrorCeiling(state)
		return
	}

	e.notePageContext(ctx, state, call)

	if state.Plan.AllCompleted() {
		state.Status = StatusCompleted
	}
}

// executeWithCorrection runs the call, recording the original outcome in the
// history. Unreliable-tool failures get one pass through self-correction; a
// recovered alternative is recorded as its own history entry, resetting the
// consecutive-error count.
func (e *Engine) executeWithCorrection(ctx context.Context, state *ExecutionState, call *tools.ToolCall) *tools.ToolResult {
	e.observer.ToolStarted(state.RunID, call.Name, call.Parameters)

	result := e.registry.Execute(ctx, e.caller, call)
	e.record(state, call.Name, call.Parameters, result)

	if result.Success() || result.PermissionDenied {
		return result
	}
	if e.corrector == nil || !e.registry.IsUnreliable(call.Name) {
		return result
	}

	corrected, attempts := e.corrector.Correct(ctx, call, result, e.pageState(ctx, state))

	if !corrected.Success() {
		// the original failure is already in the history; however many
		// sub-attempts ran, this stays one failed iteration
		state.FailureAttempts = append(state.FailureAttempts, attempts...)
		return corrected
	}

	// a successful recovery closes the correction cycle; the attempt trail
	// is scoped to it and empties with it, while the recovered action stays
	// visible in the tool history below
	state.FailureAttempts = nil

	recoveredName, recoveredParams := call.Name, call.Parameters
	if len(attempts) > 0 {
		last := attempts[len(attempts)-1]
		recoveredName, recoveredParams = last.Action, last.Parameters
	}
	e.record(state, recoveredName, recoveredParams, corrected)
	return corrected
}

// record appends a history entry for one executed action and feeds the
// outcome back to the confidence scorer.
func (e *Engine) record(state *ExecutionState, name string, params map[string]interface{}, result *tools.ToolResult) {
	entry := &ToolHistoryEntry{
		Timestamp:  time.Now().UTC(),
		ToolName:   name,
		Parameters: params,
		Result:     result.Result,
		Success:    result.Success(),
		DurationMs: result.DurationMs,
	}
	if !result.Success() {
		entry.Error = result.Error
	}

	state.AppendHistory(entry)
	e.scorer.RecordOutcome(name, entry.Success)
	e.observer.ToolCompleted(state.RunID, entry)
}

// handleControlCall intercepts the trusted in-loop transitions. These mutate
// plan and status synchronously and are never subject to confidence gating
// or self-correction.
func (e *Engine) handleControlCall(state *ExecutionState, call *tools.ToolCall) bool {
	switch call.Name {
	case "update_plan":
		plan, err := parsePlan(call.Parameters)
		if err != nil {
			e.appendToolMessage(state, call, "ERROR: "+err.Error())
			e.countSoftError(state)
			return true
		}
		state.Plan = plan
		state.CurrentPhaseIndex = 0
		e.observer.PlanCreated(state.RunID, plan)
		if current := plan.Current(); current != nil {
			e.observer.PhaseStarted(state.RunID, current)
		}
		e.appendToolMessage(state, call, fmt.Sprintf("plan created with %d phases; phase %q is now in progress",
			len(plan.Phases), plan.Phases[0].Name))
		return true

	case "advance_phase":
		if state.Plan == nil {
			e.appendToolMessage(state, call, "ERROR: no plan exists; call update_plan first")
			e.countSoftError(state)
			return true
		}
		finished := state.Plan.Current()
		next := state.Plan.Advance()
		if finished != nil {
			e.observer.PhaseCompleted(state.RunID, finished)
		}
		if next != nil {
			state.CurrentPhaseIndex++
			e.observer.PhaseStarted(state.RunID, next)
			e.appendToolMessage(state, call, fmt.Sprintf("phase advanced; %q is now in progress", next.Name))
			return true
		}
		if state.Plan.AllCompleted() {
			state.Status = StatusCompleted
			state.Output = tools.GetStringParam(call.Parameters, "summary", state.Output)
			e.appendToolMessage(state, call, "all phases completed")
			return true
		}
		e.appendToolMessage(state, call, "no further phase to advance to")
		return true

	case "ask_user":
		question := tools.GetStringParam(call.Parameters, "question", "The engine needs guidance to proceed.")
		state.PendingQuestion = question
		state.Status = StatusNeedsInput
		e.appendToolMessage(state, call, "question recorded; awaiting user input")
		return true

	case "complete_task":
		output := tools.GetStringParam(call.Parameters, "summary", "")
		if output == "" {
			output = tools.GetStringParam(call.Parameters, "result", "task completed")
		}
		state.Output = output
		state.Status = StatusCompleted
		e.appendToolMessage(state, call, "task marked complete")
		return true
	}

	return false
}

func (e *Engine) countSoftError(state *ExecutionState) {
	state.ConsecutiveErrors++
	state.TotalErrorCount++
	e.enforceErrorCeiling(state)
}

func (e *Engine) enforceErrorCeiling(state *ExecutionState) {
	if state.ConsecutiveErrors >= consecutiveErrorCeiling {
		e.log.Error("run %s failed: %d consecutive errors", state.RunID, state.ConsecutiveErrors)
		state.Status = StatusFailed
	}
}

func (e *Engine) appendToolMessage(state *ExecutionState, call *tools.ToolCall, content string) {
	state.Transcript = append(state.Transcript, &llm.Message{
		Role:     "tool",
		ToolID:   call.ID,
		ToolName: call.Name,
		Content:  content,
	})
}

func (e *Engine) persist(ctx context.Context, state *ExecutionState) {
	data, err := state.Snapshot()
	if err != nil {
		e.log.Warn("snapshot failed: %v", err)
		return
	}
	if err := e.persister.SaveSnapshot(ctx, state.RunID, data); err != nil {
		e.log.Warn("snapshot write failed: %v", err)
	}
}

// waitIfPaused blocks while the engine is paused, up to the pause timeout.
func (e *Engine) waitIfPaused(ctx context.Context) error {
	if !e.isPaused() {
		return nil
	}

	deadline := time.Now().Add(e.pauseTimeout)
	for e.isPaused() {
		if e.isCancelled() {
			return errors.New("cancelled while paused")
		}
		if time.Now().After(deadline) {
			return errors.New("pause exceeded the maximum wait")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
	return nil
}

// notePageContext keeps the engine's view of the current page fresh after
// successful browser actions.
func (e *Engine) notePageContext(ctx context.Context, state *ExecutionState, call *tools.ToolCall) {
	if !strings.HasPrefix(call.Name, "browser_") {
		return
	}
	if call.Name == "browser_navigate" {
		state.PageURL = tools.GetStringParam(call.Parameters, "url", state.PageURL)
		state.PageTitle = ""
	}
	if e.browser == nil {
		return
	}
	if page, err := e.browser.PageState(ctx); err == nil && page.URL != "" {
		state.PageURL = page.URL
		state.PageTitle = page.Title
	}
}

func (e *Engine) pageState(ctx context.Context, state *ExecutionState) *browser.PageState {
	if e.browser != nil {
		if page, err := e.browser.PageState(ctx); err == nil {
			return page
		}
	}
	return &browser.PageState{URL: state.PageURL, Title: state.PageTitle}
}

func (e *Engine) buildPrompt(state *ExecutionState) string {
	if len(state.Transcript) == 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "Goal: %s\n", state.Goal)
		if state.InitialContext != "" {
			fmt.Fprintf(&b, "Context: %s\n", state.InitialContext)
		}
		b.WriteString("Create a plan with update_plan, then work through it one action at a time.")
		return b.String()
	}

	last := state.LastHistory()
	if last == nil {
		return "No action has been executed yet. Select the next action, or call update_plan if there is no plan."
	}

	if !last.Success {
		category := taxonomy.Classify(last.Error)
		return fmt.Sprintf("The last action %s failed: %s (classified as %s). Decide how to recover: adjust the approach, try a different action, or ask_user if you are stuck.",
			last.ToolName, last.Error, category)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The last action %s succeeded.", last.ToolName)
	if text := resultSummary(last.Result); text != "" {
		fmt.Fprintf(&b, " Result: %s", text)
	}
	if phase := state.Plan.Current(); phase != nil {
		fmt.Fprintf(&b, "\nCurrent phase: %q (%s). Continue it, or call advance_phase if its success criterion is met.",
			phase.Name, phase.Goal)
	} else {
		b.WriteString("\nContinue toward the goal.")
	}
	return b.String()
}

// toolCatalog is the registry's schema plus the trusted in-loop controls.
func (e *Engine) toolCatalog() []map[string]interface{} {
	catalog := e.registry.ToJSONSchema()
	return append(catalog, controlToolSchemas()...)
}

func controlToolSchemas() []map[string]interface{} {
	schema := func(name, description string, properties map[string]interface{}, required []string) map[string]interface{} {
		params := map[string]interface{}{"type": "object", "properties": properties}
		if len(required) > 0 {
			params["required"] = required
		}
		return map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        name,
				"description": description,
				"parameters":  params,
			},
		}
	}

	return []map[string]interface{}{
		schema("update_plan", "Replace the run's plan with ordered phases; the first becomes in_progress",
			map[string]interface{}{
				"phases": map[string]interface{}{
					"type":        "array",
					"description": "Ordered phases, each with a name and a concrete success criterion",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"name": map[string]interface{}{"type": "string"},
							"goal": map[string]interface{}{"type": "string"},
						},
						"required": []string{"name", "goal"},
					},
				},
			}, []string{"phases"}),
		schema("advance_phase", "Mark the current phase completed and start the next one",
			map[string]interface{}{
				"summary": map[string]interface{}{
					"type":        "string",
					"description": "Optional summary of what the finished phase produced",
				},
			}, nil),
		schema("ask_user", "Pause the run and ask the user a question; use only when blocked",
			map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "The question the user must answer before the run can continue",
				},
			}, []string{"question"}),
		schema("complete_task", "Mark the goal achieved and end the run",
			map[string]interface{}{
				"summary": map[string]interface{}{
					"type":        "string",
					"description": "Final answer or summary of what was accomplished",
				},
			}, []string{"summary"}),
	}
}

func parsePlan(params map[string]interface{}) (*Plan, error) {
	raw, ok := params["phases"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, errors.New("update_plan requires a non-empty phases array")
	}

	plan := &Plan{}
	for i, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("phase %d is not an object", i)
		}
		name := tools.GetStringParam(entry, "name", "")
		if name == "" {
			return nil, fmt.Errorf("phase %d has no name", i)
		}
		phase := &Phase{
			Name:   name,
			Goal:   tools.GetStringParam(entry, "goal", ""),
			Status: PhasePending,
		}
		if i == 0 {
			phase.Status = PhaseInProgress
		}
		plan.Phases = append(plan.Phases, phase)
	}
	return plan, nil
}

func phaseGoal(state *ExecutionState) string {
	if phase := state.Plan.Current(); phase != nil {
		if phase.Goal != "" {
			return phase.Goal
		}
		return phase.Name
	}
	return ""
}

func askUserQuestion(assessment *confidence.Assessment) string {
	for _, alt := range assessment.Alternatives {
		if alt.Action == "ask_user" {
			if q := tools.GetStringParam(alt.Parameters, "question", ""); q != "" {
				return q
			}
		}
	}
	return "I am not confident about the next step (" + assessment.Reasoning + "). How should I proceed?"
}

var completionSignals = []string{
	"task complete",
	"task is complete",
	"task completed",
	"task has been completed",
	"all phases are complete",
	"goal achieved",
	"goal has been achieved",
}

// signalsCompletion checks whether a tool-free oracle response declares the
// task done.
func signalsCompletion(content string) bool {
	lower := strings.ToLower(content)
	for _, signal := range completionSignals {
		if strings.Contains(lower, signal) {
			return true
		}
	}
	return false
}

func resultText(result *tools.ToolResult) string {
	if result.Error != "" {
		return "ERROR: " + result.Error
	}
	return resultSummary(result.Result)
}

func resultSummary(value interface{}) string {
	var text string
	switch v := value.(type) {
	case nil:
		return "ok"
	case string:
		text = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "ok"
		}
		text = string(data)
	}
	if len(text) > promptResultLimit {
		text = text[:promptResultLimit] + "... (truncated)"
	}
	return text
}
