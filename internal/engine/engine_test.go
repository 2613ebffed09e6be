package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottleneck-bots/botengine/internal/correction"
	"github.com/bottleneck-bots/botengine/internal/llm"
	"github.com/bottleneck-bots/botengine/internal/tools"
)

// scriptedOracle replays a fixed response sequence; requests past the end
// fail, which surfaces as soft errors in the loop.
type scriptedOracle struct {
	responses []*llm.CompletionResponse
	requests  []*llm.CompletionRequest
}

func (o *scriptedOracle) CompleteWithRequest(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	o.requests = append(o.requests, req)
	idx := len(o.requests) - 1
	if idx >= len(o.responses) {
		return nil, errors.New("oracle script exhausted")
	}
	return o.responses[idx], nil
}

func (o *scriptedOracle) Complete(_ context.Context, _ string) (string, error) {
	return "", errors.New("not scripted")
}

func (o *scriptedOracle) GetModelName() string { return "scripted" }

func textResponse(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content, StopReason: "end_turn"}
}

func callResponse(name string, params map[string]interface{}) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		ToolCalls:  []map[string]interface{}{llm.NewToolCall("call_"+name, name, params)},
		StopReason: "tool_use",
	}
}

func planResponse(phases ...[2]string) *llm.CompletionResponse {
	list := make([]interface{}, 0, len(phases))
	for _, p := range phases {
		list = append(list, map[string]interface{}{"name": p[0], "goal": p[1]})
	}
	return callResponse("update_plan", map[string]interface{}{"phases": list})
}

// scriptedTool returns queued results in order, repeating the last one.
type scriptedTool struct {
	name    string
	params  []string
	results []*tools.ToolResult
	calls   int
}

func (t *scriptedTool) Name() string        { return t.name }
func (t *scriptedTool) Description() string { return "scripted fixture" }
func (t *scriptedTool) Parameters() map[string]interface{} {
	props := map[string]interface{}{}
	for _, p := range t.params {
		props[p] = map[string]interface{}{"type": "string"}
	}
	return map[string]interface{}{"type": "object", "properties": props}
}
func (t *scriptedTool) Execute(_ context.Context, _ map[string]interface{}) *tools.ToolResult {
	idx := t.calls
	t.calls++
	if idx >= len(t.results) {
		idx = len(t.results) - 1
	}
	result := *t.results[idx]
	return &result
}

type recordingObserver struct {
	events []string
}

func (r *recordingObserver) PlanCreated(_ string, plan *Plan) {
	r.events = append(r.events, fmt.Sprintf("plan_created:%d", len(plan.Phases)))
}
func (r *recordingObserver) PhaseStarted(_ string, phase *Phase) {
	r.events = append(r.events, "phase_started:"+phase.Name)
}
func (r *recordingObserver) PhaseCompleted(_ string, phase *Phase) {
	r.events = append(r.events, "phase_completed:"+phase.Name)
}
func (r *recordingObserver) ToolStarted(_ string, name string, _ map[string]interface{}) {
	r.events = append(r.events, "tool_started:"+name)
}
func (r *recordingObserver) ToolCompleted(_ string, entry *ToolHistoryEntry) {
	outcome := "ok"
	if !entry.Success {
		outcome = "err"
	}
	r.events = append(r.events, fmt.Sprintf("tool_completed:%s:%s", entry.ToolName, outcome))
}
func (r *recordingObserver) Thinking(_ string, _ string) {}
func (r *recordingObserver) RunFinished(_ string, result *Result) {
	r.events = append(r.events, "run_finished:"+result.FinalStatus)
}

type capturingPersister struct {
	created   []string
	snapshots [][]byte
	finished  map[string]string
}

func newCapturingPersister() *capturingPersister {
	return &capturingPersister{finished: make(map[string]string)}
}

func (p *capturingPersister) CreateRun(_ context.Context, runID, _ string) error {
	p.created = append(p.created, runID)
	return nil
}
func (p *capturingPersister) SaveSnapshot(_ context.Context, _ string, snapshot []byte) error {
	p.snapshots = append(p.snapshots, snapshot)
	return nil
}
func (p *capturingPersister) FinishRun(_ context.Context, runID, finalStatus string) error {
	p.finished[runID] = finalStatus
	return nil
}

func okTool(name string, params ...string) *scriptedTool {
	return &scriptedTool{name: name, params: params, results: []*tools.ToolResult{{Result: "ok"}}}
}

func TestRunCompletesThroughPlanPhases(t *testing.T) {
	registry := tools.NewRegistry(nil)
	registry.Register(okTool("browser_navigate", "url"))

	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{
		planResponse([2]string{"open site", "pricing page is loaded"}, [2]string{"extract", "pricing data stored"}),
		callResponse("browser_navigate", map[string]interface{}{"url": "https://example.com/pricing"}),
		callResponse("advance_phase", map[string]interface{}{}),
		callResponse("advance_phase", map[string]interface{}{"summary": "pricing extracted"}),
	}}

	observer := &recordingObserver{}
	persister := newCapturingPersister()
	eng := New(Options{Oracle: oracle, Registry: registry, Observer: observer, Persister: persister})

	result, err := eng.Run(context.Background(), "extract pricing from example.com", "", 10)
	require.NoError(t, err)

	assert.Equal(t, FinalCompleted, result.FinalStatus)
	assert.Equal(t, "pricing extracted", result.Output)
	assert.Equal(t, 4, result.Iterations)

	require.NotNil(t, result.Plan)
	for _, phase := range result.Plan.Phases {
		assert.Equal(t, PhaseCompleted, phase.Status)
	}

	require.Len(t, result.ToolHistory, 1)
	assert.Equal(t, "browser_navigate", result.ToolHistory[0].ToolName)
	assert.True(t, result.ToolHistory[0].Success)

	assert.Equal(t, []string{
		"plan_created:2",
		"phase_started:open site",
		"tool_started:browser_navigate",
		"tool_completed:browser_navigate:ok",
		"phase_completed:open site",
		"phase_started:extract",
		"phase_completed:extract",
		"run_finished:completed",
	}, observer.events)

	require.Len(t, persister.created, 1)
	assert.Equal(t, FinalCompleted, persister.finished[persister.created[0]])
	assert.NotEmpty(t, persister.snapshots)
}

func TestThreeConsecutiveFailuresEndTheRun(t *testing.T) {
	registry := tools.NewRegistry(nil)
	registry.Register(&scriptedTool{
		name:    "http_request",
		params:  []string{"url"},
		results: []*tools.ToolResult{{Error: "unexpected content in response"}},
	})

	call := callResponse("http_request", map[string]interface{}{"url": "https://api.example.com/status-endpoint"})
	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{call, call, call, call}}
	eng := New(Options{Oracle: oracle, Registry: registry})

	result, err := eng.Run(context.Background(), "check the status endpoint of api.example.com", "", 20)
	require.NoError(t, err)

	// failed on the third consecutive failure, never a fourth attempt
	assert.Equal(t, FinalFailed, result.FinalStatus)
	assert.Equal(t, 3, result.Iterations)
	assert.Len(t, result.ToolHistory, 3)
	for _, entry := range result.ToolHistory {
		assert.False(t, entry.Success)
	}
}

func TestLowConfidenceSubstitutesAskUser(t *testing.T) {
	registry := tools.NewRegistry(nil)
	registry.Register(&scriptedTool{
		name:    "browser_click",
		params:  []string{"selector"},
		results: []*tools.ToolResult{{Result: "must never run"}},
	})

	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{
		callResponse("browser_click", map[string]interface{}{"selector": "button"}),
	}}
	eng := New(Options{Oracle: oracle, Registry: registry})

	state := NewExecutionState("download the quarterly report", "")
	result, err := eng.RunFromState(context.Background(), state, 10)
	require.NoError(t, err)

	assert.Equal(t, FinalNeedsInput, result.FinalStatus)
	assert.Equal(t, StatusNeedsInput, state.Status)
	assert.NotEmpty(t, state.PendingQuestion)

	// zero tool-level side effects from the gated action
	assert.Empty(t, result.ToolHistory)
	assert.Equal(t, 1, result.Iterations)
}

func TestIterationCeilingReturnsMaxIterations(t *testing.T) {
	registry := tools.NewRegistry(nil)
	registry.Register(okTool("store_value", "key", "value"))

	busy := callResponse("store_value", map[string]interface{}{"key": "progress-marker", "value": "tick"})
	responses := make([]*llm.CompletionResponse, 60)
	for i := range responses {
		responses[i] = busy
	}
	oracle := &scriptedOracle{responses: responses}
	eng := New(Options{Oracle: oracle, Registry: registry, MaxIterations: 50})

	result, err := eng.Run(context.Background(), "keep recording progress marker ticks", "", 0)
	require.NoError(t, err)

	assert.Equal(t, FinalMaxIterations, result.FinalStatus)
	assert.Equal(t, 50, result.Iterations)
	assert.Len(t, result.ToolHistory, 50)
}

func TestElementNotVisibleRecoveryScenario(t *testing.T) {
	clickTool := &scriptedTool{
		name:   "browser_click",
		params: []string{"selector"},
		results: []*tools.ToolResult{
			{Error: "element not visible: #login-button"},
			{Result: "clicked"},
		},
	}
	refreshTool := okTool("browser_refresh")

	registry := tools.NewRegistry(nil)
	registry.RegisterUnreliable(clickTool)
	registry.RegisterUnreliable(refreshTool)

	corrector := correction.NewEngine(nil, registry, correction.NewMemory(), "engine")
	corrector.SetBaseBackoff(time.Millisecond)

	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{
		planResponse([2]string{"log in", "login button is clicked"}),
		callResponse("browser_click", map[string]interface{}{"selector": "#login-button"}),
		callResponse("advance_phase", map[string]interface{}{"summary": "logged in"}),
	}}

	eng := New(Options{Oracle: oracle, Registry: registry, Corrector: corrector})

	state := NewExecutionState("log in and extract the contact", "")
	result, err := eng.RunFromState(context.Background(), state, 10)
	require.NoError(t, err)

	assert.Equal(t, FinalCompleted, result.FinalStatus)

	// history shows the original failure followed by the recovered success
	require.Len(t, result.ToolHistory, 2)
	assert.Equal(t, "browser_click", result.ToolHistory[0].ToolName)
	assert.False(t, result.ToolHistory[0].Success)
	assert.Contains(t, result.ToolHistory[0].Error, "not visible")
	assert.Equal(t, "browser_click", result.ToolHistory[1].ToolName)
	assert.True(t, result.ToolHistory[1].Success)

	// a successful recovery empties the attempt trail and resets the counter
	assert.Empty(t, state.FailureAttempts)
	assert.Equal(t, 0, state.ConsecutiveErrors)
}

func TestUnrecoveredFailureKeepsAttemptTrail(t *testing.T) {
	clickTool := &scriptedTool{
		name:   "browser_click",
		params: []string{"selector"},
		results: []*tools.ToolResult{
			{Error: "element not visible: #login-button"},
		},
	}

	registry := tools.NewRegistry(nil)
	registry.RegisterUnreliable(clickTool)

	corrector := correction.NewEngine(nil, registry, correction.NewMemory(), "engine")
	corrector.SetBaseBackoff(time.Millisecond)

	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{
		callResponse("browser_click", map[string]interface{}{"selector": "#login-button"}),
	}}

	eng := New(Options{Oracle: oracle, Registry: registry, Corrector: corrector})

	state := NewExecutionState("log in", "")
	result, err := eng.RunFromState(context.Background(), state, 1)
	require.NoError(t, err)

	assert.Equal(t, FinalMaxIterations, result.FinalStatus)
	require.NotEmpty(t, state.FailureAttempts)
	for _, attempt := range state.FailureAttempts {
		assert.False(t, attempt.Succeeded)
	}
	assert.Equal(t, 1, state.ConsecutiveErrors)
}

func TestCompletionSignalWithoutToolCall(t *testing.T) {
	registry := tools.NewRegistry(nil)
	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{
		textResponse("The task is complete: the contact email is a@example.com."),
	}}
	eng := New(Options{Oracle: oracle, Registry: registry})

	result, err := eng.Run(context.Background(), "find the contact email", "", 10)
	require.NoError(t, err)

	assert.Equal(t, FinalCompleted, result.FinalStatus)
	assert.Contains(t, result.Output, "a@example.com")
	assert.Equal(t, 1, result.Iterations)
}

func TestToolFreeResponsesAreSoftErrors(t *testing.T) {
	registry := tools.NewRegistry(nil)
	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{
		textResponse("Let me think about this."),
		textResponse("Still thinking."),
		textResponse("Hmm."),
	}}
	eng := New(Options{Oracle: oracle, Registry: registry})

	result, err := eng.Run(context.Background(), "find the contact email", "", 10)
	require.NoError(t, err)

	assert.Equal(t, FinalFailed, result.FinalStatus)
	assert.Equal(t, 3, result.Iterations)
	assert.Empty(t, result.ToolHistory)
}

func TestPermissionDeniedFailsImmediately(t *testing.T) {
	registry := tools.NewRegistry(tools.NewAllowlistAuthorizer([]string{"browser_navigate"}))
	registry.Register(okTool("browser_navigate", "url"))
	registry.Register(okTool("http_request", "url"))

	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{
		callResponse("http_request", map[string]interface{}{"url": "https://internal.example.com/admin-report"}),
	}}
	eng := New(Options{Oracle: oracle, Registry: registry})

	result, err := eng.Run(context.Background(), "fetch the admin report from internal.example.com", "", 10)
	require.NoError(t, err)

	// a single denial aborts the run without burning the error ceiling
	assert.Equal(t, FinalFailed, result.FinalStatus)
	assert.Equal(t, 1, result.Iterations)
	require.Len(t, result.ToolHistory, 1)
	assert.Contains(t, result.ToolHistory[0].Error, "PERMISSION_DENIED")
}

func TestCancelStopsBeforeNextIteration(t *testing.T) {
	registry := tools.NewRegistry(nil)
	oracle := &scriptedOracle{}
	eng := New(Options{Oracle: oracle, Registry: registry})
	eng.Cancel()

	result, err := eng.Run(context.Background(), "anything at all", "", 10)
	require.NoError(t, err)

	assert.Equal(t, FinalFailed, result.FinalStatus)
	assert.Equal(t, 0, result.Iterations)
	assert.Empty(t, oracle.requests)
}

func TestPauseGivesUpAfterBoundedWait(t *testing.T) {
	registry := tools.NewRegistry(nil)
	persister := newCapturingPersister()
	eng := New(Options{Oracle: &scriptedOracle{}, Registry: registry, Persister: persister})
	eng.pauseTimeout = 20 * time.Millisecond
	eng.pollInterval = time.Millisecond
	eng.Pause()

	result, err := eng.Run(context.Background(), "anything at all", "", 10)
	require.NoError(t, err)

	assert.Equal(t, FinalFailed, result.FinalStatus)
	// partial state is persisted before giving up
	assert.NotEmpty(t, persister.snapshots)
}

func TestPauseResumeContinuesRun(t *testing.T) {
	registry := tools.NewRegistry(nil)
	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{
		textResponse("Task complete: nothing to do."),
	}}
	eng := New(Options{Oracle: oracle, Registry: registry})
	eng.pollInterval = time.Millisecond
	eng.Pause()

	go func() {
		time.Sleep(10 * time.Millisecond)
		eng.Resume()
	}()

	result, err := eng.Run(context.Background(), "do nothing in particular", "", 10)
	require.NoError(t, err)
	assert.Equal(t, FinalCompleted, result.FinalStatus)
}

func TestSnapshotRoundTripResumesDeterministically(t *testing.T) {
	script := func() []*llm.CompletionResponse {
		return []*llm.CompletionResponse{
			planResponse([2]string{"collect", "value is stored"}),
			callResponse("store_value", map[string]interface{}{"key": "contact-email", "value": "a@example.com"}),
			callResponse("advance_phase", map[string]interface{}{"summary": "collected a@example.com"}),
		}
	}
	newRegistry := func() *tools.Registry {
		registry := tools.NewRegistry(nil)
		registry.Register(okTool("store_value", "key", "value"))
		return registry
	}

	// uninterrupted reference run
	reference := New(Options{Oracle: &scriptedOracle{responses: script()}, Registry: newRegistry()})
	refState := NewExecutionState("collect the contact email", "")
	refResult, err := reference.RunFromState(context.Background(), refState, 10)
	require.NoError(t, err)
	require.Equal(t, FinalCompleted, refResult.FinalStatus)

	// interrupted run: stop after two iterations, snapshot, restore, resume
	// with the remainder of the same script
	interrupted := New(Options{Oracle: &scriptedOracle{responses: script()}, Registry: newRegistry()})
	midState := NewExecutionState("collect the contact email", "")
	midResult, err := interrupted.RunFromState(context.Background(), midState, 2)
	require.NoError(t, err)
	require.Equal(t, FinalMaxIterations, midResult.FinalStatus)

	snapshot, err := midState.Snapshot()
	require.NoError(t, err)
	restored, err := RestoreState(snapshot)
	require.NoError(t, err)
	restored.Status = StatusExecuting

	resumed := New(Options{Oracle: &scriptedOracle{responses: script()[2:]}, Registry: newRegistry()})
	resumedResult, err := resumed.RunFromState(context.Background(), restored, 10)
	require.NoError(t, err)

	assert.Equal(t, refResult.FinalStatus, resumedResult.FinalStatus)
	assert.Equal(t, refResult.Output, resumedResult.Output)
	assert.Equal(t, refResult.Iterations, resumedResult.Iterations)

	require.Len(t, resumedResult.ToolHistory, len(refResult.ToolHistory))
	for i := range refResult.ToolHistory {
		assert.Equal(t, refResult.ToolHistory[i].ToolName, resumedResult.ToolHistory[i].ToolName)
		assert.Equal(t, refResult.ToolHistory[i].Success, resumedResult.ToolHistory[i].Success)
	}

	require.NotNil(t, resumedResult.Plan)
	for i, phase := range refResult.Plan.Phases {
		assert.Equal(t, phase.Status, resumedResult.Plan.Phases[i].Status)
	}
	assert.Equal(t, refState.Scratch, restored.Scratch)
}

func TestAdvancePhaseWithoutPlanIsSoftError(t *testing.T) {
	registry := tools.NewRegistry(nil)
	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{
		callResponse("advance_phase", map[string]interface{}{}),
		textResponse("Task complete."),
	}}
	eng := New(Options{Oracle: oracle, Registry: registry})

	result, err := eng.Run(context.Background(), "anything at all", "", 10)
	require.NoError(t, err)

	// the misstep costs one error but the run can still finish
	assert.Equal(t, FinalCompleted, result.FinalStatus)
	assert.Equal(t, 2, result.Iterations)
}

func TestMalformedPlanIsSoftError(t *testing.T) {
	registry := tools.NewRegistry(nil)
	oracle := &scriptedOracle{responses: []*llm.CompletionResponse{
		callResponse("update_plan", map[string]interface{}{"phases": []interface{}{}}),
		callResponse("update_plan", map[string]interface{}{"phases": "not an array"}),
		planResponse([2]string{"only phase", "done"}),
		callResponse("advance_phase", map[string]interface{}{"summary": "done"}),
	}}
	eng := New(Options{Oracle: oracle, Registry: registry})

	result, err := eng.Run(context.Background(), "anything at all", "", 10)
	require.NoError(t, err)

	assert.Equal(t, FinalCompleted, result.FinalStatus)
	require.NotNil(t, result.Plan)
	assert.Len(t, result.Plan.Phases, 1)
}
