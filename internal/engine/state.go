package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bottleneck-bots/botengine/internal/correction"
	"github.com/bottleneck-bots/botengine/internal/llm"
)

// Status is the run-level lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusExecuting    Status = "executing"
	StatusNeedsInput   Status = "needs_input"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Final statuses reported by Run. FinalMaxIterations is distinct from
// FinalFailed so callers can tell a hit ceiling from a real failure.
const (
	FinalCompleted     = "completed"
	FinalFailed        = "failed"
	FinalNeedsInput    = "needs_input"
	FinalMaxIterations = "max_iterations"
)

// PhaseStatus is the lifecycle state of a single plan phase.
type PhaseStatus string

const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
	PhaseSkipped    PhaseStatus = "skipped"
)

// Phase is a named, ordered subdivision of the plan with explicit success
// criteria.
type Phase struct {
	Name   string      `json:"name"`
	Goal   string      `json:"goal"`
	Status PhaseStatus `json:"status"`
}

// Plan is the ordered phase list for a run. At most one phase is in_progress
// at any time, and progress never moves backward.
type Plan struct {
	Phases []*Phase `json:"phases"`
}

// Current returns the in_progress phase, or nil when none is active.
func (p *Plan) Current() *Phase {
	if p == nil {
		return nil
	}
	for _, phase := range p.Phases {
		if phase.Status == PhaseInProgress {
			return phase
		}
	}
	return nil
}

// AllCompleted reports whether every phase finished (completed or skipped).
func (p *Plan) AllCompleted() bool {
	if p == nil || len(p.Phases) == 0 {
		return false
	}
	for _, phase := range p.Phases {
		if phase.Status != PhaseCompleted && phase.Status != PhaseSkipped {
			return false
		}
	}
	return true
}

// Advance completes the current phase and starts the next pending one. It
// returns the newly started phase, or nil when the plan is exhausted.
func (p *Plan) Advance() *Phase {
	if p == nil {
		return nil
	}
	for i, phase := range p.Phases {
		if phase.Status == PhaseInProgress {
			phase.Status = PhaseCompleted
			for _, next := range p.Phases[i+1:] {
				if next.Status == PhasePending {
					next.Status = PhaseInProgress
					return next
				}
			}
			return nil
		}
	}
	return nil
}

// ToolHistoryEntry records one executed action. The history is append-only
// and is the single source of truth for what happened when.
type ToolHistoryEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Result     interface{}            `json:"result,omitempty"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	DurationMs int64                  `json:"duration_ms"`
}

// ExecutionState is the complete mutable state of one run. One run owns its
// state exclusively; nothing here is shared across runs.
type ExecutionState struct {
	RunID             string                      `json:"run_id"`
	Goal              string                      `json:"goal"`
	InitialContext    string                      `json:"initial_context,omitempty"`
	Plan              *Plan                       `json:"plan,omitempty"`
	CurrentPhaseIndex int                         `json:"current_phase_index"`
	IterationCount    int                         `json:"iteration_count"`
	TotalErrorCount   int                         `json:"total_error_count"`
	ConsecutiveErrors int                         `json:"consecutive_errors"`
	Status            Status                      `json:"status"`
	ToolHistory       []*ToolHistoryEntry         `json:"tool_history"`
	FailureAttempts   []correction.FailureAttempt `json:"failure_attempts,omitempty"`
	Transcript        []*llm.Message              `json:"transcript"`
	Scratch           map[string]interface{}      `json:"scratch"`
	PageURL           string                      `json:"page_url,omitempty"`
	PageTitle         string                      `json:"page_title,omitempty"`
	PendingQuestion   string                      `json:"pending_question,omitempty"`
	Output            string                      `json:"output,omitempty"`
	StartedAt         time.Time                   `json:"started_at"`
}

// NewExecutionState creates the initial state for a run.
func NewExecutionState(goal, initialContext string) *ExecutionState {
	return &ExecutionState{
		RunID:          uuid.NewString(),
		Goal:           goal,
		InitialContext: initialContext,
		Status:         StatusInitializing,
		Scratch:        make(map[string]interface{}),
		StartedAt:      time.Now().UTC(),
	}
}

// Set stores a scratch value. Implements tools.Scratch.
func (s *ExecutionState) Set(key string, value interface{}) {
	if s.Scratch == nil {
		s.Scratch = make(map[string]interface{})
	}
	s.Scratch[key] = value
}

// Get reads a scratch value. Implements tools.Scratch.
func (s *ExecutionState) Get(key string) (interface{}, bool) {
	value, ok := s.Scratch[key]
	return value, ok
}

// AppendHistory records an executed action and updates the error counters:
// success zeroes the consecutive count, failure increments both.
func (s *ExecutionState) AppendHistory(entry *ToolHistoryEntry) {
	s.ToolHistory = append(s.ToolHistory, entry)
	if entry.Success {
		s.ConsecutiveErrors = 0
	} else {
		s.ConsecutiveErrors++
		s.TotalErrorCount++
	}
}

// LastHistory returns the most recent history entry, or nil.
func (s *ExecutionState) LastHistory() *ToolHistoryEntry {
	if len(s.ToolHistory) == 0 {
		return nil
	}
	return s.ToolHistory[len(s.ToolHistory)-1]
}

// Snapshot serializes the state for the persistence collaborator. A restored
// snapshot resumes deterministically given the same oracle and tool
// responses.
func (s *ExecutionState) Snapshot() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot execution state: %w", err)
	}
	return data, nil
}

// RestoreState rebuilds an ExecutionState from a snapshot.
func RestoreState(data []byte) (*ExecutionState, error) {
	var state ExecutionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to restore execution state: %w", err)
	}
	if state.Scratch == nil {
		state.Scratch = make(map[string]interface{})
	}
	return &state, nil
}
