package engine

import "context"

// Observer receives fire-and-forget notifications at well-defined points in
// the loop. Implementations must not block; the engine does not depend on
// delivery succeeding.
type Observer interface {
	PlanCreated(runID string, plan *Plan)
	PhaseStarted(runID string, phase *Phase)
	PhaseCompleted(runID string, phase *Phase)
	ToolStarted(runID, toolName string, params map[string]interface{})
	ToolCompleted(runID string, entry *ToolHistoryEntry)
	Thinking(runID, text string)
	RunFinished(runID string, result *Result)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) PlanCreated(string, *Plan)                          {}
func (NopObserver) PhaseStarted(string, *Phase)                        {}
func (NopObserver) PhaseCompleted(string, *Phase)                      {}
func (NopObserver) ToolStarted(string, string, map[string]interface{}) {}
func (NopObserver) ToolCompleted(string, *ToolHistoryEntry)            {}
func (NopObserver) Thinking(string, string)                            {}
func (NopObserver) RunFinished(string, *Result)                        {}

// Persister receives run records and periodic state snapshots for
// durability. Schema ownership is external; the engine only writes.
type Persister interface {
	CreateRun(ctx context.Context, runID, goal string) error
	SaveSnapshot(ctx context.Context, runID string, snapshot []byte) error
	FinishRun(ctx context.Context, runID, finalStatus string) error
}

// NopPersister discards all writes.
type NopPersister struct{}

func (NopPersister) CreateRun(context.Context, string, string) error    { return nil }
func (NopPersister) SaveSnapshot(context.Context, string, []byte) error { return nil }
func (NopPersister) FinishRun(context.Context, string, string) error    { return nil }
