package agent

import (
	"context"

	"github.com/m4xw311/deepacp/session"
)

// Stage names carried by engine events.
const (
	StageModel = "model"
	StageTools = "tools"

	// TodoMiddlewareStage is the nested stage that reports todo list changes
	// after a tool step.
	TodoMiddlewareStage = "TodoListMiddleware.after_tools"
)

// StateDelta is a partial update of the agent state. Nil Todos means the
// todo list did not change.
type StateDelta struct {
	Messages []session.Message
	Todos    []session.Todo
}

// StageDelta is a delta attributed to a named (possibly nested) stage.
type StageDelta struct {
	Stage string
	Delta StateDelta
}

// Event is one item of an engine stream. Engines populate whichever shape
// fits: a stage delta, nested middleware deltas, a single message, or a full
// state snapshot. Consumers must tolerate any combination, including none.
type Event struct {
	Stage    string
	Delta    *StateDelta
	Nested   []StageDelta
	Message  *session.Message
	Snapshot *StateDelta
	Err      error
}

// Approver decides whether a sensitive tool call may run.
type Approver interface {
	Approve(ctx context.Context, call session.ToolCall) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, call session.ToolCall) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, call session.ToolCall) (bool, error) {
	return f(ctx, call)
}

// Input is one turn handed to an engine.
type Input struct {
	ThreadID  string
	SessionID string
	Messages  []session.Message
	Mode      string
	Approver  Approver
}

// Engine runs agent turns. The returned channel is closed when the turn is
// over; cancelling ctx ends the turn early.
type Engine interface {
	Invoke(ctx context.Context, in Input) (<-chan Event, error)
}
