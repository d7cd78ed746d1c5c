package acp

import (
	"fmt"
	"strings"

	wire "github.com/m4xw311/deepacp/acp"
	"github.com/m4xw311/deepacp/session"
	"github.com/m4xw311/deepacp/tools"
)

// Lifecycle states of a tracked call. statusError maps to the wire status
// "failed".
const (
	statusInProgress = "in_progress"
	statusCompleted  = "completed"
	statusError      = "error"
	statusCancelled  = "cancelled"
)

type toolCallInfo struct {
	ID     string
	Name   string
	Args   map[string]interface{}
	Status string
	Result string
}

// toolCallTracker follows the tool calls of one prompt from start to a
// single terminal status. Terminal calls are dropped, so a late or repeated
// result for them is ignored.
type toolCallTracker struct {
	calls map[string]*toolCallInfo
	order []string
}

func newToolCallTracker() *toolCallTracker {
	return &toolCallTracker{calls: make(map[string]*toolCallInfo)}
}

// start registers a call and returns its tool_call notification. A call id
// already being tracked is not announced twice.
func (t *toolCallTracker) start(call session.ToolCall) (wire.ToolCall, bool) {
	if call.ToolCallID == "" {
		return wire.ToolCall{}, false
	}
	if _, ok := t.calls[call.ToolCallID]; ok {
		return wire.ToolCall{}, false
	}
	t.calls[call.ToolCallID] = &toolCallInfo{
		ID:     call.ToolCallID,
		Name:   call.Name,
		Args:   call.Args,
		Status: statusInProgress,
	}
	t.order = append(t.order, call.ToolCallID)
	return toolCallStarted(call), true
}

// finish resolves a call from its tool message.
func (t *toolCallTracker) finish(msg session.Message) (wire.ToolCallUpdate, string, bool) {
	info, ok := t.calls[msg.ToolCallID]
	if !ok {
		return wire.ToolCallUpdate{}, "", false
	}
	info.Result = msg.Text()
	info.Status = resultStatus(msg)
	t.remove(info.ID)
	return toolCallFinished(info.ID, info.Status, info.Result), info.Status, true
}

// cancelAll resolves every tracked call as cancelled, in start order.
func (t *toolCallTracker) cancelAll() []wire.ToolCallUpdate {
	return t.resolveAll(statusCancelled, "")
}

// failAll resolves every tracked call as failed with the given reason.
func (t *toolCallTracker) failAll(reason string) []wire.ToolCallUpdate {
	return t.resolveAll(statusError, reason)
}

func (t *toolCallTracker) resolveAll(status, result string) []wire.ToolCallUpdate {
	updates := make([]wire.ToolCallUpdate, 0, len(t.order))
	for _, id := range t.order {
		updates = append(updates, toolCallFinished(id, status, result))
	}
	t.calls = make(map[string]*toolCallInfo)
	t.order = nil
	return updates
}

func (t *toolCallTracker) len() int {
	return len(t.calls)
}

func (t *toolCallTracker) remove(id string) {
	delete(t.calls, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

func toolCallStarted(call session.ToolCall) wire.ToolCall {
	tc := wire.ToolCall{
		SessionUpdate: wire.UpdateToolCall,
		ToolCallID:    call.ToolCallID,
		Title:         toolTitle(call),
		Kind:          toolKind(call.Name),
		Status:        wire.ToolCallStatusInProgress,
		RawInput:      call.Args,
	}
	if path, ok := call.Args["path"].(string); ok && path != "" {
		tc.Locations = []wire.ToolCallLocation{{Path: path}}
	}
	return tc
}

func toolCallFinished(id, status, result string) wire.ToolCallUpdate {
	update := wire.ToolCallUpdate{
		SessionUpdate: wire.UpdateToolCallUpdate,
		ToolCallID:    id,
		Status:        wireStatus(status),
	}
	if result != "" {
		update.Content = toolResultContent(result)
	}
	return update
}

func toolResultContent(text string) []wire.ToolCallContent {
	block := wire.TextContent(text)
	return []wire.ToolCallContent{{Type: "content", Content: &block}}
}

func wireStatus(status string) string {
	switch status {
	case statusCompleted:
		return wire.ToolCallStatusCompleted
	case statusError:
		return wire.ToolCallStatusFailed
	case statusCancelled:
		return wire.ToolCallStatusCancelled
	default:
		return wire.ToolCallStatusInProgress
	}
}

var errorMarkers = []string{
	"error:",
	"exception",
	"traceback",
	"failed to",
	"permission denied",
	"no such file",
	"rejected by user",
}

// resultStatus classifies a tool result. Live turns and replayed history
// both use it so a call ends in the same status either way.
func resultStatus(msg session.Message) string {
	text := msg.Text()
	switch {
	case msg.IsError && text == session.CancelledToolResult:
		return statusCancelled
	case msg.IsError || looksLikeError(text):
		return statusError
	}
	return statusCompleted
}

// looksLikeError guesses whether a tool result reports a failure.
func looksLikeError(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(lower, "error") {
		return true
	}
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func toolKind(name string) string {
	switch name {
	case "read_file", "read_dir":
		return wire.ToolKindRead
	case "write_file":
		return wire.ToolKindEdit
	case "execute_command":
		return wire.ToolKindExecute
	case tools.WriteTodosToolName:
		return wire.ToolKindThink
	}
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "search"), strings.Contains(lower, "grep"), strings.Contains(lower, "find"):
		return wire.ToolKindSearch
	case strings.Contains(lower, "fetch"), strings.Contains(lower, "http"):
		return wire.ToolKindFetch
	case strings.Contains(lower, "delete"), strings.Contains(lower, "remove"):
		return wire.ToolKindDelete
	case strings.Contains(lower, "move"), strings.Contains(lower, "rename"):
		return wire.ToolKindMove
	case strings.Contains(lower, "read"):
		return wire.ToolKindRead
	}
	return wire.ToolKindOther
}

func toolTitle(call session.ToolCall) string {
	for _, key := range []string{"path", "command"} {
		if v, ok := call.Args[key].(string); ok && v != "" {
			return fmt.Sprintf("%s: %s", call.Name, v)
		}
	}
	return call.Name
}
