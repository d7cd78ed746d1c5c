package acp

import (
	"context"
	"encoding/json"
	"sync"

	wire "github.com/m4xw311/deepacp/acp"
	"github.com/m4xw311/deepacp/agent"
	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/session"
	"go.uber.org/zap"
)

// update is a decoded session/update of any kind.
type update struct {
	SessionUpdate     string                  `json:"sessionUpdate"`
	Content           json.RawMessage         `json:"content"`
	ToolCallID        string                  `json:"toolCallId"`
	Title             string                  `json:"title"`
	Kind              string                  `json:"kind"`
	Status            string                  `json:"status"`
	Entries           []wire.PlanEntry        `json:"entries"`
	AvailableCommands []wire.AvailableCommand `json:"availableCommands"`
	CurrentModeID     string                  `json:"currentModeId"`
}

// text returns the text of a chunk, or of the first tool call content.
func (u update) text() string {
	if len(u.Content) == 0 {
		return ""
	}
	if u.Content[0] == '[' {
		var content []wire.ToolCallContent
		if err := json.Unmarshal(u.Content, &content); err != nil || len(content) == 0 || content[0].Content == nil {
			return ""
		}
		return content[0].Content.Text
	}
	var block wire.ContentBlock
	_ = json.Unmarshal(u.Content, &block)
	return block.Text
}

func decodeUpdate(params any) update {
	raw, _ := json.Marshal(params)
	var n struct {
		Update update `json:"update"`
	}
	_ = json.Unmarshal(raw, &n)
	return n.Update
}

func kinds(updates []update) []string {
	out := make([]string, 0, len(updates))
	for _, u := range updates {
		out = append(out, u.SessionUpdate)
	}
	return out
}

// fakePeer records notifications and answers calls with a scripted func.
type fakePeer struct {
	mu      sync.Mutex
	updates []update
	calls   int
	call    func(method string, params, result any) error
}

func (p *fakePeer) Call(ctx context.Context, method string, params, result any) error {
	p.mu.Lock()
	p.calls++
	call := p.call
	p.mu.Unlock()
	if call == nil {
		return errors.New("client unavailable")
	}
	return call(method, params, result)
}

func (p *fakePeer) Notify(method string, params any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, decodeUpdate(params))
	return nil
}

func (p *fakePeer) Reply(id json.RawMessage, result any) error      { return nil }
func (p *fakePeer) ReplyError(id json.RawMessage, err error) error { return nil }

func (p *fakePeer) sent() []update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]update(nil), p.updates...)
}

func (p *fakePeer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testUpdater(p *fakePeer) updater {
	return updater{peer: p, sessionID: "s1", logger: zap.NewNop()}
}

// scriptedEngine runs a script per turn and records the inputs it got.
type scriptedEngine struct {
	mu     sync.Mutex
	inputs []agent.Input
	script func(ctx context.Context, in agent.Input, events chan<- agent.Event)
}

func (e *scriptedEngine) Invoke(ctx context.Context, in agent.Input) (<-chan agent.Event, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, in)
	e.mu.Unlock()
	events := make(chan agent.Event)
	go func() {
		defer close(events)
		if e.script != nil {
			e.script(ctx, in, events)
		}
	}()
	return events, nil
}

func (e *scriptedEngine) turns() []agent.Input {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]agent.Input(nil), e.inputs...)
}

func emit(ctx context.Context, events chan<- agent.Event, ev agent.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func assistant(id, text string, calls ...session.ToolCall) session.Message {
	return session.Message{ID: id, Role: session.RoleAssistant, Content: text, ToolCalls: calls}
}

func toolResult(id, callID, text string) session.Message {
	return session.Message{ID: id, Role: session.RoleTool, ToolCallID: callID, Content: text}
}

func modelEvent(msgs ...session.Message) agent.Event {
	return agent.Event{Stage: agent.StageModel, Delta: &agent.StateDelta{Messages: msgs}}
}

func toolsEvent(msgs ...session.Message) agent.Event {
	return agent.Event{Stage: agent.StageTools, Delta: &agent.StateDelta{Messages: msgs}}
}
