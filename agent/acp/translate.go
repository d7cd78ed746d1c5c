package acp

import (
	"context"
	"slices"

	wire "github.com/m4xw311/deepacp/acp"
	"github.com/m4xw311/deepacp/agent"
	"github.com/m4xw311/deepacp/session"
	"go.uber.org/zap"
)

// translator turns one prompt's engine events into session updates.
type translator struct {
	out     updater
	sess    *session.Session
	tracker *toolCallTracker
	logger  *zap.Logger
	metrics *Metrics

	// seen holds the ids of messages the client already has. covered is
	// the length of the thread state the client has seen, used to place
	// snapshot messages that carry no id.
	seen    map[string]bool
	covered int

	planSent bool
	lastPlan []session.Todo
}

// newTranslator creates a translator for a turn on top of history, the
// thread's messages up to and including the new user message. Snapshots
// repeating history or the session buffer are not rendered again.
func newTranslator(out updater, sess *session.Session, history []session.Message, logger *zap.Logger, metrics *Metrics) *translator {
	tr := &translator{
		out:     out,
		sess:    sess,
		tracker: newToolCallTracker(),
		logger:  logger,
		metrics: metrics,
		seen:    make(map[string]bool, len(history)),
		covered: len(history),
	}
	for _, m := range sess.Buffer() {
		tr.markSeen(m)
	}
	for _, m := range history {
		tr.markSeen(m)
	}
	return tr
}

// run consumes events until the engine closes the stream or ctx is
// cancelled, and returns the stop reason.
func (tr *translator) run(ctx context.Context, events <-chan agent.Event) (string, error) {
	exhausted := false
	defer func() {
		if !exhausted {
			// Unblock an engine still trying to send.
			go func() {
				for range events {
				}
			}()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			tr.cancel()
			return wire.StopReasonCancelled, nil
		case ev, ok := <-events:
			exhausted = !ok
			if ctx.Err() != nil {
				tr.cancel()
				return wire.StopReasonCancelled, nil
			}
			if !ok {
				tr.fail("tool call produced no result")
				return wire.StopReasonEndTurn, nil
			}
			if ev.Err != nil {
				tr.handle(ev)
				tr.fail(ev.Err.Error())
				return "", ev.Err
			}
			tr.handle(ev)
		}
	}
}

func (tr *translator) handle(ev agent.Event) {
	c := eventContent(ev)
	for _, m := range c.messages {
		tr.message(m)
		tr.covered++
	}
	tr.snapshot(c.snapshot)
	if c.todosChanged {
		tr.plan(c.todos)
	}
}

// snapshot renders the part of a full state the client has not seen.
// Messages with an id are matched by id, the rest by position.
func (tr *translator) snapshot(msgs []session.Message) {
	for i, m := range msgs {
		if m.ID != "" && tr.seen[m.ID] {
			continue
		}
		if m.ID == "" && i < tr.covered {
			continue
		}
		tr.message(m)
	}
	tr.covered = max(tr.covered, len(msgs))
}

func (tr *translator) markSeen(m session.Message) {
	if m.ID != "" {
		tr.seen[m.ID] = true
	}
}

func (tr *translator) message(m session.Message) {
	tr.markSeen(m)
	switch m.Role {
	case session.RoleAssistant:
		tr.sess.Append(m)
		for _, b := range m.ContentBlocks() {
			if b.Text == "" {
				continue
			}
			kind := wire.UpdateAgentMessageChunk
			if b.Type == session.BlockThinking {
				kind = wire.UpdateAgentThoughtChunk
			}
			tr.out.chunk(kind, b.Text)
		}
		for _, call := range m.ToolCalls {
			if update, ok := tr.tracker.start(call); ok {
				tr.out.send(update)
			}
		}
	case session.RoleTool:
		tr.sess.Append(m)
		update, status, ok := tr.tracker.finish(m)
		if !ok {
			tr.logger.Debug("ignoring result for unknown tool call", zap.String("tool_call_id", m.ToolCallID))
			return
		}
		tr.metrics.toolCallFinished(status)
		tr.out.send(update)
	}
}

// plan sends the todo list as a plan. An unchanged list, as repeated by
// snapshots, is not resent.
func (tr *translator) plan(todos []session.Todo) {
	if tr.planSent && slices.Equal(tr.lastPlan, todos) {
		return
	}
	tr.planSent = true
	tr.lastPlan = slices.Clone(todos)
	tr.out.send(wire.Plan{SessionUpdate: wire.UpdatePlan, Entries: planEntries(todos)})
}

func (tr *translator) cancel() {
	for _, update := range tr.tracker.cancelAll() {
		tr.metrics.toolCallFinished(statusCancelled)
		tr.out.send(update)
	}
}

func (tr *translator) fail(reason string) {
	for _, update := range tr.tracker.failAll(reason) {
		tr.metrics.toolCallFinished(statusError)
		tr.out.send(update)
	}
}

// content is what an event carries. messages come from the delta, nested
// and message shapes, in that order, and are always new. snapshot is a full
// state that repeats earlier messages.
type content struct {
	messages     []session.Message
	snapshot     []session.Message
	todos        []session.Todo
	todosChanged bool
}

func eventContent(ev agent.Event) content {
	var c content
	takeTodos := func(d *agent.StateDelta) {
		if d != nil && d.Todos != nil {
			c.todos, c.todosChanged = d.Todos, true
		}
	}
	if ev.Delta != nil {
		c.messages = append(c.messages, ev.Delta.Messages...)
		takeTodos(ev.Delta)
	}
	for i := range ev.Nested {
		c.messages = append(c.messages, ev.Nested[i].Delta.Messages...)
		takeTodos(&ev.Nested[i].Delta)
	}
	if ev.Message != nil {
		c.messages = append(c.messages, *ev.Message)
	}
	if ev.Snapshot != nil {
		c.snapshot = ev.Snapshot.Messages
		takeTodos(ev.Snapshot)
	}
	return c
}

func planEntries(todos []session.Todo) []wire.PlanEntry {
	entries := make([]wire.PlanEntry, 0, len(todos))
	for _, t := range todos {
		priority := t.Priority
		if priority == "" {
			priority = "medium"
		}
		status := t.Status
		if status == "" {
			status = "pending"
		}
		entries = append(entries, wire.PlanEntry{Content: t.Content, Priority: priority, Status: status})
	}
	return entries
}
