package acp

import (
	"context"
	"slices"
	"testing"
	"time"

	wire "github.com/m4xw311/deepacp/acp"
	"github.com/m4xw311/deepacp/agent"
	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession() *session.Session {
	return session.NewStore().Create("coder", session.ModeAgent, "/work")
}

func runEvents(t *testing.T, tr *translator, evs ...agent.Event) (string, error) {
	t.Helper()
	events := make(chan agent.Event, len(evs))
	for _, ev := range evs {
		events <- ev
	}
	close(events)
	return tr.run(context.Background(), events)
}

func TestTranslatorRendersTurn(t *testing.T) {
	peer := &fakePeer{}
	sess := newTestSession()
	tr := newTranslator(testUpdater(peer), sess, nil, zap.NewNop(), NewMetrics(nil))

	thinking := session.Message{
		ID:   "a1",
		Role: session.RoleAssistant,
		Blocks: []session.Block{
			{Type: session.BlockThinking, Text: "need the file"},
			{Type: session.BlockText, Text: "Reading main.go"},
		},
		ToolCalls: []session.ToolCall{{ToolCallID: "c1", Name: "read_file", Args: map[string]interface{}{"path": "main.go"}}},
	}
	todos := agent.Event{
		Stage: agent.StageTools,
		Delta: &agent.StateDelta{Messages: []session.Message{toolResult("t1", "c1", "package main")}},
		Nested: []agent.StageDelta{{
			Stage: agent.TodoMiddlewareStage,
			Delta: agent.StateDelta{Todos: []session.Todo{{Content: "fix", Status: "in_progress"}}},
		}},
	}

	stop, err := runEvents(t, tr, modelEvent(thinking), todos, modelEvent(assistant("a2", "Done")))
	require.NoError(t, err)
	assert.Equal(t, wire.StopReasonEndTurn, stop)

	updates := peer.sent()
	assert.Equal(t, []string{
		wire.UpdateAgentThoughtChunk,
		wire.UpdateAgentMessageChunk,
		wire.UpdateToolCall,
		wire.UpdateToolCallUpdate,
		wire.UpdatePlan,
		wire.UpdateAgentMessageChunk,
	}, kinds(updates))
	assert.Equal(t, "need the file", updates[0].text())
	assert.Equal(t, "Reading main.go", updates[1].text())
	assert.Equal(t, "c1", updates[2].ToolCallID)
	assert.Equal(t, wire.ToolCallStatusCompleted, updates[3].Status)
	assert.Equal(t, "package main", updates[3].text())
	assert.Equal(t, []wire.PlanEntry{{Content: "fix", Priority: "medium", Status: "in_progress"}}, updates[4].Entries)
	assert.Equal(t, "Done", updates[5].text())

	assert.Len(t, sess.Buffer(), 3)
}

func TestTranslatorSkipsSeenMessages(t *testing.T) {
	peer := &fakePeer{}
	user := session.Message{ID: "u1", Role: session.RoleUser, Content: "hi"}
	earlier := assistant("a0", "from an earlier turn")
	tr := newTranslator(testUpdater(peer), newTestSession(), []session.Message{earlier, user}, zap.NewNop(), nil)

	todo := []session.Todo{{Content: "step", Status: "pending", Priority: "high"}}
	first := agent.Event{Snapshot: &agent.StateDelta{Messages: []session.Message{earlier, user, assistant("a1", "hello")}, Todos: todo}}
	second := agent.Event{Snapshot: &agent.StateDelta{Messages: []session.Message{earlier, user, assistant("a1", "hello"), assistant("a2", "again")}, Todos: todo}}
	single := agent.Event{Message: &session.Message{ID: "a3", Role: session.RoleAssistant, Content: "later"}}

	_, err := runEvents(t, tr, first, second, single)
	require.NoError(t, err)

	updates := peer.sent()
	assert.Equal(t, []string{wire.UpdateAgentMessageChunk, wire.UpdatePlan, wire.UpdateAgentMessageChunk, wire.UpdateAgentMessageChunk}, kinds(updates))
	assert.Equal(t, "hello", updates[0].text())
	assert.Equal(t, "again", updates[2].text())
	assert.Equal(t, "later", updates[3].text())
}

func TestTranslatorSnapshotSkipsDeltaMessages(t *testing.T) {
	peer := &fakePeer{}
	user := session.Message{ID: "u1", Role: session.RoleUser, Content: "hi"}
	tr := newTranslator(testUpdater(peer), newTestSession(), []session.Message{user}, zap.NewNop(), nil)

	reply := session.Message{Role: session.RoleAssistant, Content: "hello"}
	_, err := runEvents(t, tr,
		agent.Event{Delta: &agent.StateDelta{Messages: []session.Message{reply}}},
		agent.Event{Snapshot: &agent.StateDelta{Messages: []session.Message{user, reply, assistant("a2", "more")}}},
	)
	require.NoError(t, err)

	updates := peer.sent()
	require.Len(t, updates, 2)
	assert.Equal(t, "hello", updates[0].text())
	assert.Equal(t, "more", updates[1].text())
}

func TestTranslatorMessagesWithoutIDs(t *testing.T) {
	peer := &fakePeer{}
	tr := newTranslator(testUpdater(peer), newTestSession(), nil, zap.NewNop(), nil)

	msg := session.Message{Role: session.RoleAssistant, Content: "no id"}
	_, err := runEvents(t, tr,
		agent.Event{Snapshot: &agent.StateDelta{Messages: []session.Message{msg}}},
		agent.Event{Snapshot: &agent.StateDelta{Messages: []session.Message{msg}}},
	)
	require.NoError(t, err)
	assert.Len(t, peer.sent(), 1)
}

func TestTranslatorRendersRepeatedTextWithoutIDs(t *testing.T) {
	peer := &fakePeer{}
	sess := newTestSession()
	earlier := []session.Message{
		{Role: session.RoleUser, Content: "first"},
		{Role: session.RoleAssistant, Content: "Done."},
	}
	for _, m := range earlier {
		sess.Append(m)
	}
	user := session.Message{Role: session.RoleUser, Content: "second"}
	sess.Append(user)
	history := append(slices.Clone(earlier), user)
	tr := newTranslator(testUpdater(peer), sess, history, zap.NewNop(), nil)

	reply := session.Message{Role: session.RoleAssistant, Content: "Done."}
	_, err := runEvents(t, tr,
		agent.Event{Stage: agent.StageModel, Delta: &agent.StateDelta{Messages: []session.Message{reply}}},
		agent.Event{Snapshot: &agent.StateDelta{Messages: append(slices.Clone(history), reply)}},
	)
	require.NoError(t, err)

	updates := peer.sent()
	require.Len(t, updates, 1)
	assert.Equal(t, "Done.", updates[0].text())
	assert.Len(t, sess.Buffer(), 4)
}

func TestTranslatorIgnoresUnknownResult(t *testing.T) {
	peer := &fakePeer{}
	tr := newTranslator(testUpdater(peer), newTestSession(), nil, zap.NewNop(), nil)

	_, err := runEvents(t, tr, toolsEvent(toolResult("t1", "missing", "output")))
	require.NoError(t, err)
	assert.Empty(t, peer.sent())
}

func TestTranslatorEmptyEvent(t *testing.T) {
	peer := &fakePeer{}
	tr := newTranslator(testUpdater(peer), newTestSession(), nil, zap.NewNop(), nil)

	stop, err := runEvents(t, tr, agent.Event{Stage: "custom"})
	require.NoError(t, err)
	assert.Equal(t, wire.StopReasonEndTurn, stop)
	assert.Empty(t, peer.sent())
}

func TestTranslatorEngineError(t *testing.T) {
	peer := &fakePeer{}
	tr := newTranslator(testUpdater(peer), newTestSession(), nil, zap.NewNop(), nil)

	boom := errors.New("model unavailable")
	_, err := runEvents(t, tr,
		modelEvent(assistant("a1", "", session.ToolCall{ToolCallID: "c1", Name: "execute_command"})),
		agent.Event{Err: boom},
	)
	assert.ErrorIs(t, err, boom)

	updates := peer.sent()
	require.Len(t, updates, 2)
	assert.Equal(t, wire.UpdateToolCallUpdate, updates[1].SessionUpdate)
	assert.Equal(t, wire.ToolCallStatusFailed, updates[1].Status)
}

func TestTranslatorFlushesOrphanedCalls(t *testing.T) {
	peer := &fakePeer{}
	tr := newTranslator(testUpdater(peer), newTestSession(), nil, zap.NewNop(), nil)

	stop, err := runEvents(t, tr, modelEvent(assistant("a1", "", session.ToolCall{ToolCallID: "c1", Name: "read_dir"})))
	require.NoError(t, err)
	assert.Equal(t, wire.StopReasonEndTurn, stop)

	updates := peer.sent()
	require.Len(t, updates, 2)
	assert.Equal(t, wire.ToolCallStatusFailed, updates[1].Status)
}

func TestTranslatorCancelFlushesInFlightCalls(t *testing.T) {
	peer := &fakePeer{}
	tr := newTranslator(testUpdater(peer), newTestSession(), nil, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan agent.Event)
	type result struct {
		stop string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		stop, err := tr.run(ctx, events)
		done <- result{stop, err}
	}()

	events <- modelEvent(assistant("a1", "",
		session.ToolCall{ToolCallID: "c1", Name: "execute_command"},
		session.ToolCall{ToolCallID: "c2", Name: "write_file"},
	))
	require.Eventually(t, func() bool { return len(peer.sent()) == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, wire.StopReasonCancelled, r.stop)
	case <-time.After(5 * time.Second):
		t.Fatal("translator did not stop")
	}

	updates := peer.sent()
	require.Len(t, updates, 4)
	for _, u := range updates[2:] {
		assert.Equal(t, wire.UpdateToolCallUpdate, u.SessionUpdate)
		assert.Equal(t, wire.ToolCallStatusCancelled, u.Status)
	}
	assert.ElementsMatch(t, []string{"c1", "c2"}, []string{updates[2].ToolCallID, updates[3].ToolCallID})
}

func TestEventContentShapes(t *testing.T) {
	msg := assistant("a1", "x")
	todos := []session.Todo{{Content: "t"}}

	c := eventContent(agent.Event{Message: &msg})
	assert.Len(t, c.messages, 1)
	assert.Empty(t, c.snapshot)
	assert.False(t, c.todosChanged)

	c = eventContent(agent.Event{
		Delta:    &agent.StateDelta{Messages: []session.Message{msg}},
		Nested:   []agent.StageDelta{{Stage: agent.TodoMiddlewareStage, Delta: agent.StateDelta{Todos: todos}}},
		Snapshot: &agent.StateDelta{Messages: []session.Message{msg}},
	})
	assert.Len(t, c.messages, 1)
	assert.Len(t, c.snapshot, 1)
	assert.True(t, c.todosChanged)
	assert.Equal(t, todos, c.todos)

	c = eventContent(agent.Event{})
	assert.Empty(t, c.messages)
	assert.False(t, c.todosChanged)
}

func TestPlanEntriesDefaults(t *testing.T) {
	entries := planEntries([]session.Todo{{Content: "a"}, {Content: "b", Status: "completed", Priority: "low"}})
	assert.Equal(t, []wire.PlanEntry{
		{Content: "a", Priority: "medium", Status: "pending"},
		{Content: "b", Priority: "low", Status: "completed"},
	}, entries)
}
