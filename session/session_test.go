package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCreateAndGet(t *testing.T) {
	store := NewStore()
	sess := store.Create("coder", ModeAgent, "/work")

	require.NotEmpty(t, sess.ID)
	require.NotEmpty(t, sess.ThreadID())
	assert.NotEqual(t, sess.ID, sess.ThreadID())
	assert.Equal(t, "coder", sess.AgentName)
	assert.Equal(t, ModeAgent, sess.Mode())
	assert.Equal(t, sess.CreatedAt, sess.LastActivity())

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, store.Len())

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestStoreCreatesDistinctIDs(t *testing.T) {
	store := NewStore()
	a := store.Create("coder", ModeAgent, "")
	b := store.Create("coder", ModeAgent, "")
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ThreadID(), b.ThreadID())
}

func TestSessionResetKeepsIdentityAndDecisions(t *testing.T) {
	store := NewStore()
	sess := store.Create("coder", ModePlan, "")
	oldThread := sess.ThreadID()

	sess.Append(Message{Role: RoleUser, Content: "hi"})
	sess.Remember("write_file", DecisionAllowAlways)
	sess.Reset(store.NewThreadID())

	assert.NotEqual(t, oldThread, sess.ThreadID())
	assert.Empty(t, sess.Buffer())
	d, ok := sess.Decision("write_file")
	require.True(t, ok)
	assert.Equal(t, DecisionAllowAlways, d)
}

func TestSessionBufferIsCopied(t *testing.T) {
	sess := NewStore().Create("coder", ModeAgent, "")
	sess.Append(Message{Role: RoleUser, Content: "one"})

	buf := sess.Buffer()
	buf[0].Content = "mutated"
	assert.Equal(t, "one", sess.Buffer()[0].Content)
}

func TestSessionTouch(t *testing.T) {
	sess := NewStore().Create("coder", ModeAgent, "")
	later := sess.CreatedAt.Add(time.Minute)
	sess.Touch(later)
	assert.Equal(t, later, sess.LastActivity())
}

func TestMessageContentBlocks(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want []Block
		text string
	}{
		{
			name: "plain content",
			msg:  Message{Role: RoleAssistant, Content: "hello"},
			want: []Block{{Type: BlockText, Text: "hello"}},
			text: "hello",
		},
		{
			name: "blocks take precedence",
			msg: Message{Role: RoleAssistant, Content: "ignored", Blocks: []Block{
				{Type: BlockThinking, Text: "hmm"},
				{Type: BlockText, Text: "answer"},
			}},
			want: []Block{{Type: BlockThinking, Text: "hmm"}, {Type: BlockText, Text: "answer"}},
			text: "answer",
		},
		{
			name: "empty",
			msg:  Message{Role: RoleAssistant},
			want: nil,
			text: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.msg.ContentBlocks())
			assert.Equal(t, tt.text, tt.msg.Text())
		})
	}
}

func TestCloseToolCalls(t *testing.T) {
	messages := []Message{
		{ID: "u1", Role: RoleUser, Content: "go"},
		{ID: "a1", Role: RoleAssistant, ToolCalls: []ToolCall{
			{ToolCallID: "c1", Name: "read_file"},
			{ToolCallID: "c2", Name: "execute_command"},
		}},
		{ID: "r1", Role: RoleTool, ToolCallID: "c1", Content: "data"},
		{ID: "u2", Role: RoleUser, Content: "next"},
	}
	n := 0
	closed := CloseToolCalls(messages, func() string { n++; return "gen" })

	require.Len(t, closed, 5)
	assert.Equal(t, "r1", closed[2].ID)
	assert.Equal(t, Message{
		ID:         "gen",
		Role:       RoleTool,
		Content:    CancelledToolResult,
		ToolCallID: "c2",
		ToolName:   "execute_command",
		IsError:    true,
	}, closed[3])
	assert.Equal(t, "u2", closed[4].ID)
	assert.Equal(t, 1, n)
	assert.Len(t, messages, 4)
}

func TestCloseToolCallsTrailingReply(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "go"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ToolCallID: "c1", Name: "read_dir"}}},
	}
	closed := CloseToolCalls(messages, nil)
	require.Len(t, closed, 3)
	assert.Empty(t, closed[2].ID)
	assert.Equal(t, "c1", closed[2].ToolCallID)
	assert.True(t, closed[2].IsError)
}

func TestCloseToolCallsNothingMissing(t *testing.T) {
	messages := []Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ToolCallID: "c1"}}},
		{Role: RoleTool, ToolCallID: "c1", Content: "ok"},
		{Role: RoleAssistant, Content: "done"},
	}
	closed := CloseToolCalls(messages, nil)
	assert.Equal(t, messages, closed)
}
