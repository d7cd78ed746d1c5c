package session

import "strings"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Content block types carried by assistant messages.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
)

// Block is one piece of structured message content.
type Block struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ToolCallID string                 `json:"id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args,omitempty"`
}

// Message is one entry of a conversation. Tool results use RoleTool and
// reference the originating call through ToolCallID.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       string     `json:"role"` // "user", "assistant", "tool", "system"
	Content    string     `json:"content,omitempty"`
	Blocks     []Block    `json:"blocks,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ContentBlocks returns the message content as ordered blocks. Plain
// Content is reported as a single text block.
func (m Message) ContentBlocks() []Block {
	if len(m.Blocks) > 0 {
		return m.Blocks
	}
	if m.Content == "" {
		return nil
	}
	return []Block{{Type: BlockText, Text: m.Content}}
}

// Text joins the text blocks of the message, skipping thinking blocks.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.ContentBlocks() {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "")
}

// CancelledToolResult is the error result recorded for a tool call whose
// turn ended before it ran.
const CancelledToolResult = "tool call cancelled"

// CloseToolCalls answers every assistant tool call that has no result with
// an error result reading CancelledToolResult. Added results follow the
// existing results of their assistant message. newID, when set, names them.
// messages is returned as is when every call is answered.
func CloseToolCalls(messages []Message, newID func() string) []Message {
	out := make([]Message, 0, len(messages))
	changed := false
	for i := 0; i < len(messages); i++ {
		out = append(out, messages[i])
		calls := messages[i].ToolCalls
		if messages[i].Role != RoleAssistant || len(calls) == 0 {
			continue
		}
		answered := make(map[string]bool, len(calls))
		for i+1 < len(messages) && messages[i+1].Role == RoleTool {
			i++
			answered[messages[i].ToolCallID] = true
			out = append(out, messages[i])
		}
		for _, call := range calls {
			if answered[call.ToolCallID] {
				continue
			}
			result := Message{
				Role:       RoleTool,
				Content:    CancelledToolResult,
				ToolCallID: call.ToolCallID,
				ToolName:   call.Name,
				IsError:    true,
			}
			if newID != nil {
				result.ID = newID()
			}
			out = append(out, result)
			changed = true
		}
	}
	if !changed {
		return messages
	}
	return out
}

// Todo is one entry of the agent's plan checklist.
type Todo struct {
	Content  string `json:"content"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
}
