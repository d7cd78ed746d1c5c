package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/session"
)

// WriteTodosToolName is the built-in planning tool. The agent engine turns
// its calls into plan updates.
const WriteTodosToolName = "write_todos"

// WriteTodosTool replaces the agent's todo list.
type WriteTodosTool struct{}

func (t *WriteTodosTool) Name() string { return WriteTodosToolName }
func (t *WriteTodosTool) Description() string {
	return "Replaces your todo list for the current task. Args: todos (array of {content, status: pending|in_progress|completed, priority: high|medium|low})."
}

func (t *WriteTodosTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	todos, err := ParseTodos(args)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Updated todo list (%d items):\n", len(todos))
	for _, td := range todos {
		fmt.Fprintf(&b, "- [%s] %s\n", td.Status, td.Content)
	}
	return b.String(), nil
}

// ParseTodos decodes the "todos" argument of a write_todos call.
func ParseTodos(args map[string]interface{}) ([]session.Todo, error) {
	raw, ok := args["todos"].([]interface{})
	if !ok {
		return nil, errors.New("missing or invalid 'todos' argument")
	}

	todos := make([]session.Todo, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.New("todo %d is not an object", i)
		}
		content, _ := m["content"].(string)
		if content == "" {
			return nil, errors.New("todo %d has no content", i)
		}
		status, _ := m["status"].(string)
		if status == "" {
			status = "pending"
		}
		priority, _ := m["priority"].(string)
		todos = append(todos, session.Todo{Content: content, Status: status, Priority: priority})
	}
	return todos, nil
}
