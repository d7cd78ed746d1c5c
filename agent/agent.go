package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/deepacp/checkpoint"
	"github.com/m4xw311/deepacp/config"
	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/llm"
	"github.com/m4xw311/deepacp/session"
	"github.com/m4xw311/deepacp/tools"
	"go.uber.org/zap"
)

// DefaultMaxSteps bounds the number of model calls in one turn.
const DefaultMaxSteps = 50

// RejectedToolResult is the tool result recorded when a call is denied.
const RejectedToolResult = "tool call rejected by user"

var defaultTools = []string{"read_file", "read_dir", "write_file", "execute_command"}

var modeHints = map[string]string{
	session.ModePlan: "You are in plan mode. Investigate and propose a plan; do not modify files or run commands that change state.",
	session.ModeAsk:  "You are in ask mode. Answer the question directly without calling tools.",
}

// Agent is the LLM-backed engine. It keeps no per-thread state in memory;
// each turn starts from the thread's checkpoint. Turns on one thread run one
// at a time.
type Agent struct {
	Name string

	llm                llm.LLMClient
	tools              map[string]tools.Tool
	toolList           []tools.Tool
	checkpoints        checkpoint.Store
	systemPrompt       string
	requiresPermission func(string) bool
	registry           *tools.ToolRegistry
	logger             *zap.Logger
	threads            threadLocks

	MaxSteps int
	newID    func() string
	now      func() time.Time
}

// New assembles an engine from already-built parts.
func New(name string, client llm.LLMClient, activeTools []tools.Tool, store checkpoint.Store, systemPrompt string, requiresPermission func(string) bool, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if requiresPermission == nil {
		requiresPermission = func(string) bool { return false }
	}
	a := &Agent{
		Name:               name,
		llm:                client,
		tools:              make(map[string]tools.Tool),
		toolList:           activeTools,
		checkpoints:        store,
		systemPrompt:       systemPrompt,
		requiresPermission: requiresPermission,
		logger:             logger.With(zap.String("component", "agent"), zap.String("agent", name)),
		MaxSteps:           DefaultMaxSteps,
		newID:              uuid.NewString,
		now:                time.Now,
	}
	for _, t := range activeTools {
		a.tools[t.Name()] = t
	}
	return a
}

// Build materializes the engine for an agent configuration: its LLM client,
// its tool registry (starting MCP servers) and its system prompt.
func Build(ctx context.Context, cfg *config.Config, agentCfg *config.Agent, store checkpoint.Store, logger *zap.Logger) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := llm.New(ctx, agentCfg)
	if err != nil {
		return nil, err
	}

	registry, err := tools.NewToolRegistry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	ts := &config.Toolset{Name: "default", Tools: defaultTools}
	if len(cfg.Toolsets) > 0 {
		if ts, err = cfg.GetToolset(agentCfg.Toolset); err != nil {
			registry.Close()
			return nil, err
		}
	}
	active, err := registry.GetActiveTools(ts)
	if err != nil {
		registry.Close()
		return nil, err
	}

	a := New(agentCfg.Name, client, active, store, buildSystemPrompt(agentCfg, logger), cfg.RequiresPermission, logger)
	a.registry = registry
	return a, nil
}

// Close releases the tool registry.
func (a *Agent) Close() error {
	if a.registry == nil {
		return nil
	}
	return a.registry.Close()
}

// Invoke loads the thread, appends the turn and runs the model/tool loop on
// its own goroutine. It waits for an earlier turn on the same thread to
// finish writing its checkpoint first.
func (a *Agent) Invoke(ctx context.Context, in Input) (<-chan Event, error) {
	if in.ThreadID == "" {
		return nil, errors.New("thread id is required")
	}
	release, err := a.threads.acquire(ctx, in.ThreadID)
	if err != nil {
		return nil, errors.Wrapf(err, "waiting for thread %s", in.ThreadID)
	}

	var history []session.Message
	cp, err := a.checkpoints.Get(ctx, in.ThreadID)
	switch {
	case err == nil:
		history = cp.Messages
	case errors.Is(err, checkpoint.ErrNotFound):
	default:
		release()
		return nil, errors.Wrapf(err, "loading thread %s", in.ThreadID)
	}

	var todos []session.Todo
	if cp != nil {
		todos = cp.Todos
	}
	for _, m := range in.Messages {
		if m.ID == "" {
			m.ID = a.newID()
		}
		history = append(history, m)
	}

	events := make(chan Event)
	go a.run(ctx, in, history, todos, events, release)
	return events, nil
}

// run drives one turn. While ctx is live every step is checkpointed. Once
// ctx is done nothing more is saved until the loop exits, when a single
// final write answers the calls the turn did not get to.
func (a *Agent) run(ctx context.Context, in Input, history []session.Message, todos []session.Todo, events chan<- Event, release func()) {
	logger := a.logger.With(zap.String("thread_id", in.ThreadID), zap.String("session_id", in.SessionID))
	put := func() {
		err := a.checkpoints.Put(context.WithoutCancel(ctx), &checkpoint.Checkpoint{
			ThreadID:  in.ThreadID,
			Messages:  history,
			Todos:     todos,
			UpdatedAt: a.now(),
		})
		if err != nil {
			logger.Error("failed to save checkpoint", zap.Error(err))
		}
	}
	defer func() {
		if ctx.Err() != nil {
			history = session.CloseToolCalls(history, a.newID)
			put()
			logger.Debug("turn cancelled", zap.Int("messages", len(history)))
		}
		release()
		close(events)
	}()

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	save := func() {
		if ctx.Err() == nil {
			put()
		}
	}

	save()
	for step := 0; step < a.MaxSteps; step++ {
		if ctx.Err() != nil {
			return
		}

		reply, err := a.llm.Chat(ctx, a.promptMessages(history, in.Mode), a.toolList)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			emit(Event{Err: errors.Wrapf(err, "LLM chat failed")})
			return
		}
		if reply.ID == "" {
			reply.ID = a.newID()
		}
		reply.Role = session.RoleAssistant
		history = append(history, *reply)
		save()
		logger.Debug("model step", zap.Int("step", step), zap.Int("tool_calls", len(reply.ToolCalls)))

		if !emit(Event{Stage: StageModel, Delta: &StateDelta{Messages: []session.Message{*reply}}}) {
			return
		}
		if len(reply.ToolCalls) == 0 {
			return
		}

		for _, call := range reply.ToolCalls {
			if ctx.Err() != nil {
				return
			}
			result := a.execute(ctx, in, call)
			history = append(history, result)

			ev := Event{Stage: StageTools, Delta: &StateDelta{Messages: []session.Message{result}}}
			if call.Name == tools.WriteTodosToolName && !result.IsError {
				if parsed, err := tools.ParseTodos(call.Args); err == nil {
					todos = parsed
					ev.Nested = []StageDelta{{Stage: TodoMiddlewareStage, Delta: StateDelta{Todos: parsed}}}
				}
			}
			save()
			if !emit(ev) {
				return
			}
		}
	}

	emit(Event{Err: errors.New("agent stopped after %d steps without finishing", a.MaxSteps)})
}

// execute runs one tool call and always produces a tool message; failures
// are reported to the model rather than ending the turn.
func (a *Agent) execute(ctx context.Context, in Input, call session.ToolCall) session.Message {
	result := session.Message{
		ID:         a.newID(),
		Role:       session.RoleTool,
		ToolCallID: call.ToolCallID,
		ToolName:   call.Name,
	}
	fail := func(text string) session.Message {
		result.Content = text
		result.IsError = true
		return result
	}

	tool, ok := a.tools[call.Name]
	if !ok {
		return fail(fmt.Sprintf("Error: tool '%s' is not available", call.Name))
	}

	if a.requiresPermission(call.Name) && in.Approver != nil {
		allowed, err := in.Approver.Approve(ctx, call)
		if err != nil {
			return fail(fmt.Sprintf("Error: permission request failed: %v", err))
		}
		if !allowed {
			return fail(RejectedToolResult)
		}
	}

	out, err := tool.Execute(ctx, call.Args)
	if err != nil {
		return fail(fmt.Sprintf("Error: %v", err))
	}
	result.Content = out
	return result
}

// promptMessages prepends the system prompt and mode hint. Neither is
// persisted in the thread.
func (a *Agent) promptMessages(history []session.Message, mode string) []session.Message {
	system := a.systemPrompt
	if hint, ok := modeHints[mode]; ok {
		if system != "" {
			system += "\n\n"
		}
		system += hint
	}
	if system == "" {
		return history
	}
	out := make([]session.Message, 0, len(history)+1)
	out = append(out, session.Message{Role: session.RoleSystem, Content: system})
	return append(out, history...)
}

func buildSystemPrompt(agentCfg *config.Agent, logger *zap.Logger) string {
	var b strings.Builder
	b.WriteString(agentCfg.SystemPrompt)
	appendFiles := func(title string, paths []string) {
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("could not read "+strings.ToLower(title)+" file", zap.String("path", path), zap.Error(err))
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "## %s: %s\n%s", title, path, strings.TrimSpace(string(data)))
		}
	}
	appendFiles("Skill", agentCfg.Skills)
	appendFiles("Memory", agentCfg.Memory)
	return b.String()
}
