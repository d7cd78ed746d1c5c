package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/m4xw311/deepacp/agent"
	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/session"
	"go.uber.org/zap"
)

// Verbosity controls how much tool activity is printed.
type Verbosity string

const (
	VerbosityNone Verbosity = "none"
	VerbosityInfo Verbosity = "info"
	VerbosityAll  Verbosity = "all"
)

// ParseVerbosity validates a verbosity name. Empty means none.
func ParseVerbosity(s string) (Verbosity, error) {
	switch v := Verbosity(s); v {
	case "":
		return VerbosityNone, nil
	case VerbosityNone, VerbosityInfo, VerbosityAll:
		return v, nil
	}
	return "", errors.New("invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'", s)
}

// Options configures a Terminal. In and Out are required.
type Options struct {
	In        io.Reader
	Out       io.Writer
	ThreadID  string
	Mode      string
	Verbosity Verbosity
	// AutoApprove runs sensitive tools without asking.
	AutoApprove bool
	Logger      *zap.Logger
}

// Terminal handles the interactive chat mode for an engine.
type Terminal struct {
	engine    agent.Engine
	in        *bufio.Reader
	outMu     sync.Mutex
	out       io.Writer
	threadID  string
	mode      string
	verbosity Verbosity
	auto      bool
	logger    *zap.Logger
}

// New creates a new Terminal instance
func New(engine agent.Engine, opts Options) *Terminal {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := opts.Mode
	if mode == "" {
		mode = session.ModeAgent
	}
	verbosity := opts.Verbosity
	if verbosity == "" {
		verbosity = VerbosityNone
	}
	return &Terminal{
		engine:    engine,
		in:        bufio.NewReader(opts.In),
		out:       opts.Out,
		threadID:  opts.ThreadID,
		mode:      mode,
		verbosity: verbosity,
		auto:      opts.AutoApprove,
		logger:    logger,
	}
}

// Run starts the interactive terminal session
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	for {
		t.printf("You: ")
		line, err := t.readLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		userInput := strings.TrimSpace(line)
		if userInput == "" {
			continue
		}
		if userInput == "/quit" || userInput == "/exit" {
			return nil
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.printf("Error: %v\n", err)
		}
	}
}

// readLine returns the next line; a final line without a newline is
// returned before io.EOF.
func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err == io.EOF && line != "" {
		return line, nil
	}
	return line, err
}

// processTurn handles a single user input turn
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	events, err := t.engine.Invoke(ctx, agent.Input{
		ThreadID:  t.threadID,
		SessionID: "terminal",
		Messages:  []session.Message{{Role: session.RoleUser, Content: userInput}},
		Mode:      t.mode,
		Approver:  agent.ApproverFunc(t.approve),
	})
	if err != nil {
		return err
	}

	var turnErr error
	for ev := range events {
		if ev.Err != nil {
			turnErr = ev.Err
			continue
		}
		t.render(ev)
	}
	return turnErr
}

func (t *Terminal) render(ev agent.Event) {
	var msgs []session.Message
	switch {
	case ev.Delta != nil:
		msgs = ev.Delta.Messages
	case ev.Message != nil:
		msgs = []session.Message{*ev.Message}
	}
	for _, m := range msgs {
		switch m.Role {
		case session.RoleAssistant:
			if text := m.Text(); text != "" {
				t.printf("Agent: %s\n", text)
			}
			for _, call := range m.ToolCalls {
				t.printCall(call)
			}
		case session.RoleTool:
			if t.verbosity == VerbosityAll {
				t.printf("Tool `%s` output: %s\n", m.ToolName, m.Text())
			}
		}
	}

	for _, nested := range ev.Nested {
		if nested.Stage != agent.TodoMiddlewareStage || nested.Delta.Todos == nil {
			continue
		}
		t.printf("Plan:\n")
		for _, todo := range nested.Delta.Todos {
			t.printf("  [%s] %s\n", todo.Status, todo.Content)
		}
	}
}

func (t *Terminal) printCall(call session.ToolCall) {
	switch t.verbosity {
	case VerbosityAll:
		t.printf("Agent wants to call tool `%s` with args: %v\n", call.Name, call.Args)
	case VerbosityInfo:
		t.printf("Agent wants to call tool `%s`\n", call.Name)
	}
}

// approve asks on the terminal before a sensitive tool runs. It is called
// from the engine goroutine while processTurn waits on events, so it is the
// only reader of t.in at that point.
func (t *Terminal) approve(ctx context.Context, call session.ToolCall) (bool, error) {
	if t.auto {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.printf("Allow tool `%s` with args %v? (y/n): ", call.Name, call.Args)
	answer, err := t.readLine()
	if err != nil && err != io.EOF {
		return false, errors.Wrapf(err, "reading approval")
	}
	allowed := strings.EqualFold(strings.TrimSpace(answer), "y")
	t.logger.Debug("terminal approval", zap.String("tool", call.Name), zap.Bool("allowed", allowed))
	return allowed, nil
}

// printf serializes output from the read loop and the engine goroutine.
func (t *Terminal) printf(format string, a ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintf(t.out, format, a...)
}
