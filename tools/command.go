package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m4xw311/deepacp/errors"
)

const (
	// DefaultCommandTimeout bounds a single execute_command call.
	DefaultCommandTimeout = 2 * time.Minute

	maxCommandOutput = 30000
)

// ExecuteCommandTool runs allow-listed commands in the session's working
// directory. Commands are split on whitespace and run without a shell.
type ExecuteCommandTool struct {
	allowedCommands []string
	timeout         time.Duration
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }

func (t *ExecuteCommandTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a command. No commands are currently allowed. Args: command (string)."
	}
	var b strings.Builder
	b.WriteString("Executes a command in the working directory. Args: command (string).\nAllowed command patterns:\n")
	for _, pattern := range t.allowedCommands {
		fmt.Fprintf(&b, "- %s\n", pattern)
	}
	return b.String()
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	command, ok := args["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return "", errors.New("missing or invalid 'command' argument")
	}
	if !isCommandAllowed(command, t.allowedCommands) {
		return "", errors.New("command '%s' is not in the list of allowed commands", command)
	}

	timeout := t.timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = workDirFrom(ctx)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := truncateOutput(out.String())
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return "", errors.New("command timed out after %s. Output:\n%s", timeout, output)
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", errors.New("command exited with status %d. Output:\n%s", exitErr.ExitCode(), output)
		}
		return "", errors.Wrapf(err, "running command")
	}
	return "Command executed successfully. Output:\n" + output, nil
}

// truncateOutput keeps the tail of long output, where errors usually are.
func truncateOutput(s string) string {
	if len(s) <= maxCommandOutput {
		return s
	}
	start := len(s) - maxCommandOutput
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "[... output truncated ...]\n" + s[start:]
}
