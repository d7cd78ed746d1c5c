package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/m4xw311/deepacp/config"
	"github.com/m4xw311/deepacp/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct{ name string }

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return s.name, nil
}

func newTestRegistry(t *testing.T, cfg *config.Config) *ToolRegistry {
	t.Helper()
	r, err := NewToolRegistry(context.Background(), cfg, nil)
	require.NoError(t, err)
	return r
}

func toolNames(ts []Tool) []string {
	var names []string
	for _, t := range ts {
		names = append(names, t.Name())
	}
	return names
}

func TestGetActiveToolsBuiltins(t *testing.T) {
	r := newTestRegistry(t, &config.Config{})
	active, err := r.GetActiveTools(&config.Toolset{Name: "default", Tools: []string{"read_file", "write_file"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"read_file", "write_file", WriteTodosToolName}, toolNames(active))

	_, err = r.GetActiveTools(&config.Toolset{Name: "default", Tools: []string{"teleport"}})
	assert.Error(t, err)
}

func TestWildcardMCPToolSupport(t *testing.T) {
	r := newTestRegistry(t, &config.Config{})
	stopped := 0
	r.mcpServers["gopls"] = &toolServer{
		tools: []Tool{&stubTool{"definition"}, &stubTool{"references"}},
		stop:  func() error { stopped++; return nil },
	}

	active, err := r.GetActiveTools(&config.Toolset{Name: "test", Tools: []string{"gopls.*"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"definition", "references", WriteTodosToolName}, toolNames(active))

	active, err = r.GetActiveTools(&config.Toolset{Name: "test", Tools: []string{"gopls:references"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"references", WriteTodosToolName}, toolNames(active))

	_, err = r.GetActiveTools(&config.Toolset{Name: "test", Tools: []string{"gopls.rename"}})
	assert.Error(t, err)
	_, err = r.GetActiveTools(&config.Toolset{Name: "test", Tools: []string{"pyright.*"}})
	assert.Error(t, err)

	require.NoError(t, r.Close())
	assert.Equal(t, 1, stopped)
}

func TestCloseAggregatesErrors(t *testing.T) {
	r := newTestRegistry(t, &config.Config{})
	r.mcpServers["a"] = &toolServer{stop: func() error { return errors.New("a broke") }}
	r.mcpServers["b"] = &toolServer{stop: func() error { return errors.New("b broke") }}

	err := r.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a broke")
	assert.Contains(t, err.Error(), "b broke")
}

func TestFileToolsRespectAccessRules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "secrets"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets", "key"), []byte("k"), 0644))

	access := &config.FilesystemAccess{
		Hidden:   []string{"secrets", "secrets/**"},
		ReadOnly: []string{"vendor/**"},
	}
	ctx := WithWorkDir(context.Background(), dir)
	read := &ReadFileTool{fsAccess: access}
	write := &WriteFileTool{fsAccess: access}
	list := &ReadDirTool{fsAccess: access}

	out, err := read.Execute(ctx, map[string]interface{}{"path": "main.go"})
	require.NoError(t, err)
	assert.Equal(t, "package main", out)

	_, err = read.Execute(ctx, map[string]interface{}{"path": filepath.Join(dir, "secrets", "key")})
	assert.ErrorContains(t, err, "hidden")

	_, err = write.Execute(ctx, map[string]interface{}{"path": "vendor/x.go", "content": "x"})
	assert.ErrorContains(t, err, "read-only")

	_, err = write.Execute(ctx, map[string]interface{}{"path": "pkg/new.go", "content": "package pkg"})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "pkg", "new.go"))
	require.NoError(t, err)
	assert.Equal(t, "package pkg", string(data))

	out, err = list.Execute(ctx, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "main.go\npkg/", out)
}

type recordingFS struct {
	reads  []string
	writes map[string]string
}

func (r *recordingFS) ReadTextFile(ctx context.Context, path string) (string, error) {
	r.reads = append(r.reads, path)
	return "from client", nil
}

func (r *recordingFS) WriteTextFile(ctx context.Context, path, content string) error {
	if r.writes == nil {
		r.writes = map[string]string{}
	}
	r.writes[path] = content
	return nil
}

func TestFileToolsUseContextFileSystem(t *testing.T) {
	fs := &recordingFS{}
	ctx := WithFileSystem(WithWorkDir(context.Background(), "/work"), fs)

	out, err := (&ReadFileTool{}).Execute(ctx, map[string]interface{}{"path": "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "from client", out)
	assert.Equal(t, []string{filepath.Join("/work", "a.txt")}, fs.reads)

	_, err = (&WriteFileTool{}).Execute(ctx, map[string]interface{}{"path": "/work/b.txt", "content": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", fs.writes["/work/b.txt"])
}

func TestIsCommandAllowed(t *testing.T) {
	tests := []struct {
		command string
		allowed []string
		want    bool
	}{
		{"go test ./...", []string{`^go (test|vet) `}, true},
		{"rm -rf /", []string{`^go (test|vet) `}, false},
		{"make [all", []string{"make [all"}, true},
		{"   ", []string{".*"}, false},
		{"ls", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.want, isCommandAllowed(tt.command, tt.allowed))
		})
	}
}

func TestExecuteCommandRejectsUnlisted(t *testing.T) {
	tool := &ExecuteCommandTool{allowedCommands: []string{`^echo `}}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"command": "curl example.com"})
	assert.ErrorContains(t, err, "not in the list of allowed commands")
}

func TestExecuteCommandRunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), nil, 0o644))
	tool := &ExecuteCommandTool{allowedCommands: []string{`^ls$`}}

	out, err := tool.Execute(WithWorkDir(context.Background(), dir), map[string]interface{}{"command": "ls"})
	require.NoError(t, err)
	assert.Contains(t, out, "marker.txt")
}

func TestExecuteCommandFailures(t *testing.T) {
	t.Run("ExitStatus", func(t *testing.T) {
		tool := &ExecuteCommandTool{allowedCommands: []string{`^false$`}}
		_, err := tool.Execute(context.Background(), map[string]interface{}{"command": "false"})
		assert.ErrorContains(t, err, "command exited with status 1")
	})

	t.Run("Timeout", func(t *testing.T) {
		tool := &ExecuteCommandTool{allowedCommands: []string{`^sleep `}, timeout: 50 * time.Millisecond}
		_, err := tool.Execute(context.Background(), map[string]interface{}{"command": "sleep 5"})
		assert.ErrorContains(t, err, "command timed out after 50ms")
	})

	t.Run("MissingCommand", func(t *testing.T) {
		_, err := (&ExecuteCommandTool{}).Execute(context.Background(), map[string]interface{}{})
		assert.ErrorContains(t, err, "missing or invalid 'command' argument")
	})
}

func TestTruncateOutputKeepsTail(t *testing.T) {
	assert.Equal(t, "short", truncateOutput("short"))

	long := strings.Repeat("a", maxCommandOutput) + "tail"
	got := truncateOutput(long)
	assert.True(t, strings.HasPrefix(got, "[... output truncated ...]\n"))
	assert.True(t, strings.HasSuffix(got, "tail"))
	assert.Len(t, got, len("[... output truncated ...]\n")+maxCommandOutput)

	// The cut would land inside the two-byte "é".
	multi := "é" + strings.Repeat("b", maxCommandOutput-1)
	got = truncateOutput(multi)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "[... output truncated ...]\n"+strings.Repeat("b", maxCommandOutput-1), got)
}

func TestParseTodos(t *testing.T) {
	todos, err := ParseTodos(map[string]interface{}{
		"todos": []interface{}{
			map[string]interface{}{"content": "read code", "status": "completed", "priority": "high"},
			map[string]interface{}{"content": "write tests"},
		},
	})
	require.NoError(t, err)
	require.Len(t, todos, 2)
	assert.Equal(t, "completed", todos[0].Status)
	assert.Equal(t, "pending", todos[1].Status)

	_, err = ParseTodos(map[string]interface{}{"todos": "nope"})
	assert.Error(t, err)
	_, err = ParseTodos(map[string]interface{}{"todos": []interface{}{map[string]interface{}{}}})
	assert.Error(t, err)
}
