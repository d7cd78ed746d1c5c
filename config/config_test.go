package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m4xw311/deepacp/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigFileAgents(t *testing.T) {
	path := writeConfig(t, `
agents:
  - name: coder
    llm: anthropic
    model: claude-sonnet-4-5
    toolset: default
    skills: [skills/go.md, skills/sql.md]
    commands:
      - name: review
        description: Review the current diff
        mode: plan
        reply: Switched to review mode.
  - name: writer
    llm: openai
    model: gpt-4o
toolsets:
  - name: default
    tools: [read_file, write_file, "gopls.*"]
permissions:
  require: [write_file]
checkpoint:
  backend: sqlite
  path: .deepacp/cp.db
`)

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	agent, err := cfg.GetAgent("")
	require.NoError(t, err)
	assert.Equal(t, "coder", agent.Name)
	assert.Len(t, agent.Skills, 2)
	require.Len(t, agent.Commands, 1)
	assert.Equal(t, "plan", agent.Commands[0].Mode)

	agent, err = cfg.GetAgent("writer")
	require.NoError(t, err)
	assert.Equal(t, "openai", agent.LLMClient)

	_, err = cfg.GetAgent("nobody")
	assert.True(t, errors.Is(err, ErrAgentNotFound))

	assert.True(t, cfg.RequiresPermission("write_file"))
	assert.False(t, cfg.RequiresPermission("execute_command"))
	assert.Equal(t, "sqlite", cfg.Checkpoint.Backend)
	assert.Contains(t, cfg.FilesystemAccess.Hidden, ".deepacp/**")
}

func TestLegacyFieldsSynthesizeDefaultAgent(t *testing.T) {
	path := writeConfig(t, `
llm: gemini
model: gemini-1.5-pro
`)
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	agent, err := cfg.GetAgent("")
	require.NoError(t, err)
	assert.Equal(t, "default", agent.Name)
	assert.Equal(t, "gemini", agent.LLMClient)
	assert.Equal(t, "gemini-1.5-pro", agent.Model)
	assert.ElementsMatch(t, DefaultPermissionTools, cfg.Permissions.Require)
}

func TestGetToolsetFallsBackToDefault(t *testing.T) {
	cfg := &Config{Toolsets: []Toolset{{Name: "default", Tools: []string{"read_file"}}}}

	ts, err := cfg.GetToolset("missing")
	require.NoError(t, err)
	assert.Equal(t, "default", ts.Name)

	_, err = (&Config{}).GetToolset("")
	assert.Error(t, err)
}

func TestRequiresPermissionDefaults(t *testing.T) {
	cfg := &Config{}
	assert.True(t, cfg.RequiresPermission("execute_command"))
	assert.False(t, cfg.RequiresPermission("read_file"))
}
