package tools

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/m4xw311/deepacp/config"
	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/tools/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// toolServer is a running external tool provider.
type toolServer struct {
	tools []Tool
	stop  func() error
}

// ToolRegistry holds the built-in tools and the tools of every configured
// MCP server.
type ToolRegistry struct {
	tools      map[string]Tool
	mcpServers map[string]*toolServer
	logger     *zap.Logger
}

// NewToolRegistry registers the built-in tools and starts the configured
// MCP servers concurrently. If any server fails to start, the ones already
// running are stopped.
func NewToolRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ToolRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpServers: make(map[string]*toolServer),
		logger:     logger,
	}

	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ReadDirTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands})
	r.Register(&WriteTodosTool{})

	for _, pattern := range cfg.AllowedCommands {
		if _, err := regexp.Compile(pattern); err != nil {
			logger.Warn("invalid regex in allowed_commands, matching literally",
				zap.String("pattern", pattern), zap.Error(err))
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range cfg.AdditionalMCPServers {
		srv := srv
		g.Go(func() error {
			client, err := mcp.NewMCPClient(gctx, srv.Name, srv.Command, srv.Args, logger)
			if err != nil {
				return err
			}
			server := &toolServer{stop: client.Stop}
			for _, t := range client.Tools() {
				server.tools = append(server.tools, t)
			}
			mu.Lock()
			r.mcpServers[srv.Name] = server
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.Close()
		return nil, errors.Wrapf(err, "failed to start MCP servers")
	}

	return r, nil
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// GetActiveTools returns the tool instances for a given toolset. MCP tools
// are referenced as "<server>.<tool>" (or "<server>:<tool>"); "<server>.*"
// selects every tool of the server.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var activeTools []Tool
	seen := make(map[string]bool)
	add := func(t Tool) {
		if !seen[t.Name()] {
			seen[t.Name()] = true
			activeTools = append(activeTools, t)
		}
	}

	for _, toolName := range ts.Tools {
		if server, tool, ok := splitMCPName(toolName); ok {
			srv, found := r.mcpServers[server]
			if !found {
				return nil, errors.New("MCP server '%s' referenced by toolset '%s' is not configured", server, ts.Name)
			}
			matched := false
			for _, t := range srv.tools {
				if tool == "*" || t.Name() == tool {
					add(t)
					matched = true
				}
			}
			if !matched {
				return nil, errors.New("tool '%s' from toolset '%s' is not provided by MCP server '%s'", tool, ts.Name, server)
			}
			continue
		}

		t, ok := r.GetTool(toolName)
		if !ok {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
		add(t)
	}

	// The planning tool is always offered so plan updates can flow.
	if t, ok := r.GetTool(WriteTodosToolName); ok {
		add(t)
	}
	return activeTools, nil
}

// Close stops every MCP server and reports all failures together.
func (r *ToolRegistry) Close() error {
	var result *multierror.Error
	for name, srv := range r.mcpServers {
		if srv.stop == nil {
			continue
		}
		if err := srv.stop(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "stopping MCP server '%s'", name))
		}
	}
	return result.ErrorOrNil()
}

func splitMCPName(name string) (server, tool string, ok bool) {
	if i := strings.IndexAny(name, ".:"); i > 0 && i < len(name)-1 {
		return name[:i], name[i+1:], true
	}
	return "", "", false
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.Wrapf(err, "invalid glob pattern '%s'", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command matches the allowlist. Patterns are
// regular expressions; an invalid one only matches the command literally.
func isCommandAllowed(command string, allowed []string) bool {
	if len(strings.Fields(command)) == 0 {
		return false
	}
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			if command == pattern {
				return true
			}
			continue
		}
		if re.MatchString(command) {
			return true
		}
	}
	return false
}
