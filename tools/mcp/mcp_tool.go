package mcp

import (
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/m4xw311/deepacp/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// MCPClient manages the connection to a single MCP server subprocess.
type MCPClient struct {
	Name   string
	cmd    *exec.Cmd
	conn   *mcpsdk.ClientSession
	tools  map[string]*MCPTool // keyed by the server's own tool name
	logger *zap.Logger
}

// NewMCPClient starts the MCP server subprocess and discovers the tools it
// provides.
func NewMCPClient(ctx context.Context, name, command string, args []string, logger *zap.Logger) (*MCPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("mcp_server", name))

	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "deepacp", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	client := &MCPClient{
		Name:   name,
		cmd:    cmd,
		conn:   conn,
		tools:  make(map[string]*MCPTool),
		logger: logger,
	}

	params := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(ctx, params)
		if err != nil {
			client.Stop()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", name)
		}
		for _, t := range toolList.Tools {
			client.tools[t.Name] = &MCPTool{
				serverName:  name,
				toolName:    t.Name,
				description: t.Description,
				client:      client,
			}
		}
		if toolList.NextCursor == "" {
			break
		}
		params.Cursor = toolList.NextCursor
	}

	logger.Info("initialized MCP client", zap.Int("tools", len(client.tools)))
	return client, nil
}

// GetTool returns a specific tool provided by this MCP server by its short name.
func (c *MCPClient) GetTool(toolName string) (*MCPTool, bool) {
	tool, ok := c.tools[toolName]
	return tool, ok
}

// Tools returns every tool of the server sorted by name.
func (c *MCPClient) Tools() []*MCPTool {
	out := make([]*MCPTool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].toolName < out[j].toolName })
	return out
}

// Stop terminates the MCP server subprocess.
func (c *MCPClient) Stop() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.logger.Info("terminating MCP server")
		if err := c.cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "process already finished") {
			return errors.Wrapf(err, "failed to stop MCP server '%s'", c.Name)
		}
	}
	return nil
}

// MCPTool represents a tool available from an external MCP server.
// It satisfies tools.Tool.
type MCPTool struct {
	serverName  string
	toolName    string
	description string
	client      *MCPClient
}

// Name returns the server's tool name unqualified; some providers reject
// dots and colons in function names.
func (t *MCPTool) Name() string {
	return t.toolName
}

// Server returns the name of the MCP server providing the tool.
func (t *MCPTool) Server() string {
	return t.serverName
}

func (t *MCPTool) Description() string {
	return t.description
}

// Execute forwards the call to the MCP server and joins its text content.
func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.Name())
	}

	var b strings.Builder
	for _, c := range result.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' failed: %s", t.Name(), b.String())
	}
	return b.String(), nil
}
