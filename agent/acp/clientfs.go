package acp

import (
	"context"
	"sync"

	wire "github.com/m4xw311/deepacp/acp"
	"github.com/m4xw311/deepacp/tools"
)

// clientCapabilities remembers what the client offered in initialize.
type clientCapabilities struct {
	mu   sync.RWMutex
	caps wire.ClientCapabilities
}

func (c *clientCapabilities) set(caps wire.ClientCapabilities) {
	c.mu.Lock()
	c.caps = caps
	c.mu.Unlock()
}

func (c *clientCapabilities) fs() wire.FileSystemCapability {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps.FS
}

// clientFileSystem serves file tools through the editor, so they see
// unsaved buffers. Operations the client did not offer use the local disk.
type clientFileSystem struct {
	peer      peer
	sessionID string
	caps      wire.FileSystemCapability
	local     tools.LocalFileSystem
}

func (c *clientFileSystem) ReadTextFile(ctx context.Context, path string) (string, error) {
	if !c.caps.ReadTextFile {
		return c.local.ReadTextFile(ctx, path)
	}
	var res wire.ReadTextFileResult
	err := c.peer.Call(ctx, wire.MethodReadTextFile, wire.ReadTextFileParams{SessionID: c.sessionID, Path: path}, &res)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func (c *clientFileSystem) WriteTextFile(ctx context.Context, path, content string) error {
	if !c.caps.WriteTextFile {
		return c.local.WriteTextFile(ctx, path, content)
	}
	return c.peer.Call(ctx, wire.MethodWriteTextFile, wire.WriteTextFileParams{SessionID: c.sessionID, Path: path, Content: content}, nil)
}
