// Package checkpoint persists the message history of execution threads.
//
// A checkpoint is keyed by the thread id a session is bound to. The agent
// engine writes one after every step; the ACP server reads it back when a
// client reloads a session.
package checkpoint

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/session"
)

// ErrNotFound is returned by Get when no checkpoint exists for a thread.
var ErrNotFound = errors.Sentinel("checkpoint not found")

// Supported backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Checkpoint is the persisted state of one execution thread.
type Checkpoint struct {
	ThreadID  string            `json:"thread_id"`
	Messages  []session.Message `json:"messages"`
	Todos     []session.Todo    `json:"todos,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store reads and writes checkpoints.
type Store interface {
	Get(ctx context.Context, threadID string) (*Checkpoint, error)
	Put(ctx context.Context, cp *Checkpoint) error
	Close() error
}

// Open creates a store for the named backend. An empty backend selects
// the file store.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case "", BackendFile:
		if path == "" {
			path = filepath.Join(".deepacp", "checkpoints")
		}
		return NewFileStore(path)
	case BackendSQLite:
		if path == "" {
			path = filepath.Join(".deepacp", "checkpoints.db")
		}
		return NewSQLiteStore(path)
	default:
		return nil, errors.New("unknown checkpoint backend '%s'", backend)
	}
}

func validThreadID(threadID string) error {
	if threadID == "" {
		return errors.New("thread id is required")
	}
	if strings.ContainsAny(threadID, `/\`) || threadID == "." || threadID == ".." {
		return errors.New("invalid thread id '%s'", threadID)
	}
	return nil
}
