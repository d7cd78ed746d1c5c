package checkpoint

import (
	"context"
	"sync"

	"github.com/m4xw311/deepacp/session"
)

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Checkpoint)}
}

func (m *MemoryStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.data[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(&cp), nil
}

func (m *MemoryStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := validThreadID(cp.ThreadID); err != nil {
		return err
	}
	m.mu.Lock()
	m.data[cp.ThreadID] = *clone(cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func clone(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.Messages = append([]session.Message(nil), cp.Messages...)
	out.Todos = append([]session.Todo(nil), cp.Todos...)
	return &out
}
