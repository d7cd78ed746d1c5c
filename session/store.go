package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Store is the in-memory registry of sessions. Sessions live until the
// process exits; there is no eviction.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	now          func() time.Time
	newSessionID func() string
	newThreadID  func() string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions:     make(map[string]*Session),
		now:          time.Now,
		newSessionID: func() string { return ulid.Make().String() },
		newThreadID:  uuid.NewString,
	}
}

// Create allocates a session with a fresh id and execution thread id and
// registers it.
func (s *Store) Create(agentName, mode, cwd string) *Session {
	now := s.now()
	sess := &Session{
		ID:           s.newSessionID(),
		AgentName:    agentName,
		Cwd:          cwd,
		CreatedAt:    now,
		threadID:     s.newThreadID(),
		mode:         mode,
		lastActivity: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get looks a session up by id.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Len reports the number of registered sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// NewThreadID returns a fresh execution thread id.
func (s *Store) NewThreadID() string {
	return s.newThreadID()
}
