package session

import (
	"sync"
	"time"
)

// Built-in session modes. Any other string is accepted and round-tripped.
const (
	ModeAgent = "agent"
	ModePlan  = "plan"
	ModeAsk   = "ask"
)

// Decision is a cached permission answer for a tool name.
type Decision string

const (
	DecisionAllowAlways  Decision = "allow_always"
	DecisionRejectAlways Decision = "reject_always"
)

// Session is a client-visible conversation bound to one agent configuration
// and one execution thread. Identity fields are immutable after creation;
// everything else goes through the accessors.
type Session struct {
	ID        string
	AgentName string
	Cwd       string
	CreatedAt time.Time

	mu           sync.Mutex
	threadID     string
	mode         string
	lastActivity time.Time
	buffer       []Message
	permissions  map[string]Decision
}

// ThreadID is the checkpoint correlation key of the session.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Mode returns the current mode id.
func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode overwrites the current mode id.
func (s *Session) SetMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// Touch records activity at t.
func (s *Session) Touch(t time.Time) {
	s.mu.Lock()
	s.lastActivity = t
	s.mu.Unlock()
}

// LastActivity returns the time of the last recorded activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Append adds messages to the in-memory conversation buffer.
func (s *Session) Append(msgs ...Message) {
	s.mu.Lock()
	s.buffer = append(s.buffer, msgs...)
	s.mu.Unlock()
}

// Buffer returns a copy of the in-memory conversation buffer.
func (s *Session) Buffer() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.buffer))
	copy(out, s.buffer)
	return out
}

// Reset binds the session to a fresh execution thread and drops the buffer.
// Cached permission decisions survive.
func (s *Session) Reset(threadID string) {
	s.mu.Lock()
	s.threadID = threadID
	s.buffer = nil
	s.mu.Unlock()
}

// Decision returns the cached permission decision for a tool, if any.
func (s *Session) Decision(tool string) (Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.permissions[tool]
	return d, ok
}

// Remember caches a permission decision for the rest of the session.
func (s *Session) Remember(tool string, d Decision) {
	s.mu.Lock()
	if s.permissions == nil {
		s.permissions = make(map[string]Decision)
	}
	s.permissions[tool] = d
	s.mu.Unlock()
}
