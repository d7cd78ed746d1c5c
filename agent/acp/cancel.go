package acp

import (
	"context"
	"sync"
)

// cancelToken scopes one running prompt.
type cancelToken struct {
	sessionID string
	threadID  string
	ctx       context.Context
	cancel    context.CancelFunc
}

// cancelController holds at most one active token per Server. Tokens are
// level-triggered: once cancelled, the prompt context stays done.
type cancelController struct {
	mu     sync.Mutex
	active *cancelToken
}

// begin arms a fresh token for a prompt, or fails if one is running.
func (c *cancelController) begin(parent context.Context, sessionID, threadID string) (*cancelToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, ErrPromptInProgress
	}
	ctx, cancel := context.WithCancel(parent)
	c.active = &cancelToken{sessionID: sessionID, threadID: threadID, ctx: ctx, cancel: cancel}
	return c.active, nil
}

// end releases the token. Ending a token that is no longer active only
// cancels its context.
func (c *cancelController) end(tok *cancelToken) {
	c.mu.Lock()
	if c.active == tok {
		c.active = nil
	}
	c.mu.Unlock()
	tok.cancel()
}

// signal cancels the active prompt when it belongs to sessionID.
func (c *cancelController) signal(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.sessionID != sessionID {
		return false
	}
	c.active.cancel()
	return true
}

// stop cancels whatever is running, regardless of session.
func (c *cancelController) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		c.active.cancel()
	}
}

// busy reports whether a prompt holds the token.
func (c *cancelController) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}
