package acp

import (
	"context"

	wire "github.com/m4xw311/deepacp/acp"
	"github.com/m4xw311/deepacp/checkpoint"
	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/session"
	"go.uber.org/zap"
)

// replayer rebuilds a session's notification history for session/load.
type replayer struct {
	checkpoints checkpoint.Store
	logger      *zap.Logger
}

// history returns the messages to replay: the thread's checkpoint when it
// has any, the in-memory buffer otherwise. An unreadable checkpoint counts
// as none.
func (r *replayer) history(ctx context.Context, sess *session.Session) []session.Message {
	if r.checkpoints != nil {
		cp, err := r.checkpoints.Get(ctx, sess.ThreadID())
		switch {
		case err == nil && len(cp.Messages) > 0:
			return cp.Messages
		case err != nil && !errors.Is(err, checkpoint.ErrNotFound):
			r.logger.Warn("replay unavailable, using session buffer",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	return sess.Buffer()
}

// replay sends the history and returns the number of notifications sent.
func (r *replayer) replay(ctx context.Context, sess *session.Session, out updater) int {
	msgs := r.history(ctx, sess)

	results := make(map[string]session.Message)
	for _, m := range msgs {
		if m.Role == session.RoleTool && m.ToolCallID != "" {
			results[m.ToolCallID] = m
		}
	}

	sent := 0
	send := func(update any) {
		out.send(update)
		sent++
	}
	for _, m := range msgs {
		switch m.Role {
		case session.RoleUser:
			if text := m.Text(); text != "" {
				send(wire.ContentChunk{SessionUpdate: wire.UpdateUserMessageChunk, Content: wire.TextContent(text)})
			}
		case session.RoleAssistant:
			for _, b := range m.ContentBlocks() {
				if b.Text == "" {
					continue
				}
				kind := wire.UpdateAgentMessageChunk
				if b.Type == session.BlockThinking {
					kind = wire.UpdateAgentThoughtChunk
				}
				send(wire.ContentChunk{SessionUpdate: kind, Content: wire.TextContent(b.Text)})
			}
			for _, call := range m.ToolCalls {
				send(toolCallStarted(call))
				result, ok := results[call.ToolCallID]
				if !ok {
					// The turn ended before the tool ran.
					send(toolCallFinished(call.ToolCallID, statusCancelled, ""))
					continue
				}
				send(toolCallFinished(call.ToolCallID, resultStatus(result), result.Text()))
			}
		}
	}
	return sent
}
