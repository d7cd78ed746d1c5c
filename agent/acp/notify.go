package acp

import (
	"context"
	"encoding/json"

	wire "github.com/m4xw311/deepacp/acp"
	"go.uber.org/zap"
)

// peer is the client side of the connection as the server uses it.
type peer interface {
	Call(ctx context.Context, method string, params, result any) error
	Notify(method string, params any) error
	Reply(id json.RawMessage, result any) error
	ReplyError(id json.RawMessage, err error) error
}

// updater sends session/update notifications for one session. Send
// failures are logged and returned; callers usually carry on.
type updater struct {
	peer      peer
	sessionID string
	logger    *zap.Logger
}

func (u updater) send(update any) error {
	err := u.peer.Notify(wire.MethodSessionUpdate, wire.SessionNotification{
		SessionID: u.sessionID,
		Update:    update,
	})
	if err != nil {
		u.logger.Warn("failed to send session update", zap.String("session_id", u.sessionID), zap.Error(err))
	}
	return err
}

func (u updater) chunk(kind, text string) error {
	return u.send(wire.ContentChunk{SessionUpdate: kind, Content: wire.TextContent(text)})
}

// goBestEffort runs fn on its own goroutine. Failures are logged only.
func (s *Server) goBestEffort(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.logger.Warn("best-effort "+name+" failed", zap.Error(err))
		}
	}()
}
