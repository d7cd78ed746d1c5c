package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/m4xw311/deepacp/errors"
	"go.uber.org/zap"
)

// ErrConnClosed is returned by Call when the connection ends before the
// peer answers.
var ErrConnClosed = errors.Sentinel("acp: connection closed")

// Handler receives requests and notifications from the peer. Handle is
// called from the read loop, so a handler that blocks stalls every other
// message; long work belongs on a goroutine that replies later through the
// Conn.
type Handler interface {
	Handle(ctx context.Context, msg *Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message)

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) { f(ctx, msg) }

// Conn is one end of a JSON-RPC 2.0 connection. It serves the peer's
// requests and issues its own calls over the same transport.
type Conn struct {
	transport Transport
	logger    *zap.Logger

	seq       atomic.Uint64
	pendingMu sync.Mutex
	pending   map[string]chan *Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn wraps a transport. Nothing is read until Serve is called.
func NewConn(t Transport, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		transport: t,
		logger:    logger,
		pending:   make(map[string]chan *Message),
		done:      make(chan struct{}),
	}
}

// Serve runs the read loop until the transport reaches EOF, fails, or ctx
// is cancelled. EOF is a clean shutdown and returns nil.
func (c *Conn) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { c.transport.Close() })
	defer stop()
	defer c.shutdown()

	c.logger.Debug("read loop started")
	for {
		payload, err := c.transport.ReadMessage()
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				c.logger.Debug("read loop finished", zap.Error(err))
				return nil
			}
			return errors.Wrapf(err, "ACP: read error")
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn("JSON parse error", zap.Error(err), zap.ByteString("payload", payload))
			c.write(&Message{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: &Error{Code: CodeParseError, Message: "Parse error"}})
			continue
		}

		switch {
		case msg.Method != "":
			c.logger.Debug("dispatching", zap.String("method", msg.Method), zap.ByteString("id", msg.ID))
			h.Handle(ctx, &msg)
		case msg.IsResponse():
			c.deliver(&msg)
		default:
			c.logger.Warn("dropping message without method or id")
			c.write(&Message{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: &Error{Code: CodeInvalidRequest, Message: "Invalid request"}})
		}
	}
}

// Call sends a request to the peer and waits for its response. A JSON-RPC
// error from the peer is returned as *Error.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	id := fmt.Sprintf("deepacp-%d", c.seq.Add(1))
	ch := make(chan *Message, 1)

	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return ErrConnClosed
	default:
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	raw, err := json.Marshal(params)
	if err != nil {
		return errors.Wrapf(err, "marshal %s params", method)
	}
	rawID, _ := json.Marshal(id)
	if err := c.write(&Message{JSONRPC: "2.0", ID: rawID, Method: method, Params: raw}); err != nil {
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrConnClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		return errors.Wrapf(json.Unmarshal(resp.Result, result), "decode %s result", method)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify sends a notification to the peer.
func (c *Conn) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return errors.Wrapf(err, "marshal %s params", method)
	}
	return c.write(&Message{JSONRPC: "2.0", Method: method, Params: raw})
}

// Reply answers the request with the given id.
func (c *Conn) Reply(id json.RawMessage, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return c.ReplyError(id, errors.Wrapf(err, "marshal result"))
	}
	return c.write(&response{JSONRPC: "2.0", ID: id, Result: raw})
}

// ReplyError answers the request with an error. An *Error anywhere in the
// chain supplies the code; anything else is an internal error. When err
// wraps an *Error the full text is sent as data.
func (c *Conn) ReplyError(id json.RawMessage, err error) error {
	rpcErr := &Error{Code: CodeInternalError, Message: "Internal error", Data: err.Error()}
	var target *Error
	if errors.As(err, &target) {
		rpcErr = &Error{Code: target.Code, Message: target.Message, Data: target.Data}
		if error(target) != err {
			rpcErr.Data = err.Error()
		}
	}
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return c.write(&Message{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

// response always carries "result", even when it is null.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

func (c *Conn) write(v any) error {
	if err := c.transport.WriteMessage(v); err != nil {
		c.logger.Warn("write failed", zap.Error(err))
		return err
	}
	return nil
}

func (c *Conn) deliver(msg *Message) {
	var id string
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		id = string(msg.ID)
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Warn("response for unknown request", zap.String("id", id))
		return
	}
	ch <- msg
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		c.pendingMu.Lock()
		close(c.done)
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
}
