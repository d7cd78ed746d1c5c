package acp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"github.com/m4xw311/deepacp/errors"
)

// Transport moves whole JSON-RPC messages. WriteMessage must be safe for
// concurrent use.
type Transport interface {
	ReadMessage() (json.RawMessage, error)
	WriteMessage(v any) error
	Close() error
}

// StreamTransport carries newline-delimited JSON over a byte stream such
// as stdio.
type StreamTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	closers []io.Closer
	writeMu sync.Mutex
}

// NewStreamTransport reads from r and writes to w. Close closes whichever
// of them is an io.Closer, which unblocks a pending read on stdin.
func NewStreamTransport(r io.Reader, w io.Writer) *StreamTransport {
	t := &StreamTransport{reader: bufio.NewReader(r), writer: w}
	if c, ok := r.(io.Closer); ok {
		t.closers = append(t.closers, c)
	}
	if c, ok := w.(io.Closer); ok {
		t.closers = append(t.closers, c)
	}
	return t
}

// ReadMessage returns the next non-empty line.
func (t *StreamTransport) ReadMessage() (json.RawMessage, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			// A final line without a newline still counts.
			return json.RawMessage(line), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (t *StreamTransport) WriteMessage(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		return errors.Wrapf(err, "write message")
	}
	if f, ok := t.writer.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return errors.Wrapf(err, "flush message")
		}
	}
	return nil
}

func (t *StreamTransport) Close() error {
	var result *multierror.Error
	for _, c := range t.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// WebSocketTransport carries one JSON-RPC message per websocket frame.
type WebSocketTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

// ReadMessage returns the next non-empty frame. A normal close reads as
// io.EOF.
func (t *WebSocketTransport) ReadMessage() (json.RawMessage, error) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil, io.EOF
			}
			return nil, err
		}
		data = bytes.TrimSpace(data)
		if len(data) > 0 {
			return json.RawMessage(data), nil
		}
	}
}

func (t *WebSocketTransport) WriteMessage(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketTransport) Close() error {
	return t.conn.Close()
}
