// Package acp implements the wire side of the Agent Client Protocol: the
// JSON-RPC 2.0 connection, its transports and the protocol's message types.
//
// A Conn is symmetric. It dispatches the peer's requests and notifications
// to a Handler and correlates responses to its own outgoing Calls, which is
// how an agent asks the editor for permission or for file contents while a
// prompt is still running.
//
// Two transports are provided:
//   - StreamTransport: newline-delimited JSON over a byte stream (stdio)
//   - WebSocketTransport: one JSON message per websocket text frame
//
// Session semantics live in agent/acp.
package acp
