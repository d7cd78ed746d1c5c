package acp

import (
	wire "github.com/m4xw311/deepacp/acp"
)

// Request-level failures. They are *wire.Error values, so wrapping them
// with errors.Wrapf keeps the JSON-RPC code while adding context.
var (
	ErrSessionNotFound      = &wire.Error{Code: wire.CodeServerError, Message: "session not found"}
	ErrUnknownAgent         = &wire.Error{Code: wire.CodeInvalidParams, Message: "unknown agent"}
	ErrAgentNotMaterialized = &wire.Error{Code: wire.CodeInternalError, Message: "agent not materialized"}
	ErrPromptInProgress     = &wire.Error{Code: wire.CodeInvalidRequest, Message: "a prompt is already in progress"}
)

func invalidParams(err error) error {
	return &wire.Error{Code: wire.CodeInvalidParams, Message: "Invalid params", Data: err.Error()}
}
