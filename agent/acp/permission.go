package acp

import (
	"context"

	wire "github.com/m4xw311/deepacp/acp"
	"github.com/m4xw311/deepacp/session"
	"go.uber.org/zap"
)

// Option ids offered with every permission request.
const (
	optionAllowOnce    = "allow-once"
	optionAllowAlways  = "allow-always"
	optionRejectOnce   = "reject-once"
	optionRejectAlways = "reject-always"
)

var permissionOptions = []wire.PermissionOption{
	{OptionID: optionAllowOnce, Name: "Allow", Kind: wire.PermissionAllowOnce},
	{OptionID: optionAllowAlways, Name: "Always allow", Kind: wire.PermissionAllowAlways},
	{OptionID: optionRejectOnce, Name: "Reject", Kind: wire.PermissionRejectOnce},
	{OptionID: optionRejectAlways, Name: "Always reject", Kind: wire.PermissionRejectAlways},
}

// permissionBroker approves sensitive tool calls for one session, asking
// the client unless an "always" answer is cached.
type permissionBroker struct {
	peer    peer
	sess    *session.Session
	logger  *zap.Logger
	metrics *Metrics
}

// Approve implements agent.Approver.
//
// If the request cannot be delivered or answered, the call is allowed: an
// unreachable client must not wedge the turn.
func (b *permissionBroker) Approve(ctx context.Context, call session.ToolCall) (bool, error) {
	logger := b.logger.With(zap.String("session_id", b.sess.ID), zap.String("tool", call.Name))

	if d, ok := b.sess.Decision(call.Name); ok {
		logger.Debug("using cached permission decision", zap.String("decision", string(d)))
		b.metrics.permissionDecided("cached_" + string(d))
		return d == session.DecisionAllowAlways, nil
	}

	params := wire.RequestPermissionParams{
		SessionID: b.sess.ID,
		ToolCall: wire.ToolCallUpdate{
			ToolCallID: call.ToolCallID,
			Title:      toolTitle(call),
			Kind:       toolKind(call.Name),
			Status:     wire.ToolCallStatusPending,
			RawInput:   call.Args,
		},
		Options: permissionOptions,
	}
	var res wire.RequestPermissionResult
	if err := b.peer.Call(ctx, wire.MethodRequestPermission, params, &res); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Warn("permission request failed, allowing", zap.Error(err))
		b.metrics.permissionDecided("transport_failure")
		return true, nil
	}

	if res.Outcome.Outcome == "cancelled" {
		b.metrics.permissionDecided("cancelled")
		return false, nil
	}
	switch res.Outcome.OptionID {
	case optionAllowOnce:
		b.metrics.permissionDecided("allow_once")
		return true, nil
	case optionAllowAlways:
		b.sess.Remember(call.Name, session.DecisionAllowAlways)
		b.metrics.permissionDecided("allow_always")
		return true, nil
	case optionRejectAlways:
		b.sess.Remember(call.Name, session.DecisionRejectAlways)
		b.metrics.permissionDecided("reject_always")
		return false, nil
	default:
		b.metrics.permissionDecided("reject_once")
		return false, nil
	}
}
