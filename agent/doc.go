// Package agent provides the agent execution engine for deepacp.
//
// The package defines the contract every front end drives an agent through
// and one concrete implementation backed by a language model.
//
// # Contract
//
// An Engine receives one turn at a time:
//
//	events, err := engine.Invoke(ctx, agent.Input{
//	    ThreadID: threadID,
//	    Messages: []session.Message{{Role: session.RoleUser, Content: "fix the build"}},
//	    Mode:     session.ModeAgent,
//	    Approver: approver,
//	})
//	for ev := range events {
//	    // render ev
//	}
//
// The channel is closed when the turn ends. Cancelling ctx ends the turn at
// the next step boundary. An Event carries any of several shapes: a stage
// delta (Stage plus Delta), nested middleware deltas (Nested), a single
// message (Message) or a full state snapshot (Snapshot). Err set on an event
// means the turn failed.
//
// # LLM engine
//
// Agent loads the thread's checkpoint, appends the new turn and loops:
//
//   - call the model with the system prompt, mode hint, history and tools
//   - emit Event{Stage: StageModel} with the reply
//   - run each requested tool, asking the Approver first for sensitive ones,
//     and emit Event{Stage: StageTools} with the result
//   - calls to write_todos also emit a nested TodoMiddlewareStage delta
//     carrying the new todo list
//
// The thread is written back to the checkpoint store after every step, so a
// reloaded session sees everything up to the last completed step.
//
// # Subpackages
//
// agent/acp serves engines to editors over the Agent Client Protocol.
// agent/terminal drives an engine from an interactive terminal.
package agent
