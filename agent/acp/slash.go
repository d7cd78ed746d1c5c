package acp

import (
	"fmt"
	"strings"

	wire "github.com/m4xw311/deepacp/acp"
	"github.com/m4xw311/deepacp/config"
	"github.com/m4xw311/deepacp/session"
)

var builtinCommands = []wire.AvailableCommand{
	{Name: "plan", Description: "Switch to plan mode: investigate and propose, no changes"},
	{Name: "agent", Description: "Switch to agent mode: full tool use"},
	{Name: "ask", Description: "Switch to ask mode: answer without tools"},
	{Name: "clear", Description: "Start a fresh conversation in this session"},
	{Name: "status", Description: "Show agent, mode and thread of this session"},
}

var builtinModes = []wire.SessionMode{
	{ID: session.ModeAgent, Name: "Agent", Description: "Read, edit and run commands"},
	{ID: session.ModePlan, Name: "Plan", Description: "Investigate and propose a plan"},
	{ID: session.ModeAsk, Name: "Ask", Description: "Answer questions without tools"},
}

// commandInterpreter handles slash commands locally, without the engine.
type commandInterpreter struct {
	cfg         *config.Config
	newThreadID func() string
}

// interpret runs text as a slash command. It reports false when text is
// not a command this session knows.
func (ci *commandInterpreter) interpret(sess *session.Session, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")

	switch name {
	case session.ModePlan, session.ModeAgent, session.ModeAsk:
		sess.SetMode(name)
		return fmt.Sprintf("Switched to %s mode.", name), true
	case "clear":
		sess.Reset(ci.newThreadID())
		return "Started a new conversation.", true
	case "status":
		return ci.status(sess), true
	}

	if agentCfg := ci.agent(sess); agentCfg != nil {
		for _, cmd := range agentCfg.Commands {
			if cmd.Name != name {
				continue
			}
			if cmd.Mode != "" {
				sess.SetMode(cmd.Mode)
			}
			reply := cmd.Reply
			if reply == "" && cmd.Mode != "" {
				reply = fmt.Sprintf("Switched to %s mode.", cmd.Mode)
			}
			if reply == "" {
				reply = fmt.Sprintf("Ran /%s.", cmd.Name)
			}
			return reply, true
		}
	}
	return "", false
}

func (ci *commandInterpreter) status(sess *session.Session) string {
	model := "unknown"
	var skills, memory int
	if agentCfg := ci.agent(sess); agentCfg != nil {
		if agentCfg.Model != "" {
			model = agentCfg.Model
		}
		skills, memory = len(agentCfg.Skills), len(agentCfg.Memory)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n", sess.AgentName)
	fmt.Fprintf(&b, "Mode: %s\n", sess.Mode())
	fmt.Fprintf(&b, "Model: %s\n", model)
	fmt.Fprintf(&b, "Skills: %d\n", skills)
	fmt.Fprintf(&b, "Memory files: %d\n", memory)
	fmt.Fprintf(&b, "Session: %s\n", sess.ID)
	fmt.Fprintf(&b, "Thread: %s", sess.ThreadID())
	return b.String()
}

// available lists the commands offered to sessions of an agent.
func (ci *commandInterpreter) available(agentName string) []wire.AvailableCommand {
	cmds := append([]wire.AvailableCommand(nil), builtinCommands...)
	if ci.cfg == nil {
		return cmds
	}
	agentCfg, err := ci.cfg.GetAgent(agentName)
	if err != nil {
		return cmds
	}
	for _, cmd := range agentCfg.Commands {
		cmds = append(cmds, wire.AvailableCommand{Name: cmd.Name, Description: cmd.Description})
	}
	return cmds
}

// modes returns the mode state of a session: the built-in modes plus any
// mode contributed by its agent's commands.
func (ci *commandInterpreter) modes(sess *session.Session) *wire.SessionModeState {
	modes := append([]wire.SessionMode(nil), builtinModes...)
	known := map[string]bool{session.ModeAgent: true, session.ModePlan: true, session.ModeAsk: true}
	add := func(id string) {
		if id == "" || known[id] {
			return
		}
		known[id] = true
		modes = append(modes, wire.SessionMode{ID: id, Name: id})
	}
	if agentCfg := ci.agent(sess); agentCfg != nil {
		for _, cmd := range agentCfg.Commands {
			add(cmd.Mode)
		}
	}
	add(sess.Mode())
	return &wire.SessionModeState{CurrentModeID: sess.Mode(), AvailableModes: modes}
}

func (ci *commandInterpreter) agent(sess *session.Session) *config.Agent {
	if ci.cfg == nil {
		return nil
	}
	agentCfg, err := ci.cfg.GetAgent(sess.AgentName)
	if err != nil {
		return nil
	}
	return agentCfg
}
