// Package acp serves agent engines to editors over the Agent Client
// Protocol.
//
// A Server owns the sessions of one connection. It answers the protocol
// requests, runs prompts on their own goroutine so the read loop keeps
// serving cancel notifications and client responses, and translates the
// engine's event stream into session/update notifications.
//
// Only one prompt runs at a time on a connection. session/cancel stops it at the next
// event; tool calls still in flight are reported as cancelled before the
// prompt's response is sent.
package acp

import (
	"context"
	"encoding/json"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	wire "github.com/m4xw311/deepacp/acp"
	"github.com/m4xw311/deepacp/agent"
	"github.com/m4xw311/deepacp/checkpoint"
	"github.com/m4xw311/deepacp/config"
	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/session"
	"github.com/m4xw311/deepacp/tools"
	"go.uber.org/zap"
)

// EngineFactory materializes the engine for an agent configuration.
type EngineFactory func(ctx context.Context, agentCfg *config.Agent) (agent.Engine, error)

// DefaultEngineFactory builds LLM-backed engines from cfg.
func DefaultEngineFactory(cfg *config.Config, store checkpoint.Store, logger *zap.Logger) EngineFactory {
	return func(ctx context.Context, agentCfg *config.Agent) (agent.Engine, error) {
		return agent.Build(ctx, cfg, agentCfg, store, logger)
	}
}

// Options configures a Server. Config and Factory are required.
type Options struct {
	Config      *config.Config
	Factory     EngineFactory
	Checkpoints checkpoint.Store
	Logger      *zap.Logger
	Metrics     *Metrics
	Version     string
}

// Server is the request dispatcher for one ACP connection.
type Server struct {
	cfg      *config.Config
	factory  EngineFactory
	store    *session.Store
	logger   *zap.Logger
	metrics  *Metrics
	version  string
	commands *commandInterpreter
	replayer *replayer
	cancels  cancelController
	caps     clientCapabilities
	peer     peer

	enginesMu sync.Mutex
	engines   map[string]agent.Engine

	checkpoints checkpoint.Store
	wg          sync.WaitGroup
	now         func() time.Time
}

// NewServer creates a Server for one client connection. Sessions, the
// prompt slot and materialized engines belong to it alone.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "acp"))
	store := session.NewStore()
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		cfg:         opts.Config,
		factory:     opts.Factory,
		store:       store,
		logger:      logger,
		metrics:     opts.Metrics,
		version:     version,
		commands:    &commandInterpreter{cfg: opts.Config, newThreadID: store.NewThreadID},
		replayer:    &replayer{checkpoints: opts.Checkpoints, logger: logger},
		engines:     make(map[string]agent.Engine),
		checkpoints: opts.Checkpoints,
		now:         time.Now,
	}
}

// Serve runs the protocol over t until the client disconnects or ctx is
// cancelled. A running prompt is cancelled and materialized engines are
// closed before Serve returns.
func (s *Server) Serve(ctx context.Context, t wire.Transport) error {
	conn := wire.NewConn(t, s.logger)
	s.peer = conn
	s.logger.Info("ACP server started")

	var result *multierror.Error
	if err := conn.Serve(ctx, s); err != nil {
		result = multierror.Append(result, err)
	}
	s.cancels.stop()
	s.wg.Wait()
	if err := s.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	s.logger.Info("ACP server stopped")
	return result.ErrorOrNil()
}

// Close releases every materialized engine.
func (s *Server) Close() error {
	s.enginesMu.Lock()
	defer s.enginesMu.Unlock()
	var result *multierror.Error
	for name, e := range s.engines {
		if c, ok := e.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "closing agent %s", name))
			}
		}
		delete(s.engines, name)
	}
	s.metrics.sessionsClosed(s.store.Len())
	return result.ErrorOrNil()
}

// Handle implements wire.Handler.
func (s *Server) Handle(ctx context.Context, msg *wire.Message) {
	if msg.IsNotification() {
		switch msg.Method {
		case wire.MethodSessionCancel:
			s.handleCancel(msg)
		default:
			s.logger.Debug("ignoring notification", zap.String("method", msg.Method))
		}
		return
	}

	switch msg.Method {
	case wire.MethodInitialize:
		s.reply(msg.ID, s.handleInitialize(msg), nil)
	case wire.MethodAuthenticate:
		s.reply(msg.ID, struct{}{}, nil)
	case wire.MethodSessionNew:
		res, sess, err := s.handleSessionNew(ctx, msg)
		s.reply(msg.ID, res, err)
		if err == nil {
			s.goBestEffort("available commands update", func() error {
				return s.updater(sess.ID).send(wire.AvailableCommandsUpdate{
					SessionUpdate:     wire.UpdateAvailableCommands,
					AvailableCommands: s.commands.available(sess.AgentName),
				})
			})
		}
	case wire.MethodSessionLoad:
		res, err := s.handleSessionLoad(ctx, msg)
		s.reply(msg.ID, res, err)
	case wire.MethodSessionPrompt:
		s.handleSessionPrompt(ctx, msg)
	case wire.MethodSessionSetMode:
		res, err := s.handleSetMode(msg)
		s.reply(msg.ID, res, err)
	default:
		s.reply(msg.ID, nil, &wire.Error{Code: wire.CodeMethodNotFound, Message: "Method not found", Data: msg.Method})
	}
}

func (s *Server) reply(id json.RawMessage, result any, err error) {
	if err != nil {
		s.logger.Debug("request failed", zap.Error(err))
		s.peer.ReplyError(id, err)
		return
	}
	s.peer.Reply(id, result)
}

func (s *Server) updater(sessionID string) updater {
	return updater{peer: s.peer, sessionID: sessionID, logger: s.logger}
}

func (s *Server) handleInitialize(msg *wire.Message) wire.InitializeResult {
	params, err := wire.ParseParams[wire.InitializeParams](msg)
	if err != nil {
		s.logger.Warn("malformed initialize params, using defaults", zap.Error(err))
	}
	s.caps.set(params.ClientCapabilities)

	fields := []zap.Field{zap.Int("protocol_version", params.ProtocolVersion),
		zap.Bool("fs_read", params.ClientCapabilities.FS.ReadTextFile),
		zap.Bool("fs_write", params.ClientCapabilities.FS.WriteTextFile)}
	if params.ClientInfo != nil {
		fields = append(fields, zap.String("client", params.ClientInfo.Name), zap.String("client_version", params.ClientInfo.Version))
	}
	s.logger.Info("initialize", fields...)

	return wire.InitializeResult{
		ProtocolVersion: wire.ProtocolVersion,
		AgentInfo:       &wire.Implementation{Name: "deepacp", Title: "deepacp", Version: s.version},
		AgentCapabilities: wire.AgentCapabilities{
			LoadSession:         true,
			PromptCapabilities:  wire.PromptCapabilities{Image: true, EmbeddedContext: true},
			SessionCapabilities: wire.SessionCapabilities{Modes: true, Commands: true},
		},
		AuthMethods: []wire.AuthMethod{},
	}
}

func (s *Server) handleSessionNew(ctx context.Context, msg *wire.Message) (*wire.NewSessionResult, *session.Session, error) {
	params, err := wire.ParseParams[wire.NewSessionParams](msg)
	if err != nil {
		return nil, nil, invalidParams(err)
	}

	agentCfg, err := s.cfg.GetAgent(params.ConfigOptions.Agent)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrUnknownAgent, "%v", err)
	}
	if _, err := s.engineFor(ctx, agentCfg); err != nil {
		return nil, nil, err
	}

	mode := params.Mode
	if mode == "" {
		mode = session.ModeAgent
	}
	sess := s.store.Create(agentCfg.Name, mode, params.Cwd)
	s.metrics.sessionOpened()
	s.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("agent", sess.AgentName),
		zap.String("thread_id", sess.ThreadID()),
		zap.String("cwd", sess.Cwd))

	return &wire.NewSessionResult{SessionID: sess.ID, Modes: s.commands.modes(sess)}, sess, nil
}

func (s *Server) handleSessionLoad(ctx context.Context, msg *wire.Message) (*wire.LoadSessionResult, error) {
	params, err := wire.ParseParams[wire.LoadSessionParams](msg)
	if err != nil {
		return nil, invalidParams(err)
	}
	sess, ok := s.store.Get(params.SessionID)
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "session %q", params.SessionID)
	}
	sess.Touch(s.now())
	if params.Mode != "" {
		sess.SetMode(params.Mode)
	}

	n := s.replayer.replay(ctx, sess, s.updater(sess.ID))
	s.logger.Info("session loaded", zap.String("session_id", sess.ID), zap.Int("replayed", n))
	return &wire.LoadSessionResult{Modes: s.commands.modes(sess)}, nil
}

func (s *Server) handleSetMode(msg *wire.Message) (*wire.SetModeResult, error) {
	params, err := wire.ParseParams[wire.SetModeParams](msg)
	if err != nil {
		return nil, invalidParams(err)
	}
	sess, ok := s.store.Get(params.SessionID)
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "session %q", params.SessionID)
	}
	sess.SetMode(params.ModeID)
	s.logger.Debug("mode changed", zap.String("session_id", sess.ID), zap.String("mode", params.ModeID))
	return &wire.SetModeResult{}, nil
}

func (s *Server) handleCancel(msg *wire.Message) {
	params, err := wire.ParseParams[wire.CancelParams](msg)
	if err != nil {
		s.logger.Warn("malformed cancel notification", zap.Error(err))
		return
	}
	if s.cancels.signal(params.SessionID) {
		s.logger.Info("prompt cancelled", zap.String("session_id", params.SessionID))
		return
	}
	s.logger.Debug("cancel with no matching prompt", zap.String("session_id", params.SessionID))
}

// handleSessionPrompt validates the prompt on the read loop and runs it on
// its own goroutine. The response is sent when the prompt finishes.
func (s *Server) handleSessionPrompt(ctx context.Context, msg *wire.Message) {
	params, err := wire.ParseParams[wire.PromptParams](msg)
	if err != nil {
		s.reply(msg.ID, nil, invalidParams(err))
		return
	}
	sess, ok := s.store.Get(params.SessionID)
	if !ok {
		s.reply(msg.ID, nil, errors.Wrapf(ErrSessionNotFound, "session %q", params.SessionID))
		return
	}
	agentCfg, err := s.cfg.GetAgent(sess.AgentName)
	if err != nil {
		s.reply(msg.ID, nil, errors.Wrapf(ErrAgentNotMaterialized, "%v", err))
		return
	}
	engine, err := s.engineFor(ctx, agentCfg)
	if err != nil {
		s.reply(msg.ID, nil, err)
		return
	}
	tok, err := s.cancels.begin(ctx, sess.ID, sess.ThreadID())
	if err != nil {
		s.reply(msg.ID, nil, err)
		return
	}
	if params.Mode != "" {
		sess.SetMode(params.Mode)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		stopReason, err := s.runPrompt(tok.ctx, sess, engine, params.Prompt)
		// Release before replying so the client's next prompt is accepted.
		s.cancels.end(tok)
		if err != nil {
			s.metrics.promptFinished("error")
			s.logger.Error("prompt failed", zap.String("session_id", sess.ID), zap.Error(err))
			s.reply(msg.ID, nil, err)
			return
		}
		s.metrics.promptFinished(stopReason)
		s.logger.Info("prompt finished", zap.String("session_id", sess.ID), zap.String("stop_reason", stopReason))
		s.reply(msg.ID, wire.PromptResult{StopReason: stopReason}, nil)
	}()
}

func (s *Server) runPrompt(ctx context.Context, sess *session.Session, engine agent.Engine, blocks []wire.ContentBlock) (string, error) {
	logger := s.logger.With(zap.String("session_id", sess.ID))
	out := s.updater(sess.ID)
	sess.Touch(s.now())

	text := promptText(blocks)
	mode := sess.Mode()
	if reply, ok := s.commands.interpret(sess, text); ok {
		logger.Debug("slash command handled", zap.String("command", text))
		out.chunk(wire.UpdateAgentMessageChunk, reply)
		if m := sess.Mode(); m != mode {
			out.send(wire.CurrentModeUpdate{SessionUpdate: wire.UpdateCurrentMode, CurrentModeID: m})
		}
		return wire.StopReasonEndTurn, nil
	}

	user := session.Message{ID: uuid.NewString(), Role: session.RoleUser, Content: text}
	sess.Append(user)

	runCtx := tools.WithWorkDir(ctx, sess.Cwd)
	runCtx = tools.WithFileSystem(runCtx, &clientFileSystem{peer: s.peer, sessionID: sess.ID, caps: s.caps.fs()})
	events, err := engine.Invoke(runCtx, agent.Input{
		ThreadID:  sess.ThreadID(),
		SessionID: sess.ID,
		Messages:  []session.Message{user},
		Mode:      sess.Mode(),
		Approver:  &permissionBroker{peer: s.peer, sess: sess, logger: logger, metrics: s.metrics},
	})
	if err != nil {
		if ctx.Err() != nil {
			return wire.StopReasonCancelled, nil
		}
		return "", errors.Wrapf(err, "invoking agent %s", sess.AgentName)
	}

	tr := newTranslator(out, sess, s.turnHistory(ctx, sess, user), logger, s.metrics)
	return tr.run(ctx, events)
}

// turnHistory returns the thread's messages up to and including the turn's
// user message. It is read after Invoke, once the engine has loaded the
// thread, and falls back to the session buffer without a checkpoint.
func (s *Server) turnHistory(ctx context.Context, sess *session.Session, user session.Message) []session.Message {
	history := sess.Buffer()
	if s.checkpoints != nil {
		if cp, err := s.checkpoints.Get(ctx, sess.ThreadID()); err == nil {
			history = cp.Messages
		}
	}
	for i, m := range history {
		if m.ID == user.ID {
			return history[:i+1]
		}
	}
	return append(slices.Clip(history), user)
}

// engineFor returns the engine of an agent, building it on first use.
func (s *Server) engineFor(ctx context.Context, agentCfg *config.Agent) (agent.Engine, error) {
	s.enginesMu.Lock()
	defer s.enginesMu.Unlock()
	if e, ok := s.engines[agentCfg.Name]; ok {
		return e, nil
	}
	e, err := s.factory(ctx, agentCfg)
	if err != nil {
		s.logger.Error("failed to materialize agent", zap.String("agent", agentCfg.Name), zap.Error(err))
		return nil, errors.Wrapf(ErrAgentNotMaterialized, "agent %s: %v", agentCfg.Name, err)
	}
	s.engines[agentCfg.Name] = e
	s.logger.Info("agent materialized", zap.String("agent", agentCfg.Name))
	return e, nil
}
