package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/m4xw311/deepacp/config"
	"github.com/m4xw311/deepacp/errors"
	"github.com/m4xw311/deepacp/session"
	"github.com/m4xw311/deepacp/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error)
}

// New builds the client named by an agent configuration. Unknown or empty
// names get the mock client.
func New(ctx context.Context, agent *config.Agent) (LLMClient, error) {
	var (
		client LLMClient
		err    error
	)
	switch agent.LLMClient {
	case "gemini":
		client, err = NewGeminiLLMClient(ctx, agent.Model)
	case "openai":
		client, err = NewOpenAILLMClient(ctx, agent.Model)
	case "bedrock":
		client, err = NewBedrockLLMClient(ctx, agent.Model)
	case "anthropic":
		client, err = NewAnthropicLLMClient(ctx, agent.Model)
	default:
		return &MockLLMClient{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error initializing %s client", agent.LLMClient)
	}
	return client, nil
}

// MockLLMClient replays scripted responses in order. Once the script runs
// out it parrots the last user message back.
type MockLLMClient struct {
	Responses []session.Message

	mu    sync.Mutex
	calls [][]session.Message
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]session.Message(nil), messages...))

	if len(m.Responses) > 0 {
		resp := m.Responses[0]
		m.Responses = m.Responses[1:]
		return &resp, nil
	}

	var lastUser string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == session.RoleUser {
			lastUser = messages[i].Content
			break
		}
	}
	return &session.Message{
		Role:    session.RoleAssistant,
		Content: fmt.Sprintf("I am a mock LLM. You said: '%s'.", lastUser),
	}, nil
}

// Calls returns the message lists the client was invoked with.
func (m *MockLLMClient) Calls() [][]session.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]session.Message(nil), m.calls...)
}
