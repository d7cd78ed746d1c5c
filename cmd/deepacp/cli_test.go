package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
agents:
  - name: coder
    llm: mock
    model: mock-model
checkpoint:
  backend: memory
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path
}

func executeCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// rpc is a decoded line from the server.
type rpc struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int `json:"code"`
	} `json:"error"`
}

func (r rpc) chunkText() string {
	var n struct {
		Update struct {
			SessionUpdate string `json:"sessionUpdate"`
			Content       struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"update"`
	}
	if r.Method != "session/update" || json.Unmarshal(r.Params, &n) != nil {
		return ""
	}
	if n.Update.SessionUpdate != "agent_message_chunk" {
		return ""
	}
	return n.Update.Content.Text
}

// readUntil collects messages up to and including the response with id.
func readUntil(t *testing.T, next func() (rpc, error), id string) []rpc {
	t.Helper()
	var got []rpc
	for {
		msg, err := next()
		require.NoError(t, err)
		got = append(got, msg)
		if string(msg.ID) == id && msg.Method == "" {
			return got
		}
	}
}

func TestHelpListsSubcommands(t *testing.T) {
	out, err := executeCLI(t, "", "--help")
	require.NoError(t, err)
	for _, name := range []string{"acp", "ws", "chat", "--metrics-addr", "--trace"} {
		assert.Contains(t, out, name)
	}
}

func TestVersion(t *testing.T) {
	out, err := executeCLI(t, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestUnknownConfigFileFails(t *testing.T) {
	_, err := executeCLI(t, "", "acp", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
}

func TestACPServesStdio(t *testing.T) {
	cfgPath := writeConfig(t)
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	cmd := newRootCmd()
	cmd.SetIn(inR)
	cmd.SetOut(outW)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"acp", "--config", cfgPath})

	done := make(chan error, 1)
	go func() {
		done <- cmd.Execute()
		outW.Close()
	}()

	scanner := bufio.NewScanner(outR)
	next := func() (rpc, error) {
		if !scanner.Scan() {
			return rpc{}, io.ErrUnexpectedEOF
		}
		var msg rpc
		return msg, json.Unmarshal(scanner.Bytes(), &msg)
	}
	send := func(line string) {
		_, err := io.WriteString(inW, line+"\n")
		require.NoError(t, err)
	}

	send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":1}}`)
	initialized := readUntil(t, next, "1")
	assert.JSONEq(t, `1`, string(resultField(t, initialized[len(initialized)-1].Result, "protocolVersion")))

	cwd := t.TempDir()
	send(`{"jsonrpc":"2.0","id":2,"method":"session/new","params":{"cwd":` + quote(cwd) + `,"mcpServers":[]}}`)
	created := readUntil(t, next, "2")
	var sess struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(created[len(created)-1].Result, &sess))
	require.NotEmpty(t, sess.SessionID)

	send(`{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"` + sess.SessionID + `","prompt":[{"type":"text","text":"hello"}]}}`)
	turn := readUntil(t, next, "3")

	var text strings.Builder
	for _, msg := range turn {
		text.WriteString(msg.chunkText())
	}
	assert.Contains(t, text.String(), "You said: 'hello'")
	assert.JSONEq(t, `{"stopReason":"end_turn"}`, string(turn[len(turn)-1].Result))

	go func() { _, _ = io.Copy(io.Discard, outR) }()
	require.NoError(t, inW.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("acp did not exit after stdin closed")
	}
}

func TestChatRunsInitialPrompt(t *testing.T) {
	out, err := executeCLI(t, "", "chat", "--config", writeConfig(t), "--thread", "thread-1", "hello", "there")
	require.NoError(t, err)
	assert.Contains(t, out, "Chatting with coder on thread thread-1.")
	assert.Contains(t, out, "Agent: I am a mock LLM. You said: 'hello there'.")
}

func TestChatRejectsBadVerbosity(t *testing.T) {
	_, err := executeCLI(t, "", "chat", "--config", writeConfig(t), "--tool-verbosity", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tool verbosity")
}

func TestChatUnknownAgent(t *testing.T) {
	_, err := executeCLI(t, "", "chat", "--config", writeConfig(t), "--agent", "reviewer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reviewer")
}

func TestWebSocketConnectionsAreIndependent(t *testing.T) {
	v := viper.New()
	v.Set(keyConfig, writeConfig(t))
	a, err := wireApp(v)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	h := newWSHandler(ctx, a)
	srv := httptest.NewServer(h)
	defer srv.Close()

	dial := func() *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+wsPath, nil)
		require.NoError(t, err)
		return conn
	}
	call := func(conn *websocket.Conn, id, method, params string) rpc {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"jsonrpc":"2.0","id":`+id+`,"method":"`+method+`","params":`+params+`}`)))
		got := readUntil(t, func() (rpc, error) {
			var msg rpc
			_, data, err := conn.ReadMessage()
			if err != nil {
				return msg, err
			}
			return msg, json.Unmarshal(data, &msg)
		}, id)
		return got[len(got)-1]
	}

	first := dial()
	resp := call(first, "1", "session/new", `{"cwd":"/work","mcpServers":[]}`)
	require.Nil(t, resp.Error)
	var sess struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &sess))
	assert.Equal(t, 1.0, gaugeValue(t, a, "deepacp_active_sessions"))

	second := dial()
	resp = call(second, "1", "session/load", `{"sessionId":"`+sess.SessionID+`","cwd":"/work","mcpServers":[]}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32000, resp.Error.Code)

	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
	cancel()
	h.wait()
	assert.Equal(t, 0.0, gaugeValue(t, a, "deepacp_active_sessions"))
}

func gaugeValue(t *testing.T, a *app, name string) float64 {
	t.Helper()
	families, err := a.registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func resultField(t *testing.T, raw json.RawMessage, field string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return m[field]
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
