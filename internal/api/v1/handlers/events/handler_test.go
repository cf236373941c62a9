package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailfold/relay/internal/config"
	"github.com/mailfold/relay/internal/connections"
	"github.com/mailfold/relay/internal/domain/chat/models"
	"github.com/mailfold/relay/internal/realtime"
	"github.com/mailfold/relay/internal/services/agent"
	"github.com/mailfold/relay/internal/services/wstoken"
)

type fakeAgent struct {
	mu       sync.Mutex
	response *agent.Response
	err      error

	lastUserID   string
	lastMessage  string
	lastSelector string
}

func (f *fakeAgent) Search(ctx context.Context, userID, message string, reqContext models.Context, selector string) (*agent.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUserID = userID
	f.lastMessage = message
	f.lastSelector = selector
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

type eventsFixture struct {
	server   *httptest.Server
	wsTokens *wstoken.Service
	agent    *fakeAgent
}

func newEventsFixture(t *testing.T) *eventsFixture {
	t.Helper()
	restore := config.SetWSTokenSecret([]byte("test-channel-secret"))
	t.Cleanup(restore)

	fake := &fakeAgent{
		response: &agent.Response{
			AssistantMessage: "Here is your summary of today.",
			UIActions:        []models.UIAction{{Type: "SHOW_SEARCH_RESULTS"}},
			Results:          json.RawMessage(`["m1"]`),
			Trace:            models.Trace{ProviderUsed: models.ModelGemini, FinalCount: 1},
		},
	}
	wsTokens := wstoken.NewService(nil)
	handler := NewHandler(wsTokens, fake, connections.NewManager(connections.DefaultTimeouts))

	server := httptest.NewServer(http.HandlerFunc(handler.HandleEvents))
	t.Cleanup(server.Close)

	return &eventsFixture{server: server, wsTokens: wsTokens, agent: fake}
}

func (f *eventsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	token, err := f.wsTokens.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) realtime.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, ok := realtime.ParseEnvelope(data)
	require.True(t, ok, "server sent malformed envelope: %s", data)
	return env
}

func sendChatRequest(t *testing.T, conn *websocket.Conn, payload models.ChatRequestPayload) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(realtime.Envelope{
		Type:    models.TypeChatRequest,
		Payload: data,
	}))
}

func TestHandleEventsRejectsMissingToken(t *testing.T) {
	f := newEventsFixture(t)

	resp, err := http.Get(f.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleEventsRejectsInvalidToken(t *testing.T) {
	f := newEventsFixture(t)

	resp, err := http.Get(f.server.URL + "?token=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleEventsRejectsReplayedToken(t *testing.T) {
	f := newEventsFixture(t)

	token, err := f.wsTokens.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleEventsStreamsChatExchange(t *testing.T) {
	f := newEventsFixture(t)
	conn := f.dial(t)

	ready := readEnvelope(t, conn)
	assert.Equal(t, models.TypeSystemReady, ready.Type)

	sendChatRequest(t, conn, models.ChatRequestPayload{
		ChatID:  "chat-1",
		Message: "summarize today",
		Model:   models.ModelGemini,
		Context: models.Context{ActiveMailbox: "inbox"},
	})

	start := readEnvelope(t, conn)
	require.Equal(t, models.TypeChatStart, start.Type)
	assert.Equal(t, "chat-1-start", start.EventID)
	assert.NotEmpty(t, start.TS)

	var startPayload models.ChatStartPayload
	require.NoError(t, json.Unmarshal(start.Payload, &startPayload))
	assert.Equal(t, "chat-1", startPayload.ChatID)
	assert.Equal(t, "summarize today", startPayload.UserMessage)

	var accumulated string
	env := readEnvelope(t, conn)
	for i := 0; env.Type == models.TypeChatDelta; i++ {
		assert.Equal(t, fmt.Sprintf("chat-1-delta-%d", i), env.EventID)
		var delta models.ChatDeltaPayload
		require.NoError(t, json.Unmarshal(env.Payload, &delta))
		require.Equal(t, "chat-1", delta.ChatID)
		accumulated += delta.Delta
		env = readEnvelope(t, conn)
	}
	assert.Equal(t, "Here is your summary of today.", accumulated)

	require.Equal(t, models.TypeChatAction, env.Type)
	var action models.ChatActionPayload
	require.NoError(t, json.Unmarshal(env.Payload, &action))
	assert.Equal(t, "SHOW_SEARCH_RESULTS", action.Action.Type)
	assert.JSONEq(t, `["m1"]`, string(action.Results))

	completed := readEnvelope(t, conn)
	require.Equal(t, models.TypeChatCompleted, completed.Type)
	assert.Equal(t, "chat-1-completed", completed.EventID)
	var final models.ChatCompletedPayload
	require.NoError(t, json.Unmarshal(completed.Payload, &final))
	assert.Equal(t, "Here is your summary of today.", final.AssistantMessage)
	require.NotNil(t, final.Trace)
	assert.Equal(t, models.ModelGemini, final.Trace.ProviderUsed)

	f.agent.mu.Lock()
	assert.Equal(t, "user-1", f.agent.lastUserID)
	assert.Equal(t, models.ModelGemini, f.agent.lastSelector)
	f.agent.mu.Unlock()
}

func TestHandleEventsInvalidFrameKeepsConnection(t *testing.T) {
	f := newEventsFixture(t)
	conn := f.dial(t)
	readEnvelope(t, conn) // system.ready

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not an envelope")))

	env := readEnvelope(t, conn)
	require.Equal(t, models.TypeChatError, env.Type)
	var errPayload models.ChatErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errPayload))
	assert.Equal(t, "Invalid websocket chat event", errPayload.Message)
	assert.Empty(t, errPayload.ChatID)

	// The connection survives and still serves chat requests.
	sendChatRequest(t, conn, models.ChatRequestPayload{ChatID: "chat-2", Message: "hello"})
	assert.Equal(t, models.TypeChatStart, readEnvelope(t, conn).Type)
}

func TestHandleEventsEmptyMessage(t *testing.T) {
	f := newEventsFixture(t)
	conn := f.dial(t)
	readEnvelope(t, conn) // system.ready

	sendChatRequest(t, conn, models.ChatRequestPayload{ChatID: "chat-3", Message: "   "})

	env := readEnvelope(t, conn)
	require.Equal(t, models.TypeChatError, env.Type)
	var errPayload models.ChatErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errPayload))
	assert.Equal(t, "chat-3", errPayload.ChatID)
	assert.Equal(t, "Message cannot be empty", errPayload.Message)
}

func TestHandleEventsMissingChatID(t *testing.T) {
	f := newEventsFixture(t)
	conn := f.dial(t)
	readEnvelope(t, conn) // system.ready

	sendChatRequest(t, conn, models.ChatRequestPayload{Message: "hello"})

	env := readEnvelope(t, conn)
	require.Equal(t, models.TypeChatError, env.Type)
	var errPayload models.ChatErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errPayload))
	assert.Equal(t, "Invalid chat request payload", errPayload.Message)
	assert.Empty(t, errPayload.ChatID)
}

func TestHandleEventsAgentFailure(t *testing.T) {
	f := newEventsFixture(t)
	f.agent.err = errors.New("provider down")
	conn := f.dial(t)
	readEnvelope(t, conn) // system.ready

	sendChatRequest(t, conn, models.ChatRequestPayload{ChatID: "chat-4", Message: "hello"})

	// chat_start precedes the failure, matching the stream shape.
	assert.Equal(t, models.TypeChatStart, readEnvelope(t, conn).Type)

	env := readEnvelope(t, conn)
	require.Equal(t, models.TypeChatError, env.Type)
	var errPayload models.ChatErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &errPayload))
	assert.Equal(t, "chat-4", errPayload.ChatID)
	assert.Equal(t, "AI chat failed", errPayload.Message)
}

func TestChunkMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    []string
	}{
		{
			name:    "empty",
			message: "",
			want:    []string{""},
		},
		{
			name:    "short message single chunk",
			message: "hello there",
			want:    []string{"hello there"},
		},
		{
			name:    "exactly one chunk",
			message: "one two three four",
			want:    []string{"one two three four"},
		},
		{
			name:    "two chunks with trailing space on the first",
			message: "one two three four five six",
			want:    []string{"one two three four ", "five six"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := chunkMessage(tt.message)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, strings.Join(strings.Fields(tt.message), " "), strings.TrimSpace(strings.Join(got, "")))
		})
	}
}
