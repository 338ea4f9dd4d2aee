package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/mindease/internal/models"
	"github.com/xhad/mindease/pkg/chat"
	"github.com/xhad/mindease/pkg/errs"
	"github.com/xhad/mindease/pkg/llm"
	"github.com/xhad/mindease/pkg/rag"
	"github.com/xhad/mindease/server"
)

type fakeAsker struct {
	mu        sync.Mutex
	questions []string
	err       error
}

func (a *fakeAsker) Ask(ctx context.Context, question string) (*rag.Answer, error) {
	a.mu.Lock()
	a.questions = append(a.questions, question)
	a.mu.Unlock()

	if strings.TrimSpace(question) == "" {
		return &rag.Answer{Text: llm.EmptyQuestionReply}, errs.ErrInvalidInput
	}
	if a.err != nil {
		return nil, a.err
	}
	return &rag.Answer{
		Text: "Answer to: " + question,
		Sources: []models.ScoredChunk{{
			Chunk:    models.Chunk{ID: "guide.pdf#1:0", Source: "guide.pdf", Text: "Breathe slowly."},
			Distance: 0.12,
		}},
	}, nil
}

func (a *fakeAsker) Ready() bool { return true }

func newTestServer(t *testing.T, asker server.Asker) (*server.Server, *httptest.Server) {
	t.Helper()
	catalog, err := chat.DefaultCatalog()
	require.NoError(t, err)

	s := server.New(asker, catalog)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndIndex(t *testing.T) {
	_, ts := newTestServer(t, &fakeAsker{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	decode(t, resp, &health)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["ready"])

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestPrompts(t *testing.T) {
	_, ts := newTestServer(t, &fakeAsker{})

	resp, err := http.Get(ts.URL + "/api/prompts")
	require.NoError(t, err)
	var catalog struct {
		Categories map[string][]string `json:"categories"`
		Emotions   map[string][]string `json:"emotions"`
	}
	decode(t, resp, &catalog)
	assert.Len(t, catalog.Categories, 4)
	assert.Contains(t, catalog.Emotions, "Anxious")

	resp, err = http.Get(ts.URL + "/api/prompts/study/random")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var prompt map[string]string
	decode(t, resp, &prompt)
	assert.Contains(t, catalog.Categories["study"], prompt["prompt"])

	resp, err = http.Get(ts.URL + "/api/prompts/horoscope/random")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/emotions/Sad")
	require.NoError(t, err)
	var emotion map[string]string
	decode(t, resp, &emotion)
	assert.Contains(t, catalog.Emotions["Sad"], emotion["response"])
}

func postAsk(t *testing.T, url string, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url+"/api/ask", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	var out map[string]interface{}
	decode(t, resp, &out)
	return resp, out
}

func TestAsk(t *testing.T) {
	asker := &fakeAsker{}
	_, ts := newTestServer(t, asker)

	resp, out := postAsk(t, ts.URL, `{"question":"How do I relax?"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Answer to: How do I relax?", out["answer"])
	sources, ok := out["sources"].([]interface{})
	require.True(t, ok)
	assert.Len(t, sources, 1)

	resp, out = postAsk(t, ts.URL, `{"question":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, llm.EmptyQuestionReply, out["answer"])

	resp, out = postAsk(t, ts.URL, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, out["error"])
}

func TestAskFailureUsesEmotionFallback(t *testing.T) {
	asker := &fakeAsker{err: &errs.ModelUnavailableError{Model: "mistral", Err: errors.New("connection refused")}}
	_, ts := newTestServer(t, asker)
	catalog, err := chat.DefaultCatalog()
	require.NoError(t, err)

	resp, out := postAsk(t, ts.URL, `{"question":"Any tips?","emotion":"Tired"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, true, out["fallback"])
	assert.Contains(t, catalog.Emotions["Tired"], out["answer"])
	assert.Contains(t, out["error"], "not reachable")

	resp, out = postAsk(t, ts.URL, `{"question":"Any tips?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "", out["answer"])
	assert.NotContains(t, out["error"], "connection refused")
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) server.Message {
	t.Helper()
	var msg server.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketConversation(t *testing.T) {
	s, ts := newTestServer(t, &fakeAsker{})
	conn := dial(t, ts)

	session := read(t, conn)
	require.Equal(t, "session", session.Type)
	require.NotEmpty(t, session.Content)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "question", Content: "I feel stressed"}))
	assert.Equal(t, "status", read(t, conn).Type)
	reply := read(t, conn)
	assert.Equal(t, "response", reply.Type)
	assert.Equal(t, "Answer to: I feel stressed", reply.Content)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "question", Content: ""}))
	assert.Equal(t, "status", read(t, conn).Type)
	reply = read(t, conn)
	assert.Equal(t, "response", reply.Type)
	assert.Equal(t, llm.EmptyQuestionReply, reply.Content)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "prompt", Content: "motivation"}))
	assert.Equal(t, "prompt", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "emotion", Emotion: "Happy"}))
	assert.Equal(t, "response", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "dance"}))
	assert.Equal(t, "error", read(t, conn).Type)

	history, ok := s.Sessions().Get(session.Content)
	require.True(t, ok)
	turns := history.Turns()
	require.Len(t, turns, 5)
	assert.Equal(t, chat.SenderUser, turns[0].Sender)
	assert.Equal(t, "I feel stressed", turns[0].Text)
	assert.Equal(t, chat.SenderAssistant, turns[1].Sender)

	resp, err := http.Get(ts.URL + "/api/history?session=" + session.Content)
	require.NoError(t, err)
	var fromAPI []models.Turn
	decode(t, resp, &fromAPI)
	assert.Len(t, fromAPI, 5)

	resp, err = http.Get(ts.URL + "/api/history?session=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketPipelineError(t *testing.T) {
	_, ts := newTestServer(t, &fakeAsker{err: errs.ErrStoreNotFound})
	conn := dial(t, ts)
	read(t, conn)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "question", Content: "hello"}))
	assert.Equal(t, "status", read(t, conn).Type)
	msg := read(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "My knowledge base isn't available yet.", msg.Content)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "question", Content: "hello", Emotion: "Sad"}))
	read(t, conn)
	msg = read(t, conn)
	assert.Equal(t, "response", msg.Type)
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["fallback"])
}
