// Package server is the web shell around the pipeline: a chat widget over a
// websocket, a JSON API and the static prompt lists.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xhad/mindease/pkg/chat"
	"github.com/xhad/mindease/pkg/errs"
	"github.com/xhad/mindease/pkg/llm"
	"github.com/xhad/mindease/pkg/rag"
)

//go:embed index.html
var indexHTML []byte

// Asker answers one question. *rag.Pipeline satisfies it.
type Asker interface {
	Ask(ctx context.Context, question string) (*rag.Answer, error)
}

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Emotion string      `json:"emotion,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type askRequest struct {
	Question string `json:"question"`
	Emotion  string `json:"emotion,omitempty"`
	Session  string `json:"session,omitempty"`
}

type askResponse struct {
	Answer   string      `json:"answer"`
	Sources  interface{} `json:"sources,omitempty"`
	Fallback bool        `json:"fallback,omitempty"`
	Error    string      `json:"error,omitempty"`
}

type Server struct {
	asker    Asker
	catalog  *chat.Catalog
	sessions *chat.Sessions
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

func New(asker Asker, catalog *chat.Catalog) *Server {
	s := &Server{
		asker:    asker,
		catalog:  catalog,
		sessions: chat.NewSessions(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		mux: http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/prompts", s.handlePrompts)
	s.mux.HandleFunc("GET /api/prompts/{category}/random", s.handleRandomPrompt)
	s.mux.HandleFunc("GET /api/emotions/{emotion}", s.handleEmotion)
	s.mux.HandleFunc("POST /api/ask", s.handleAsk)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Sessions exposes the conversation logs of connected clients.
func (s *Server) Sessions() *chat.Sessions { return s.sessions }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok"}
	if p, ok := s.asker.(interface{ Ready() bool }); ok {
		status["ready"] = p.Ready()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog)
}

func (s *Server) handleRandomPrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := s.catalog.Random(r.PathValue("category"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": prompt})
}

func (s *Server) handleEmotion(w http.ResponseWriter, r *http.Request) {
	reply, err := s.catalog.Respond(r.PathValue("emotion"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, askResponse{Error: "request body must be JSON with a \"question\" field"})
		return
	}

	var history *chat.Log
	if req.Session != "" {
		history, _ = s.sessions.Get(req.Session)
	}
	if history != nil {
		history.Append(chat.SenderUser, req.Question)
	}

	resp, status := s.answer(r.Context(), req.Question, req.Emotion)
	if history != nil && resp.Answer != "" {
		history.Append(chat.SenderAssistant, resp.Answer)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, ok := s.sessions.Get(r.URL.Query().Get("session"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown session"})
		return
	}
	writeJSON(w, http.StatusOK, history.Turns())
}

// answer runs the pipeline and turns failures into something the widget can
// show. When the pipeline fails and an emotion is known, a canned response for
// that emotion is used instead.
func (s *Server) answer(ctx context.Context, question, emotion string) (askResponse, int) {
	answer, err := s.asker.Ask(ctx, question)
	if err == nil {
		return askResponse{Answer: answer.Text, Sources: answer.Sources}, http.StatusOK
	}

	if errors.Is(err, errs.ErrInvalidInput) && strings.TrimSpace(question) == "" {
		text := llm.EmptyQuestionReply
		if answer != nil && answer.Text != "" {
			text = answer.Text
		}
		return askResponse{Answer: text}, http.StatusBadRequest
	}

	log.Printf("server: answering %q failed: %v", question, err)

	resp := askResponse{Error: FriendlyMessage(err)}
	if emotion != "" {
		if reply, rerr := s.catalog.Respond(emotion); rerr == nil {
			resp.Answer = reply
			resp.Fallback = true
		}
	}
	return resp, http.StatusServiceUnavailable
}

// FriendlyMessage describes a pipeline failure without internal details.
func FriendlyMessage(err error) string {
	var (
		unavailable *errs.ModelUnavailableError
		embedding   *errs.EmbeddingError
		dimension   *errs.DimensionMismatchError
	)
	switch {
	case errors.As(err, &unavailable):
		return "The language model is not reachable right now. Please try again in a moment."
	case errors.As(err, &embedding):
		return "I couldn't read your question right now. Please try again in a moment."
	case errors.As(err, &dimension):
		return "The knowledge base was built with a different embedding model and needs to be rebuilt."
	case errors.Is(err, errs.ErrIO), errors.Is(err, errs.ErrStoreNotFound), errors.Is(err, errs.ErrStoreCorrupt), errors.Is(err, errs.ErrClosed):
		return "My knowledge base isn't available yet."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "That took too long. Please try again."
	default:
		return "Something went wrong while answering. Please try again."
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, history := s.sessions.Start()
	defer s.sessions.End(id)

	s.sendMessage(conn, Message{Type: "session", Content: id})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("server: error reading message: %v", err)
			}
			return
		}
		s.handleMessage(r.Context(), conn, history, msg)
	}
}

// handleMessage is called from the connection's read loop, so replies to one
// client are written in order.
func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, history *chat.Log, msg Message) {
	switch msg.Type {
	case "question":
		history.Append(chat.SenderUser, msg.Content)
		s.sendMessage(conn, Message{Type: "status", Content: "Thinking..."})

		resp, status := s.answer(ctx, msg.Content, msg.Emotion)
		if resp.Answer != "" {
			history.Append(chat.SenderAssistant, resp.Answer)
		}

		switch {
		case status == http.StatusOK:
			s.sendMessage(conn, Message{Type: "response", Content: resp.Answer, Data: resp.Sources})
		case resp.Fallback:
			s.sendMessage(conn, Message{Type: "response", Content: resp.Answer, Data: map[string]interface{}{"fallback": true, "error": resp.Error}})
		case resp.Error == "":
			s.sendMessage(conn, Message{Type: "response", Content: resp.Answer})
		default:
			s.sendMessage(conn, Message{Type: "error", Content: resp.Error})
		}

	case "emotion":
		reply, err := s.catalog.Respond(msg.Emotion)
		if err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: err.Error()})
			return
		}
		history.Append(chat.SenderAssistant, reply)
		s.sendMessage(conn, Message{Type: "response", Content: reply})

	case "prompt":
		prompt, err := s.catalog.Random(msg.Content)
		if err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: err.Error()})
			return
		}
		s.sendMessage(conn, Message{Type: "prompt", Content: prompt})

	default:
		s.sendMessage(conn, Message{Type: "error", Content: "unknown message type " + msg.Type})
	}
}

func (s *Server) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("server: error sending message: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: error encoding response: %v", err)
	}
}
