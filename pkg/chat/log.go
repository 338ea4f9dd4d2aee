package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xhad/mindease/internal/models"
)

const (
	SenderUser      = "You"
	SenderAssistant = "MindEase"
)

// Log is an in-memory conversation. It is never persisted.
type Log struct {
	mu    sync.Mutex
	turns []models.Turn
	now   func() time.Time
}

func NewLog() *Log {
	return &Log{now: time.Now}
}

func (l *Log) Append(sender, text string) models.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	turn := models.Turn{Sender: sender, Text: text, At: l.now()}
	l.turns = append(l.turns, turn)
	return turn
}

// Turns returns a copy of the conversation in order.
func (l *Log) Turns() []models.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

func (l *Log) Clear() {
	l.mu.Lock()
	l.turns = nil
	l.mu.Unlock()
}

// Sessions maps session IDs to their conversation logs.
type Sessions struct {
	mu   sync.RWMutex
	logs map[string]*Log
}

func NewSessions() *Sessions {
	return &Sessions{logs: make(map[string]*Log)}
}

// Start creates an empty log under a new session ID.
func (s *Sessions) Start() (string, *Log) {
	id := uuid.NewString()
	log := NewLog()

	s.mu.Lock()
	s.logs[id] = log
	s.mu.Unlock()
	return id, log
}

func (s *Sessions) Get(id string) (*Log, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[id]
	return log, ok
}

// End drops the session's log.
func (s *Sessions) End(id string) {
	s.mu.Lock()
	delete(s.logs, id)
	s.mu.Unlock()
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
