// Package testutil provides in-process stand-ins for the hosted models.
package testutil

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// FakeModel is an llms.Model that records every prompt it receives.
type FakeModel struct {
	Reply string
	Err   error

	mu      sync.Mutex
	prompts []string
}

func (m *FakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompts = append(m.prompts, text.Text)
			}
		}
	}
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.Reply}}}, nil
}

func (m *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Calls returns how many prompts the model has received.
func (m *FakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// LastPrompt returns the most recent prompt, or "" if none.
func (m *FakeModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// StubEmbedder maps known texts to fixed vectors and hashes everything else.
// It satisfies types.Embedder.
type StubEmbedder struct {
	Dim     int
	Name    string
	Vectors map[string][]float32
	Err     error

	mu    sync.Mutex
	calls int
}

func (e *StubEmbedder) vector(text string) []float32 {
	if v, ok := e.Vectors[text]; ok {
		return v
	}
	return HashVector(text, e.Dim)
}

func (e *StubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.count()
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *StubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.count()
	if e.Err != nil {
		return nil, e.Err
	}
	return e.vector(text), nil
}

func (e *StubEmbedder) Dimension(ctx context.Context) (int, error) {
	if e.Err != nil {
		return 0, e.Err
	}
	return e.Dim, nil
}

func (e *StubEmbedder) Model() string {
	if e.Name == "" {
		return "stub"
	}
	return e.Name
}

// Calls returns how many embedding requests were made.
func (e *StubEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *StubEmbedder) count() {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
}

// HashVector derives a deterministic vector of length dim from text.
func HashVector(text string, dim int) []float32 {
	out := make([]float32, dim)
	for i := range out {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		out[i] = float32(h.Sum32()%1000)/500 - 1
	}
	return out
}
