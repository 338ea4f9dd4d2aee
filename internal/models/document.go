package models

import "time"

// Document is the raw text of one source file, or one page of a paginated file.
type Document struct {
	ID       string
	Source   string
	Content  string
	Metadata map[string]any
}

// Chunk is a bounded span of a Document's text and the unit of retrieval.
type Chunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Source     string         `json:"source"`
	Index      int            `json:"index"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ScoredChunk is a retrieved chunk and its distance to the query vector.
type ScoredChunk struct {
	Chunk
	Distance float64 `json:"distance"`
}

// StoreMeta describes a persisted vector store.
type StoreMeta struct {
	Model      string
	Dimension  int
	ChunkCount int
	CreatedAt  time.Time
}

// Turn is one message in a conversation.
type Turn struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}
