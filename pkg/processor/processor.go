package processor

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/xhad/mindease/internal/models"
	"github.com/xhad/mindease/pkg/errs"
)

const (
	StrategyFixed     = "fixed"
	StrategyRecursive = "recursive"
)

type ProcessorConfig struct {
	Strategy        string
	ChunkSize       int
	ChunkOverlap    int
	RemoveStopwords bool
	CustomStopwords []string
}

type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.TextSplitter
	stop     map[string]bool
}

// NewWithConfig validates the chunking parameters. Sizes are counted in runes.
func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.Strategy == "" {
		config.Strategy = StrategyFixed
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.ChunkSize < 0 || config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", errs.ErrInvalidInput, config.ChunkOverlap, config.ChunkSize)
	}

	p := &Processor{config: config}

	switch config.Strategy {
	case StrategyFixed:
	case StrategyRecursive:
		p.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
		)
	default:
		return nil, fmt.Errorf("%w: unknown chunking strategy %q", errs.ErrInvalidInput, config.Strategy)
	}

	if config.RemoveStopwords {
		p.stop = make(map[string]bool)
		for _, w := range getStopwords() {
			p.stop[w] = true
		}
		for _, w := range config.CustomStopwords {
			p.stop[strings.ToLower(w)] = true
		}
	}

	return p, nil
}

// Process splits every document into chunks. The output depends only on the
// documents and the configuration.
func (p *Processor) Process(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk

	for _, doc := range docs {
		texts, err := p.split(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", doc.ID, err)
		}

		for i, text := range texts {
			metadata := make(map[string]any, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata["chunk_index"] = i

			chunks = append(chunks, models.Chunk{
				ID:         fmt.Sprintf("%s:%d", doc.ID, i),
				DocumentID: doc.ID,
				Source:     doc.Source,
				Index:      i,
				Text:       text,
				Metadata:   metadata,
			})
		}
	}

	return chunks, nil
}

func (p *Processor) split(content string) ([]string, error) {
	if p.config.Strategy == StrategyRecursive {
		text := strings.TrimSpace(content)
		if p.stop != nil {
			text = p.removeStopwords(text)
		}
		if text == "" {
			return nil, nil
		}
		return p.splitter.SplitText(text)
	}

	return p.splitIntoChunks(p.cleanText(content)), nil
}

func (p *Processor) cleanText(text string) string {
	// Replace runs of whitespace with a single space
	text = strings.Join(strings.Fields(text), " ")

	if p.stop != nil {
		text = p.removeStopwords(text)
	}

	return text
}

// splitIntoChunks cuts text into windows of ChunkSize runes, each starting
// ChunkSize-ChunkOverlap runes after its predecessor. The last window ends at
// the end of the text.
func (p *Processor) splitIntoChunks(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	size := p.config.ChunkSize
	stride := size - p.config.ChunkOverlap

	var chunks []string
	for start := 0; ; start += stride {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks
}

func (p *Processor) removeStopwords(text string) string {
	words := strings.Fields(text)
	filtered := words[:0]

	for _, word := range words {
		if !p.stop[strings.ToLower(word)] {
			filtered = append(filtered, word)
		}
	}

	return strings.Join(filtered, " ")
}

// Common English stopwords
func getStopwords() []string {
	return []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with",
	}
}
