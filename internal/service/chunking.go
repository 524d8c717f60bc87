package service

import (
	"strings"

	"github.com/voceria/kbpipeline/internal/domain"
)

// ChunkConfig controls how extracted text is split for embedding. Spans are
// measured in runes so boundaries are deterministic for any input; the model
// token count of each span is recorded separately.
type ChunkConfig struct {
	Size    int // span length in runes
	Overlap int // runes repeated between consecutive spans
}

// DefaultChunkConfig provides the pipeline defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Size:    domain.DefaultChunkSize,
		Overlap: domain.DefaultChunkOverlap,
	}
}

// TextChunk is one span produced by the chunker, before embedding.
type TextChunk struct {
	Content    string
	Index      int
	Total      int
	TokenCount int
}

// TokenCounter reports how many model tokens a span encodes to. The count is
// stored alongside each chunk; it does not influence span boundaries.
type TokenCounter interface {
	Count(text string) int
}

// Chunker splits raw text into overlapping fixed-size spans. Span positions
// are rune-based so that concatenating spans with the overlap removed
// reconstructs the input exactly.
type Chunker struct {
	tokens TokenCounter
}

func NewChunker(tokens TokenCounter) *Chunker {
	return &Chunker{tokens: tokens}
}

// Split produces the ordered chunk sequence for text. Every chunk carries
// its index and the shared total; chunk i+1 repeats exactly cfg.Overlap
// runes of chunk i, except possibly the final chunk, which is anchored to
// the end of the input.
func (c *Chunker) Split(text string, cfg ChunkConfig) ([]TextChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyText
	}
	if cfg.Size <= 0 || cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, domain.ErrInvalidChunkParams
	}

	runes := []rune(text)
	step := cfg.Size - cfg.Overlap

	var chunks []TextChunk
	for start := 0; ; start += step {
		end := start + cfg.Size
		if end > len(runes) {
			end = len(runes)
		}

		content := string(runes[start:end])
		chunks = append(chunks, TextChunk{
			Content:    content,
			Index:      len(chunks),
			TokenCount: c.countTokens(content),
		})

		if end == len(runes) {
			break
		}
	}

	for i := range chunks {
		chunks[i].Total = len(chunks)
	}

	return chunks, nil
}

func (c *Chunker) countTokens(text string) int {
	if c.tokens == nil {
		return len([]rune(text))
	}
	return c.tokens.Count(text)
}
