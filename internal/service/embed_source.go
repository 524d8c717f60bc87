package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/openai"
	"github.com/voceria/kbpipeline/internal/retry"
)

// EmbeddingClient generates one embedding vector per text span.
type EmbeddingClient interface {
	EmbedText(ctx context.Context, text string) (*openai.EmbeddingResult, error)
}

// embedSource lazily turns text chunks into embedded chunk records. Chunks
// are embedded in small groups bounded by workers, never unbounded fan-out,
// and each chunk's embedding call retries independently of its siblings.
// Results are yielded strictly in index order.
type embedSource struct {
	item    *domain.Item
	texts   []TextChunk
	meta    *domain.ChunkMetadata
	client  EmbeddingClient
	policy  retry.Policy
	workers int

	pos    int // next text chunk to embed
	buf    []domain.Chunk
	bufPos int
}

func newEmbedSource(
	item *domain.Item,
	texts []TextChunk,
	meta *domain.ChunkMetadata,
	client EmbeddingClient,
	policy retry.Policy,
	workers int,
) *embedSource {
	if workers <= 0 {
		workers = 1
	}
	return &embedSource{
		item:    item,
		texts:   texts,
		meta:    meta,
		client:  client,
		policy:  policy,
		workers: workers,
	}
}

// Next implements ChunkSource.
func (s *embedSource) Next(ctx context.Context) (*domain.Chunk, error) {
	if s.bufPos >= len(s.buf) {
		if err := s.fillBuffer(ctx); err != nil {
			return nil, err
		}
		if len(s.buf) == 0 {
			return nil, nil
		}
	}

	chunk := s.buf[s.bufPos]
	s.bufPos++
	return &chunk, nil
}

// fillBuffer embeds the next group of up to workers chunks concurrently.
// Order within the group is preserved by indexed writes.
func (s *embedSource) fillBuffer(ctx context.Context) error {
	s.buf = nil
	s.bufPos = 0

	remaining := len(s.texts) - s.pos
	if remaining == 0 {
		return nil
	}

	n := s.workers
	if n > remaining {
		n = remaining
	}

	group := s.texts[s.pos : s.pos+n]
	results := make([]domain.Chunk, n)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, tc := range group {
		g.Go(func() error {
			var embedded *openai.EmbeddingResult
			err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
				var embedErr error
				embedded, embedErr = s.client.EmbedText(ctx, tc.Content)
				return embedErr
			})
			if err != nil {
				return err
			}

			tokenCount := tc.TokenCount
			if embedded.TokenCount > 0 {
				tokenCount = embedded.TokenCount
			}

			results[i] = domain.Chunk{
				ID:              uuid.NewString(),
				ItemID:          s.item.ID,
				KnowledgeBaseID: s.item.KnowledgeBaseID,
				Content:         tc.Content,
				ChunkIndex:      tc.Index,
				ChunkTotal:      tc.Total,
				TokenCount:      tokenCount,
				Embedding:       embedded.Vector,
				Metadata:        s.meta,
				CreatedAt:       time.Now().UTC(),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	s.pos += n
	s.buf = results
	return nil
}
