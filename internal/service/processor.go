package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/retry"
)

// ItemRepository is the item persistence surface the processors consume.
type ItemRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Item, error)

	// UpdateStatus transitions an item. The repository clears the stored
	// error on processing and indexed, records errMsg on failed, and stamps
	// the last-synced time on indexed.
	UpdateStatus(ctx context.Context, id string, status domain.ItemStatus, errMsg string) error
}

// ChunkRepository is the chunk persistence surface the processors consume.
type ChunkRepository interface {
	ChunkWriter
	DeleteByItem(ctx context.Context, itemID string) error
}

// Processor drives one item through the ingestion pipeline:
// extract → chunk → embed → persist, with the status machine
// pending → processing → {indexed, failed}.
type Processor struct {
	items        ItemRepository
	chunks       ChunkRepository
	extractor    *Extractor
	chunker      *Chunker
	embedder     EmbeddingClient
	policy       retry.Policy
	batchSize    int
	embedWorkers int
}

type ProcessorConfig struct {
	BatchSize    int
	EmbedWorkers int
}

func NewProcessor(
	items ItemRepository,
	chunks ChunkRepository,
	extractor *Extractor,
	chunker *Chunker,
	embedder EmbeddingClient,
	policy retry.Policy,
	cfg ProcessorConfig,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = 4
	}
	return &Processor{
		items:        items,
		chunks:       chunks,
		extractor:    extractor,
		chunker:      chunker,
		embedder:     embedder,
		policy:       policy,
		batchSize:    cfg.BatchSize,
		embedWorkers: cfg.EmbedWorkers,
	}
}

// Process runs the full pipeline for one item id. Any stage failure
// transitions the item to failed with the triggering message and is
// returned so the job runner can apply its own retry.
func (p *Processor) Process(ctx context.Context, itemID string) error {
	item, err := p.items.GetByID(ctx, itemID)
	if err != nil {
		// No status update is possible for an unknown item.
		return err
	}

	if item.Kind == domain.ItemKindAgentFeed {
		return domain.NewDomainError(domain.ErrCodeInvalidInput,
			"agent-feed items are processed by the fan-out processor")
	}

	if err := p.items.UpdateStatus(ctx, item.ID, domain.ItemStatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark item processing: %w", err)
	}

	if err := p.processLoaded(ctx, item, nil, p.batchSize); err != nil {
		return p.fail(ctx, item.ID, err)
	}

	if err := p.items.UpdateStatus(ctx, item.ID, domain.ItemStatusIndexed, ""); err != nil {
		return fmt.Errorf("failed to mark item indexed: %w", err)
	}

	return nil
}

// processLoaded runs extract → chunk → embed → persist for an already-loaded
// item whose status is processing. Callers own the terminal transition.
func (p *Processor) processLoaded(ctx context.Context, item *domain.Item, meta *domain.ChunkMetadata, batchSize int) error {
	text, err := p.extractor.ExtractText(ctx, item)
	if err != nil {
		return err
	}

	size, overlap := item.ChunkParams()
	texts, err := p.chunker.Split(text, ChunkConfig{Size: size, Overlap: overlap})
	if err != nil {
		return err
	}

	// Full replace: the old chunk set goes before the first new batch lands.
	if err := p.chunks.DeleteByItem(ctx, item.ID); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodePersistenceFailed,
			"failed to delete existing chunks", err)
	}

	src := newEmbedSource(item, texts, meta, p.embedder, p.policy, p.embedWorkers)
	persister := NewBatchPersister(p.chunks, batchSize)

	written, err := persister.Persist(ctx, src)
	if err != nil {
		return err
	}

	log.Printf("item %s: persisted %d chunks", item.ID, written)
	return nil
}

// fail records the terminal failure on the item and re-raises err.
func (p *Processor) fail(ctx context.Context, itemID string, err error) error {
	if updateErr := p.items.UpdateStatus(ctx, itemID, domain.ItemStatusFailed, err.Error()); updateErr != nil {
		log.Printf("item %s: failed to record failure status: %v", itemID, updateErr)
	}
	return err
}

// IsNotFound reports whether err means the referenced item does not exist.
// NotFound on initial load is unrecoverable and is not retried at the job
// level.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrItemNotFound) ||
		domain.ErrorCode(err) == domain.ErrCodeNotFound
}
