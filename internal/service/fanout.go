package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/retry"
	"github.com/voceria/kbpipeline/internal/telemetry"
)

// FeedFetcher retrieves the complete listing set for a feed item's source
// URLs, paginating internally.
type FeedFetcher interface {
	FetchAll(ctx context.Context, sourceURLs []string) ([]domain.ListingRecord, error)
}

// FeedItemRepository extends the item surface with the child operations the
// fan-out processor needs.
type FeedItemRepository interface {
	ItemRepository
	Create(ctx context.Context, item *domain.Item) error
	DeleteChildren(ctx context.Context, parentID string) (int64, error)
}

// FanoutResult reports how a fan-out run went. Per-listing failures are
// counted, not propagated; the parent's status reflects only whether the
// orchestration itself succeeded.
type FanoutResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// FanoutProcessor handles agent-feed parent items: it replaces all existing
// feed children, fetches the full listing set, and processes each listing
// independently so one bad record never blocks the rest of the feed.
type FanoutProcessor struct {
	items     FeedItemRepository
	chunks    ChunkRepository
	feed      FeedFetcher
	processor *Processor
	policy    retry.Policy
	batchSize int
}

func NewFanoutProcessor(
	items FeedItemRepository,
	chunks ChunkRepository,
	feed FeedFetcher,
	processor *Processor,
	policy retry.Policy,
) *FanoutProcessor {
	return &FanoutProcessor{
		items:     items,
		chunks:    chunks,
		feed:      feed,
		processor: processor,
		policy:    policy,
		batchSize: FeedBatchSize,
	}
}

// Process runs the fan-out pipeline for one agent-feed item id.
func (f *FanoutProcessor) Process(ctx context.Context, itemID string) (*FanoutResult, error) {
	parent, err := f.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if parent.Kind != domain.ItemKindAgentFeed {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			fmt.Sprintf("item %s is %q, not an agent feed", parent.ID, parent.Kind))
	}

	if err := f.items.UpdateStatus(ctx, parent.ID, domain.ItemStatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("failed to mark feed item processing: %w", err)
	}

	if f.feed == nil {
		return nil, f.fail(ctx, parent.ID, domain.NewDomainError(domain.ErrCodeInvalidConfiguration,
			"no feed scraper configured"))
	}

	if len(parent.FeedURLs) == 0 {
		return nil, f.fail(ctx, parent.ID, domain.ErrNoFeedSources)
	}

	// Full replace, not merge: every previous child (and its chunks) goes
	// before the new set is created.
	deleted, err := f.items.DeleteChildren(ctx, parent.ID)
	if err != nil {
		return nil, f.fail(ctx, parent.ID, domain.NewDomainErrorWithCause(
			domain.ErrCodePersistenceFailed, "failed to delete stale feed children", err))
	}
	if deleted > 0 {
		log.Printf("feed %s: deleted %d stale children", parent.ID, deleted)
	}

	var records []domain.ListingRecord
	err = retry.Do(ctx, f.policy, func(ctx context.Context) error {
		var fetchErr error
		records, fetchErr = f.feed.FetchAll(ctx, parent.FeedURLs)
		return fetchErr
	})
	if err != nil {
		return nil, f.fail(ctx, parent.ID, err)
	}

	result := &FanoutResult{Processed: len(records)}
	for i := range records {
		rec := &records[i]
		if err := f.processListing(ctx, parent, rec); err != nil {
			result.Failed++
			log.Printf("feed %s: listing %s failed: %v", parent.ID, listingRef(rec, i), err)
			telemetry.CaptureError(ctx, err)
			continue
		}
		result.Succeeded++
	}

	// The parent reflects the orchestration outcome; child failures are
	// reported through the counts and each child's own status.
	if err := f.items.UpdateStatus(ctx, parent.ID, domain.ItemStatusIndexed, ""); err != nil {
		return result, fmt.Errorf("failed to mark feed item indexed: %w", err)
	}

	log.Printf("feed %s: %d listings processed, %d succeeded, %d failed",
		parent.ID, result.Processed, result.Succeeded, result.Failed)
	return result, nil
}

// processListing creates and fully ingests one feed child. Errors are
// returned for counting; the child's own status records the failure.
func (f *FanoutProcessor) processListing(ctx context.Context, parent *domain.Item, rec *domain.ListingRecord) error {
	text := ListingText(rec)
	if strings.TrimSpace(text) == "" {
		return domain.NewDomainError(domain.ErrCodeExtractionFailed,
			"listing record has no usable fields for embedding text")
	}

	child := &domain.Item{
		ID:              uuid.NewString(),
		KnowledgeBaseID: parent.KnowledgeBaseID,
		ParentID:        parent.ID,
		Kind:            domain.ItemKindFeedChild,
		SourceURL:       rec.SourceURL,
		SourceText:      text,
		ChunkSize:       parent.ChunkSize,
		ChunkOverlap:    parent.ChunkOverlap,
		Status:          domain.ItemStatusProcessing,
		CreatedAt:       time.Now().UTC(),
	}

	if err := f.items.Create(ctx, child); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodePersistenceFailed,
			"failed to create feed child item", err)
	}

	meta := &domain.ChunkMetadata{Listing: rec}
	if err := f.processor.processLoaded(ctx, child, meta, f.batchSize); err != nil {
		if updateErr := f.items.UpdateStatus(ctx, child.ID, domain.ItemStatusFailed, err.Error()); updateErr != nil {
			log.Printf("feed child %s: failed to record failure status: %v", child.ID, updateErr)
		}
		return err
	}

	return f.items.UpdateStatus(ctx, child.ID, domain.ItemStatusIndexed, "")
}

// fail records the terminal failure on the parent item and re-raises err.
func (f *FanoutProcessor) fail(ctx context.Context, itemID string, err error) error {
	if updateErr := f.items.UpdateStatus(ctx, itemID, domain.ItemStatusFailed, err.Error()); updateErr != nil {
		log.Printf("feed %s: failed to record failure status: %v", itemID, updateErr)
	}
	return err
}

// listingRef names a listing for logs, preferring its external id.
func listingRef(rec *domain.ListingRecord, index int) string {
	if rec.ExternalID != "" {
		return rec.ExternalID
	}
	return fmt.Sprintf("#%d", index)
}
