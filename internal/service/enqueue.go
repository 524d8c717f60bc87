package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voceria/kbpipeline/internal/domain"
)

// JobRepository is the job-queue persistence surface for enqueuing.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
}

// EnqueueItemRepository covers the item reads and writes enqueuing needs.
type EnqueueItemRepository interface {
	Create(ctx context.Context, item *domain.Item) error
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	UpdateStatus(ctx context.Context, id string, status domain.ItemStatus, errMsg string) error
	UpdateKeywordStatus(ctx context.Context, id string, status domain.KeywordStatus, errMsg string) error
}

// EnqueueService submits fire-and-forget pipeline jobs. Callers poll the
// item's persisted status for progress; there is no synchronous result.
type EnqueueService struct {
	items EnqueueItemRepository
	jobs  JobRepository
}

func NewEnqueueService(items EnqueueItemRepository, jobs JobRepository) *EnqueueService {
	return &EnqueueService{items: items, jobs: jobs}
}

// CreateItemInput describes a new item submitted through the API.
type CreateItemInput struct {
	KnowledgeBaseID string
	Kind            domain.ItemKind
	SourceURL       string
	SourceText      string
	FileRef         string
	FeedURLs        []string
	ChunkSize       int
	ChunkOverlap    int
}

// CreateItem persists a new item and enqueues its first ingestion job.
func (s *EnqueueService) CreateItem(ctx context.Context, input CreateItemInput) (*domain.Item, *domain.Job, error) {
	if input.Kind == domain.ItemKindFeedChild {
		return nil, nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			"feed children are created by their parent feed")
	}

	item := domain.NewItem(uuid.NewString(), input.KnowledgeBaseID, input.Kind, time.Now().UTC())
	item.SourceURL = input.SourceURL
	item.SourceText = input.SourceText
	item.FileRef = input.FileRef
	item.FeedURLs = input.FeedURLs
	item.ChunkSize = input.ChunkSize
	item.ChunkOverlap = input.ChunkOverlap

	if err := domain.ValidateItem(item); err != nil {
		return nil, nil, domain.NewDomainErrorWithCause(domain.ErrCodeInvalidInput, "invalid item", err)
	}

	if err := s.items.Create(ctx, item); err != nil {
		return nil, nil, fmt.Errorf("failed to create item: %w", err)
	}

	job, err := s.createJob(ctx, item.ID, domain.QueueIngest)
	if err != nil {
		return nil, nil, err
	}
	return item, job, nil
}

// EnqueueProcessItem submits an ingestion job for the item. The item
// re-enters pending, so a reprocessing request is indistinguishable from a
// first run.
func (s *EnqueueService) EnqueueProcessItem(ctx context.Context, itemID string) (*domain.Job, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if item.Kind == domain.ItemKindFeedChild {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidInput,
			"feed children are reprocessed through their parent feed")
	}

	if err := s.items.UpdateStatus(ctx, item.ID, domain.ItemStatusPending, ""); err != nil {
		return nil, fmt.Errorf("failed to reset item status: %w", err)
	}

	return s.createJob(ctx, item.ID, domain.QueueIngest)
}

// EnqueueExtractKeywords submits a keyword extraction job for the item.
func (s *EnqueueService) EnqueueExtractKeywords(ctx context.Context, itemID string) (*domain.Job, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if err := s.items.UpdateKeywordStatus(ctx, item.ID, domain.KeywordStatusPending, ""); err != nil {
		return nil, fmt.Errorf("failed to reset keyword status: %w", err)
	}

	return s.createJob(ctx, item.ID, domain.QueueKeywords)
}

// GetItem returns the item for status polling.
func (s *EnqueueService) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	return s.items.GetByID(ctx, itemID)
}

func (s *EnqueueService) createJob(ctx context.Context, itemID string, queue domain.JobQueue) (*domain.Job, error) {
	job := domain.NewJob(uuid.NewString(), itemID, queue, time.Now().UTC())
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create %s job: %w", queue, err)
	}
	return job, nil
}
