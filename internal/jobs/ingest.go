package jobs

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/service"
	"github.com/voceria/kbpipeline/internal/telemetry"
)

const (
	// MaxRetries is the job-level retry budget, distinct from the in-call
	// retry policy the pipeline applies to individual external calls.
	MaxRetries = 3

	// DefaultIngestConcurrency bounds how many ingestion jobs run at once.
	DefaultIngestConcurrency = 2
)

// JobQueueRepository defines the interface for job queue persistence
type JobQueueRepository interface {
	// ClaimPending atomically claims pending jobs on one queue
	ClaimPending(ctx context.Context, queue domain.JobQueue, limit int) ([]*domain.Job, error)

	// UpdateStatus updates the status of a job
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, id string) error
}

// ItemLoader resolves an item so the dispatcher can route by kind.
type ItemLoader interface {
	GetByID(ctx context.Context, id string) (*domain.Item, error)
}

// ItemProcessor runs the single-item ingestion pipeline.
type ItemProcessor interface {
	Process(ctx context.Context, itemID string) error
}

// FeedProcessor runs the fan-out pipeline for agent-feed items.
type FeedProcessor interface {
	Process(ctx context.Context, itemID string) (*service.FanoutResult, error)
}

// IngestWorker claims ingestion jobs and dispatches each to the single-item
// or fan-out processor depending on the item's kind.
type IngestWorker struct {
	repo        JobQueueRepository
	items       ItemLoader
	processor   ItemProcessor
	fanout      FeedProcessor
	concurrency int
}

func NewIngestWorker(repo JobQueueRepository, items ItemLoader, processor ItemProcessor, fanout FeedProcessor, concurrency int) *IngestWorker {
	if concurrency <= 0 {
		concurrency = DefaultIngestConcurrency
	}
	return &IngestWorker{
		repo:        repo,
		items:       items,
		processor:   processor,
		fanout:      fanout,
		concurrency: concurrency,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, domain.QueueIngest, w.concurrency)
	if err != nil {
		return fmt.Errorf("failed to claim pending ingest jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("processing %d ingest jobs", len(jobs))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := w.processJob(ctx, job); err != nil {
				log.Printf("error processing ingest job %s: %v", job.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *IngestWorker) processJob(ctx context.Context, job *domain.Job) error {
	item, err := w.items.GetByID(ctx, job.ItemID)
	if err != nil {
		if service.IsNotFound(err) {
			// No amount of retrying materializes a missing item.
			return w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, err.Error())
		}
		return w.handleJobFailure(ctx, job, err)
	}

	ctx, span := telemetry.StartSpan(ctx, "jobs.ingest", telemetry.SpanAttributes{
		ItemID:          item.ID,
		KnowledgeBaseID: item.KnowledgeBaseID,
		Queue:           string(domain.QueueIngest),
	})
	defer span.End()

	var processErr error
	if item.Kind == domain.ItemKindAgentFeed {
		_, processErr = w.fanout.Process(ctx, item.ID)
	} else {
		processErr = w.processor.Process(ctx, item.ID)
	}

	if processErr != nil {
		span.SetError(processErr)
		return w.handleJobFailure(ctx, job, processErr)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("ingest job %s completed for item %s", job.ID, item.ID)
	return nil
}

// handleJobFailure applies the job-level retry budget: the job re-enters
// pending until MaxRetries, then lands failed.
func (w *IngestWorker) handleJobFailure(ctx context.Context, job *domain.Job, jobErr error) error {
	log.Printf("ingest job %s failed: %v", job.ID, jobErr)

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		log.Printf("ingest job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Printf("ingest job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
