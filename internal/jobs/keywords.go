package jobs

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/service"
)

// DefaultKeywordConcurrency bounds how many keyword jobs run at once. The
// keyword queue is wider than ingestion because each job is one LLM call.
const DefaultKeywordConcurrency = 5

// KeywordRunner runs the keyword extraction task for one item.
type KeywordRunner interface {
	Extract(ctx context.Context, itemID string) error
}

// KeywordWorker claims keyword jobs and runs the extraction task. The task
// retries internally with its own backoff budget, so a job that comes back
// failed is terminal and is not requeued.
type KeywordWorker struct {
	repo        JobQueueRepository
	runner      KeywordRunner
	concurrency int
}

func NewKeywordWorker(repo JobQueueRepository, runner KeywordRunner, concurrency int) *KeywordWorker {
	if concurrency <= 0 {
		concurrency = DefaultKeywordConcurrency
	}
	return &KeywordWorker{
		repo:        repo,
		runner:      runner,
		concurrency: concurrency,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *KeywordWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, domain.QueueKeywords, w.concurrency)
	if err != nil {
		return fmt.Errorf("failed to claim pending keyword jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("processing %d keyword jobs", len(jobs))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := w.processJob(ctx, job); err != nil {
				log.Printf("error processing keyword job %s: %v", job.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *KeywordWorker) processJob(ctx context.Context, job *domain.Job) error {
	if err := w.runner.Extract(ctx, job.ItemID); err != nil {
		status := domain.JobStatusFailed
		if service.IsNotFound(err) {
			log.Printf("keyword job %s references missing item %s", job.ID, job.ItemID)
		}
		return w.repo.UpdateStatus(ctx, job.ID, status, err.Error())
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("keyword job %s completed for item %s", job.ID, job.ItemID)
	return nil
}
