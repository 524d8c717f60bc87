package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voceria/kbpipeline/internal/domain"
)

// JobRepository handles the durable pipeline job queue.
type JobRepository struct {
	db dbtx
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: pool}
}

func NewJobRepositoryWithTx(tx pgx.Tx) *JobRepository {
	return &JobRepository{db: tx}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO pipeline_jobs (id, item_id, queue, status, retries, error, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.ItemID, job.Queue, job.Status, job.Retries,
		nullableString(job.Error), job.CreatedAt, job.ProcessedAt,
	)
	return err
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	var errMsg pgtype.Text
	err := r.db.QueryRow(ctx,
		`SELECT id, item_id, queue, status, retries, error, created_at, processed_at
		 FROM pipeline_jobs WHERE id = $1`,
		id,
	).Scan(&job.ID, &job.ItemID, &job.Queue, &job.Status, &job.Retries, &errMsg, &job.CreatedAt, &job.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}

// ClaimPending atomically claims up to limit pending jobs on one queue,
// flipping them to processing. SKIP LOCKED keeps concurrent runners from
// claiming the same rows, which also prevents two simultaneous reprocessing
// runs for the same enqueued job.
func (r *JobRepository) ClaimPending(ctx context.Context, queue domain.JobQueue, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM pipeline_jobs
			 WHERE status = $1 AND queue = $2
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $3
		 )
		 UPDATE pipeline_jobs
		 SET status = $4,
		     error = NULL,
		     processed_at = NULL
		 FROM cte
		 WHERE pipeline_jobs.id = cte.id
		 RETURNING pipeline_jobs.id, pipeline_jobs.item_id, pipeline_jobs.queue, pipeline_jobs.status,
		           pipeline_jobs.retries, pipeline_jobs.error, pipeline_jobs.created_at, pipeline_jobs.processed_at`,
		domain.JobStatusPending, queue, limit, domain.JobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		var job domain.Job
		var errMsg pgtype.Text
		if err := rows.Scan(&job.ID, &job.ItemID, &job.Queue, &job.Status, &job.Retries, &errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			job.Error = errMsg.String
		}
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error {
	var processedAt *time.Time
	if status == domain.JobStatusCompleted || status == domain.JobStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE pipeline_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), processedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *JobRepository) IncrementRetries(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE pipeline_jobs SET retries = retries + 1 WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}
