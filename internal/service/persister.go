package service

import (
	"context"

	"github.com/voceria/kbpipeline/internal/domain"
)

// Batch sizes for chunk persistence. Feed fan-out uses the smaller size
// because many child items may be in flight on one constrained worker.
const (
	DefaultBatchSize = 50
	FeedBatchSize    = 10
)

// ChunkWriter persists one bounded batch of chunk records.
type ChunkWriter interface {
	InsertChunks(ctx context.Context, chunks []domain.Chunk) error
}

// ChunkSource yields chunks one at a time, possibly producing them lazily
// (e.g. embedding on demand). It returns (nil, nil) when exhausted.
type ChunkSource interface {
	Next(ctx context.Context) (*domain.Chunk, error)
}

// BatchPersister writes a chunk stream in fixed-size batches, sequentially,
// so peak memory is bounded by one batch's worth of vectors. It aborts on
// the first failed batch; already-written batches stay in place because the
// owning item is only marked indexed after every batch lands.
type BatchPersister struct {
	writer    ChunkWriter
	batchSize int
}

func NewBatchPersister(writer ChunkWriter, batchSize int) *BatchPersister {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &BatchPersister{writer: writer, batchSize: batchSize}
}

// Persist drains src into the writer. Returns the number of chunks written.
func (p *BatchPersister) Persist(ctx context.Context, src ChunkSource) (int, error) {
	written := 0
	batch := make([]domain.Chunk, 0, p.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.InsertChunks(ctx, batch); err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodePersistenceFailed,
				"failed to persist chunk batch", err)
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			return written, err
		}
		if chunk == nil {
			break
		}

		batch = append(batch, *chunk)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}

	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}
