package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/voceria/kbpipeline/internal/domain"
)

// ChunkRepository handles persistence of embedded chunk records.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// InsertChunks writes one batch of chunks in a single round trip.
func (r *ChunkRepository) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		var metadata []byte
		if c.Metadata != nil {
			encoded, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode chunk metadata: %w", err)
			}
			metadata = encoded
		}

		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		batch.Queue(
			`INSERT INTO kb_chunks
				(id, item_id, knowledge_base_id, content, chunk_index, chunk_total,
				 token_count, embedding, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID,
			c.ItemID,
			c.KnowledgeBaseID,
			c.Content,
			c.ChunkIndex,
			c.ChunkTotal,
			c.TokenCount,
			pgvector.NewVector(c.Embedding),
			metadata,
			createdAt,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range chunks {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByItem removes every chunk belonging to one item.
func (r *ChunkRepository) DeleteByItem(ctx context.Context, itemID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM kb_chunks WHERE item_id = $1`, itemID)
	return err
}

// ListContentByItem returns the stored chunk content for an item in index
// order, for keyword extraction.
func (r *ChunkRepository) ListContentByItem(ctx context.Context, itemID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT content FROM kb_chunks WHERE item_id = $1 ORDER BY chunk_index ASC`,
		itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contents []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		contents = append(contents, content)
	}
	return contents, rows.Err()
}

// CountByItem returns how many chunks an item currently has.
func (r *ChunkRepository) CountByItem(ctx context.Context, itemID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM kb_chunks WHERE item_id = $1`, itemID).Scan(&count)
	return count, err
}
