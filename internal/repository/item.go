package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voceria/kbpipeline/internal/domain"
)

// ItemRepository handles persistence of knowledge base items.
type ItemRepository struct {
	db dbtx
}

func NewItemRepository(pool *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{db: pool}
}

func NewItemRepositoryWithTx(tx pgx.Tx) *ItemRepository {
	return &ItemRepository{db: tx}
}

const itemColumns = `id, knowledge_base_id, parent_id, kind, source_url, source_text, file_ref,
	 feed_urls, chunk_size, chunk_overlap, status, error, keyword_status, keyword_error,
	 keywords, created_at, last_synced_at`

func (r *ItemRepository) Create(ctx context.Context, item *domain.Item) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO kb_items
			(id, knowledge_base_id, parent_id, kind, source_url, source_text, file_ref,
			 feed_urls, chunk_size, chunk_overlap, status, error, keyword_status, keyword_error,
			 keywords, created_at, last_synced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		item.ID,
		item.KnowledgeBaseID,
		nullableString(item.ParentID),
		item.Kind,
		nullableString(item.SourceURL),
		nullableString(item.SourceText),
		nullableString(item.FileRef),
		item.FeedURLs,
		item.ChunkSize,
		item.ChunkOverlap,
		item.Status,
		nullableString(item.LastError),
		nullableString(string(item.KeywordStatus)),
		nullableString(item.KeywordError),
		item.Keywords,
		item.CreatedAt,
		item.LastSyncedAt,
	)
	return err
}

func (r *ItemRepository) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM kb_items WHERE id = $1`, id)

	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// UpdateStatus transitions an item through the ingestion status machine.
// processing and indexed clear the stored error; indexed also stamps the
// last-synced time; failed records errMsg.
func (r *ItemRepository) UpdateStatus(ctx context.Context, id string, status domain.ItemStatus, errMsg string) error {
	var cmdTag pgconn.CommandTag
	var err error

	switch status {
	case domain.ItemStatusIndexed:
		cmdTag, err = r.db.Exec(ctx,
			`UPDATE kb_items SET status = $1, error = NULL, last_synced_at = $2 WHERE id = $3`,
			status, time.Now().UTC(), id)
	case domain.ItemStatusFailed:
		cmdTag, err = r.db.Exec(ctx,
			`UPDATE kb_items SET status = $1, error = $2 WHERE id = $3`,
			status, nullableString(errMsg), id)
	default:
		cmdTag, err = r.db.Exec(ctx,
			`UPDATE kb_items SET status = $1, error = NULL WHERE id = $2`,
			status, id)
	}
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// UpdateKeywordStatus transitions the independent keyword status machine.
// Keyword failures live in keyword_error; the shared error column belongs to
// ingestion and is never touched here, so an indexed item stays error-free
// regardless of keyword outcomes.
func (r *ItemRepository) UpdateKeywordStatus(ctx context.Context, id string, status domain.KeywordStatus, errMsg string) error {
	var cmdTag pgconn.CommandTag
	var err error

	if status == domain.KeywordStatusFailed {
		cmdTag, err = r.db.Exec(ctx,
			`UPDATE kb_items SET keyword_status = $1, keyword_error = $2 WHERE id = $3`,
			status, nullableString(errMsg), id)
	} else {
		cmdTag, err = r.db.Exec(ctx,
			`UPDATE kb_items SET keyword_status = $1, keyword_error = NULL WHERE id = $2`,
			status, id)
	}
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// SetKeywords stores the extracted keyword list and marks the task completed.
func (r *ItemRepository) SetKeywords(ctx context.Context, id string, keywords []string) error {
	if keywords == nil {
		keywords = []string{}
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE kb_items SET keywords = $1, keyword_status = $2, keyword_error = NULL WHERE id = $3`,
		keywords, domain.KeywordStatusCompleted, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// DeleteChildren removes all feed-child items of a parent. Their chunks go
// with them via the FK cascade. Returns the number of children deleted.
func (r *ItemRepository) DeleteChildren(ctx context.Context, parentID string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM kb_items WHERE parent_id = $1`, parentID)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// ListChildren returns the feed-child items of a parent, oldest first.
func (r *ItemRepository) ListChildren(ctx context.Context, parentID string) ([]*domain.Item, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+itemColumns+` FROM kb_items WHERE parent_id = $1 ORDER BY created_at ASC`,
		parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.Item, error) {
	var item domain.Item
	var parentID, sourceURL, sourceText, fileRef, lastError, keywordStatus, keywordError *string

	err := row.Scan(
		&item.ID,
		&item.KnowledgeBaseID,
		&parentID,
		&item.Kind,
		&sourceURL,
		&sourceText,
		&fileRef,
		&item.FeedURLs,
		&item.ChunkSize,
		&item.ChunkOverlap,
		&item.Status,
		&lastError,
		&keywordStatus,
		&keywordError,
		&item.Keywords,
		&item.CreatedAt,
		&item.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID != nil {
		item.ParentID = *parentID
	}
	if sourceURL != nil {
		item.SourceURL = *sourceURL
	}
	if sourceText != nil {
		item.SourceText = *sourceText
	}
	if fileRef != nil {
		item.FileRef = *fileRef
	}
	if lastError != nil {
		item.LastError = *lastError
	}
	if keywordStatus != nil {
		item.KeywordStatus = domain.KeywordStatus(*keywordStatus)
	}
	if keywordError != nil {
		item.KeywordError = *keywordError
	}

	return &item, nil
}
