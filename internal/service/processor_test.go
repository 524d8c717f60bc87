package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/openai"
	"github.com/voceria/kbpipeline/internal/retry"
)

type MockItemRepository struct {
	mock.Mock
}

func (m *MockItemRepository) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Item), args.Error(1)
}

func (m *MockItemRepository) UpdateStatus(ctx context.Context, id string, status domain.ItemStatus, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

type MockChunkRepository struct {
	mock.Mock
}

func (m *MockChunkRepository) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *MockChunkRepository) DeleteByItem(ctx context.Context, itemID string) error {
	args := m.Called(ctx, itemID)
	return args.Error(0)
}

type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedText(ctx context.Context, text string) (*openai.EmbeddingResult, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openai.EmbeddingResult), args.Error(1)
}

// fastPolicy keeps retry backoff out of test wall time.
func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:   2,
		TransientBase: time.Millisecond,
		TransientCap:  time.Millisecond,
		RateLimitBase: time.Millisecond,
		RateLimitCap:  time.Millisecond,
	}
}

func newTestProcessor(items *MockItemRepository, chunks *MockChunkRepository, embedder *MockEmbedder) *Processor {
	return NewProcessor(
		items,
		chunks,
		NewExtractor(nil, nil),
		NewChunker(nil),
		embedder,
		fastPolicy(),
		ProcessorConfig{BatchSize: 10, EmbedWorkers: 2},
	)
}

func textItem(id string) *domain.Item {
	item := domain.NewItem(id, "kb1", domain.ItemKindText, time.Now().UTC())
	item.SourceText = strings.Repeat("relevant reference content. ", 20)
	return item
}

func TestProcessor_Process_IndexesTextItem(t *testing.T) {
	items := new(MockItemRepository)
	chunks := new(MockChunkRepository)
	embedder := new(MockEmbedder)

	item := textItem("i1")
	items.On("GetByID", mock.Anything, "i1").Return(item, nil)

	var statuses []domain.ItemStatus
	items.On("UpdateStatus", mock.Anything, "i1", mock.Anything, "").Run(func(args mock.Arguments) {
		statuses = append(statuses, args.Get(2).(domain.ItemStatus))
	}).Return(nil)

	chunks.On("DeleteByItem", mock.Anything, "i1").Return(nil)

	var inserted []domain.Chunk
	chunks.On("InsertChunks", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		inserted = append(inserted, args.Get(1).([]domain.Chunk)...)
	}).Return(nil)

	embedder.On("EmbedText", mock.Anything, mock.Anything).
		Return(&openai.EmbeddingResult{Vector: []float32{0.1, 0.2}, TokenCount: 7}, nil)

	p := newTestProcessor(items, chunks, embedder)
	require.NoError(t, p.Process(context.Background(), "i1"))

	assert.Equal(t, []domain.ItemStatus{domain.ItemStatusProcessing, domain.ItemStatusIndexed}, statuses)
	require.NotEmpty(t, inserted)
	for i, ch := range inserted {
		assert.Equal(t, "i1", ch.ItemID)
		assert.Equal(t, "kb1", ch.KnowledgeBaseID)
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, len(inserted), ch.ChunkTotal)
		assert.Equal(t, []float32{0.1, 0.2}, ch.Embedding)
		assert.Equal(t, 7, ch.TokenCount)
		assert.NotEmpty(t, ch.ID)
	}
}

func TestProcessor_Process_DeletesOldChunksBeforeInsert(t *testing.T) {
	items := new(MockItemRepository)
	chunks := new(MockChunkRepository)
	embedder := new(MockEmbedder)

	items.On("GetByID", mock.Anything, "i1").Return(textItem("i1"), nil)
	items.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	embedder.On("EmbedText", mock.Anything, mock.Anything).
		Return(&openai.EmbeddingResult{Vector: []float32{0.5}}, nil)

	var calls []string
	chunks.On("DeleteByItem", mock.Anything, "i1").Run(func(mock.Arguments) {
		calls = append(calls, "delete")
	}).Return(nil)
	chunks.On("InsertChunks", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		calls = append(calls, "insert")
	}).Return(nil)

	p := newTestProcessor(items, chunks, embedder)
	require.NoError(t, p.Process(context.Background(), "i1"))

	require.NotEmpty(t, calls)
	assert.Equal(t, "delete", calls[0])
	assert.NotContains(t, calls[1:], "delete")
}

func TestProcessor_Process_UnknownItemSkipsStatusWrites(t *testing.T) {
	items := new(MockItemRepository)
	items.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrItemNotFound)

	p := newTestProcessor(items, new(MockChunkRepository), new(MockEmbedder))
	err := p.Process(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	assert.True(t, IsNotFound(err))
	items.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_Process_RejectsAgentFeed(t *testing.T) {
	items := new(MockItemRepository)
	feed := domain.NewItem("f1", "kb1", domain.ItemKindAgentFeed, time.Now().UTC())
	items.On("GetByID", mock.Anything, "f1").Return(feed, nil)

	p := newTestProcessor(items, new(MockChunkRepository), new(MockEmbedder))
	err := p.Process(context.Background(), "f1")

	assert.Equal(t, domain.ErrCodeInvalidInput, domain.ErrorCode(err))
	items.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_Process_ExtractionFailureMarksFailed(t *testing.T) {
	items := new(MockItemRepository)

	item := domain.NewItem("i1", "kb1", domain.ItemKindText, time.Now().UTC())
	items.On("GetByID", mock.Anything, "i1").Return(item, nil)
	items.On("UpdateStatus", mock.Anything, "i1", domain.ItemStatusProcessing, "").Return(nil)
	items.On("UpdateStatus", mock.Anything, "i1", domain.ItemStatusFailed, mock.Anything).Return(nil)

	p := newTestProcessor(items, new(MockChunkRepository), new(MockEmbedder))
	err := p.Process(context.Background(), "i1")

	assert.Equal(t, domain.ErrCodeExtractionFailed, domain.ErrorCode(err))
	items.AssertCalled(t, "UpdateStatus", mock.Anything, "i1", domain.ItemStatusFailed, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	}))
	items.AssertNotCalled(t, "UpdateStatus", mock.Anything, "i1", domain.ItemStatusIndexed, mock.Anything)
}

func TestProcessor_Process_EmbedExhaustionMarksFailed(t *testing.T) {
	items := new(MockItemRepository)
	chunks := new(MockChunkRepository)
	embedder := new(MockEmbedder)

	items.On("GetByID", mock.Anything, "i1").Return(textItem("i1"), nil)
	items.On("UpdateStatus", mock.Anything, "i1", domain.ItemStatusProcessing, "").Return(nil)
	items.On("UpdateStatus", mock.Anything, "i1", domain.ItemStatusFailed, mock.Anything).Return(nil)
	chunks.On("DeleteByItem", mock.Anything, "i1").Return(nil)
	embedder.On("EmbedText", mock.Anything, mock.Anything).Return(nil, errors.New("upstream timeout"))

	p := newTestProcessor(items, chunks, embedder)
	err := p.Process(context.Background(), "i1")

	assert.Equal(t, domain.ErrCodeRetriesExhausted, domain.ErrorCode(err))
	chunks.AssertNotCalled(t, "InsertChunks", mock.Anything, mock.Anything)
	items.AssertCalled(t, "UpdateStatus", mock.Anything, "i1", domain.ItemStatusFailed, mock.Anything)
}

func TestProcessor_Process_FileKindMarksFailed(t *testing.T) {
	items := new(MockItemRepository)

	item := domain.NewItem("i1", "kb1", domain.ItemKindFile, time.Now().UTC())
	item.FileRef = "uploads/report.pdf"
	items.On("GetByID", mock.Anything, "i1").Return(item, nil)
	items.On("UpdateStatus", mock.Anything, "i1", domain.ItemStatusProcessing, "").Return(nil)
	items.On("UpdateStatus", mock.Anything, "i1", domain.ItemStatusFailed, mock.Anything).Return(nil)

	p := newTestProcessor(items, new(MockChunkRepository), new(MockEmbedder))
	err := p.Process(context.Background(), "i1")

	assert.ErrorIs(t, err, domain.ErrFileKindUnsupported)
}
