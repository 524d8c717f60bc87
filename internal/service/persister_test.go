package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/voceria/kbpipeline/internal/domain"
)

type MockChunkWriter struct {
	mock.Mock
}

func (m *MockChunkWriter) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

// sliceSource feeds a fixed chunk slice through the ChunkSource interface.
type sliceSource struct {
	chunks []domain.Chunk
	pos    int
	err    error
	errAt  int
}

func (s *sliceSource) Next(ctx context.Context) (*domain.Chunk, error) {
	if s.err != nil && s.pos == s.errAt {
		return nil, s.err
	}
	if s.pos >= len(s.chunks) {
		return nil, nil
	}
	c := s.chunks[s.pos]
	s.pos++
	return &c, nil
}

func makeChunks(n int) []domain.Chunk {
	chunks := make([]domain.Chunk, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			ID:         fmt.Sprintf("chunk-%d", i),
			ItemID:     "item-1",
			Content:    fmt.Sprintf("content %d", i),
			ChunkIndex: i,
			ChunkTotal: n,
		}
	}
	return chunks
}

func TestBatchPersister_FlushesInBatchSizes(t *testing.T) {
	writer := new(MockChunkWriter)
	var batchSizes []int
	writer.On("InsertChunks", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		batchSizes = append(batchSizes, len(args.Get(1).([]domain.Chunk)))
	}).Return(nil)

	p := NewBatchPersister(writer, 10)
	written, err := p.Persist(context.Background(), &sliceSource{chunks: makeChunks(25)})

	require.NoError(t, err)
	assert.Equal(t, 25, written)
	assert.Equal(t, []int{10, 10, 5}, batchSizes)
}

func TestBatchPersister_ExactMultipleHasNoEmptyFlush(t *testing.T) {
	writer := new(MockChunkWriter)
	calls := 0
	writer.On("InsertChunks", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		calls++
	}).Return(nil)

	p := NewBatchPersister(writer, 5)
	written, err := p.Persist(context.Background(), &sliceSource{chunks: makeChunks(10)})

	require.NoError(t, err)
	assert.Equal(t, 10, written)
	assert.Equal(t, 2, calls)
}

func TestBatchPersister_EmptySource(t *testing.T) {
	writer := new(MockChunkWriter)

	p := NewBatchPersister(writer, 10)
	written, err := p.Persist(context.Background(), &sliceSource{})

	require.NoError(t, err)
	assert.Zero(t, written)
	writer.AssertNotCalled(t, "InsertChunks", mock.Anything, mock.Anything)
}

func TestBatchPersister_WriterFailureAborts(t *testing.T) {
	writer := new(MockChunkWriter)
	writer.On("InsertChunks", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	p := NewBatchPersister(writer, 5)
	written, err := p.Persist(context.Background(), &sliceSource{chunks: makeChunks(20)})

	require.Error(t, err)
	assert.Equal(t, domain.ErrCodePersistenceFailed, domain.ErrorCode(err))
	assert.Zero(t, written)
	writer.AssertNumberOfCalls(t, "InsertChunks", 1)
}

func TestBatchPersister_SourceFailurePropagates(t *testing.T) {
	writer := new(MockChunkWriter)
	writer.On("InsertChunks", mock.Anything, mock.Anything).Return(nil)

	srcErr := errors.New("embed failed")
	src := &sliceSource{chunks: makeChunks(12), err: srcErr, errAt: 7}

	p := NewBatchPersister(writer, 5)
	written, err := p.Persist(context.Background(), src)

	assert.ErrorIs(t, err, srcErr)
	// The first full batch landed before the source failed.
	assert.Equal(t, 5, written)
}

func TestBatchPersister_DefaultBatchSize(t *testing.T) {
	p := NewBatchPersister(new(MockChunkWriter), 0)
	assert.Equal(t, DefaultBatchSize, p.batchSize)
}
