package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/voceria/kbpipeline/internal/domain"
)

// MockKeywordRunner is a mock implementation of KeywordRunner
type MockKeywordRunner struct {
	mock.Mock
}

func (m *MockKeywordRunner) Extract(ctx context.Context, itemID string) error {
	args := m.Called(ctx, itemID)
	return args.Error(0)
}

func keywordJob(id, itemID string) *domain.Job {
	return domain.NewJob(id, itemID, domain.QueueKeywords, time.Now().UTC())
}

func TestKeywordWorker_ProcessJobs_NoPendingJobs(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockRunner := new(MockKeywordRunner)

	mockRepo.On("ClaimPending", mock.Anything, domain.QueueKeywords, 5).Return([]*domain.Job{}, nil)

	worker := NewKeywordWorker(mockRepo, mockRunner, 5)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockRunner.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func TestKeywordWorker_ProcessJobs_Success(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockRunner := new(MockKeywordRunner)

	mockRepo.On("ClaimPending", mock.Anything, domain.QueueKeywords, 5).
		Return([]*domain.Job{keywordJob("job-1", "item-1")}, nil)
	mockRunner.On("Extract", mock.Anything, "item-1").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusCompleted, "").Return(nil)

	worker := NewKeywordWorker(mockRepo, mockRunner, 5)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockRunner.AssertExpectations(t)
}

// TestKeywordWorker_ProcessJobs_FailureIsTerminal verifies a failed keyword
// job is never requeued: the task already exhausted its own retry budget.
func TestKeywordWorker_ProcessJobs_FailureIsTerminal(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockRunner := new(MockKeywordRunner)

	mockRepo.On("ClaimPending", mock.Anything, domain.QueueKeywords, 5).
		Return([]*domain.Job{keywordJob("job-1", "item-1")}, nil)
	mockRunner.On("Extract", mock.Anything, "item-1").Return(errors.New("model overloaded"))
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusFailed, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	})).Return(nil)

	worker := NewKeywordWorker(mockRepo, mockRunner, 5)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "IncrementRetries", mock.Anything, mock.Anything)
	mockRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, "job-1", domain.JobStatusPending, mock.Anything)
}

func TestKeywordWorker_ProcessJobs_MissingItemFails(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockRunner := new(MockKeywordRunner)

	mockRepo.On("ClaimPending", mock.Anything, domain.QueueKeywords, 5).
		Return([]*domain.Job{keywordJob("job-1", "gone")}, nil)
	mockRunner.On("Extract", mock.Anything, "gone").Return(domain.ErrItemNotFound)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusFailed, mock.Anything).Return(nil)

	worker := NewKeywordWorker(mockRepo, mockRunner, 5)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestKeywordWorker_ProcessJobs_ClaimError(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)

	mockRepo.On("ClaimPending", mock.Anything, domain.QueueKeywords, 5).
		Return(nil, errors.New("database error"))

	worker := NewKeywordWorker(mockRepo, new(MockKeywordRunner), 5)
	err := worker.ProcessJobs(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to claim pending keyword jobs")
	mockRepo.AssertExpectations(t)
}

func TestNewKeywordWorker_DefaultConcurrency(t *testing.T) {
	worker := NewKeywordWorker(new(MockJobQueueRepository), new(MockKeywordRunner), -1)
	assert.Equal(t, DefaultKeywordConcurrency, worker.concurrency)
}
