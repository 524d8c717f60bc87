package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/service"
)

// MockJobQueueRepository is a mock implementation of JobQueueRepository
type MockJobQueueRepository struct {
	mock.Mock
}

func (m *MockJobQueueRepository) ClaimPending(ctx context.Context, queue domain.JobQueue, limit int) ([]*domain.Job, error) {
	args := m.Called(ctx, queue, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Job), args.Error(1)
}

func (m *MockJobQueueRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *MockJobQueueRepository) IncrementRetries(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockItemLoader is a mock implementation of ItemLoader
type MockItemLoader struct {
	mock.Mock
}

func (m *MockItemLoader) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Item), args.Error(1)
}

// MockItemProcessor is a mock implementation of ItemProcessor
type MockItemProcessor struct {
	mock.Mock
}

func (m *MockItemProcessor) Process(ctx context.Context, itemID string) error {
	args := m.Called(ctx, itemID)
	return args.Error(0)
}

// MockFeedProcessor is a mock implementation of FeedProcessor
type MockFeedProcessor struct {
	mock.Mock
}

func (m *MockFeedProcessor) Process(ctx context.Context, itemID string) (*service.FanoutResult, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.FanoutResult), args.Error(1)
}

func pendingJob(id, itemID string, retries int32) *domain.Job {
	job := domain.NewJob(id, itemID, domain.QueueIngest, time.Now().UTC())
	job.Retries = retries
	return job
}

func TestIngestWorker_ProcessJobs_NoPendingJobs(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockItems := new(MockItemLoader)
	mockProcessor := new(MockItemProcessor)

	mockRepo.On("ClaimPending", mock.Anything, domain.QueueIngest, 2).Return([]*domain.Job{}, nil)

	worker := NewIngestWorker(mockRepo, mockItems, mockProcessor, new(MockFeedProcessor), 2)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockProcessor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestIngestWorker_ProcessJobs_Success(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockItems := new(MockItemLoader)
	mockProcessor := new(MockItemProcessor)

	item := domain.NewItem("item-1", "kb-1", domain.ItemKindText, time.Now().UTC())
	mockRepo.On("ClaimPending", mock.Anything, domain.QueueIngest, 2).
		Return([]*domain.Job{pendingJob("job-1", "item-1", 0)}, nil)
	mockItems.On("GetByID", mock.Anything, "item-1").Return(item, nil)
	mockProcessor.On("Process", mock.Anything, "item-1").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusCompleted, "").Return(nil)

	worker := NewIngestWorker(mockRepo, mockItems, mockProcessor, new(MockFeedProcessor), 2)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
}

func TestIngestWorker_ProcessJobs_RoutesAgentFeedToFanout(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockItems := new(MockItemLoader)
	mockProcessor := new(MockItemProcessor)
	mockFanout := new(MockFeedProcessor)

	feed := domain.NewItem("feed-1", "kb-1", domain.ItemKindAgentFeed, time.Now().UTC())
	feed.FeedURLs = []string{"https://feeds.example.com/boats"}

	mockRepo.On("ClaimPending", mock.Anything, domain.QueueIngest, 2).
		Return([]*domain.Job{pendingJob("job-1", "feed-1", 0)}, nil)
	mockItems.On("GetByID", mock.Anything, "feed-1").Return(feed, nil)
	mockFanout.On("Process", mock.Anything, "feed-1").
		Return(&service.FanoutResult{Processed: 2, Succeeded: 2}, nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusCompleted, "").Return(nil)

	worker := NewIngestWorker(mockRepo, mockItems, mockProcessor, mockFanout, 2)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockFanout.AssertExpectations(t)
	mockProcessor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestIngestWorker_ProcessJobs_MissingItemFailsWithoutRetry(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockItems := new(MockItemLoader)

	mockRepo.On("ClaimPending", mock.Anything, domain.QueueIngest, 2).
		Return([]*domain.Job{pendingJob("job-1", "gone", 0)}, nil)
	mockItems.On("GetByID", mock.Anything, "gone").Return(nil, domain.ErrItemNotFound)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusFailed, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	})).Return(nil)

	worker := NewIngestWorker(mockRepo, mockItems, new(MockItemProcessor), new(MockFeedProcessor), 2)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "IncrementRetries", mock.Anything, mock.Anything)
}

func TestIngestWorker_ProcessJobs_FailureWithRetry(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockItems := new(MockItemLoader)
	mockProcessor := new(MockItemProcessor)

	item := domain.NewItem("item-1", "kb-1", domain.ItemKindText, time.Now().UTC())
	mockRepo.On("ClaimPending", mock.Anything, domain.QueueIngest, 2).
		Return([]*domain.Job{pendingJob("job-1", "item-1", 0)}, nil)
	mockItems.On("GetByID", mock.Anything, "item-1").Return(item, nil)
	mockProcessor.On("Process", mock.Anything, "item-1").Return(errors.New("embedding failed"))
	mockRepo.On("IncrementRetries", mock.Anything, "job-1").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusPending, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	})).Return(nil)

	worker := NewIngestWorker(mockRepo, mockItems, mockProcessor, new(MockFeedProcessor), 2)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestIngestWorker_ProcessJobs_MaxRetriesExceeded(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockItems := new(MockItemLoader)
	mockProcessor := new(MockItemProcessor)

	item := domain.NewItem("item-1", "kb-1", domain.ItemKindText, time.Now().UTC())
	mockRepo.On("ClaimPending", mock.Anything, domain.QueueIngest, 2).
		Return([]*domain.Job{pendingJob("job-1", "item-1", MaxRetries-1)}, nil)
	mockItems.On("GetByID", mock.Anything, "item-1").Return(item, nil)
	mockProcessor.On("Process", mock.Anything, "item-1").Return(errors.New("embedding failed"))
	mockRepo.On("IncrementRetries", mock.Anything, "job-1").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusFailed, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	})).Return(nil)

	worker := NewIngestWorker(mockRepo, mockItems, mockProcessor, new(MockFeedProcessor), 2)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestIngestWorker_ProcessJobs_MultipleJobs(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)
	mockItems := new(MockItemLoader)
	mockProcessor := new(MockItemProcessor)

	jobs := []*domain.Job{
		pendingJob("job-1", "item-1", 0),
		pendingJob("job-2", "item-2", 0),
	}
	mockRepo.On("ClaimPending", mock.Anything, domain.QueueIngest, 2).Return(jobs, nil)

	for _, id := range []string{"item-1", "item-2"} {
		item := domain.NewItem(id, "kb-1", domain.ItemKindText, time.Now().UTC())
		mockItems.On("GetByID", mock.Anything, id).Return(item, nil)
		mockProcessor.On("Process", mock.Anything, id).Return(nil)
	}
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusCompleted, "").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-2", domain.JobStatusCompleted, "").Return(nil)

	worker := NewIngestWorker(mockRepo, mockItems, mockProcessor, new(MockFeedProcessor), 2)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
}

func TestIngestWorker_ProcessJobs_ClaimError(t *testing.T) {
	mockRepo := new(MockJobQueueRepository)

	mockRepo.On("ClaimPending", mock.Anything, domain.QueueIngest, 2).
		Return(nil, errors.New("database error"))

	worker := NewIngestWorker(mockRepo, new(MockItemLoader), new(MockItemProcessor), new(MockFeedProcessor), 2)
	err := worker.ProcessJobs(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to claim pending ingest jobs")
	mockRepo.AssertExpectations(t)
}

func TestNewIngestWorker_DefaultConcurrency(t *testing.T) {
	worker := NewIngestWorker(new(MockJobQueueRepository), new(MockItemLoader), new(MockItemProcessor), new(MockFeedProcessor), 0)
	assert.Equal(t, DefaultIngestConcurrency, worker.concurrency)
}
