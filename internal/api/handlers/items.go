package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voceria/kbpipeline/internal/api"
	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/service"
)

type ItemService interface {
	CreateItem(ctx context.Context, input service.CreateItemInput) (*domain.Item, *domain.Job, error)
	EnqueueProcessItem(ctx context.Context, itemID string) (*domain.Job, error)
	EnqueueExtractKeywords(ctx context.Context, itemID string) (*domain.Job, error)
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)
}

type ItemHandler struct {
	svc ItemService
}

func NewItemHandler(svc ItemService) *ItemHandler {
	return &ItemHandler{svc: svc}
}

type CreateItemRequest struct {
	KnowledgeBaseID string   `json:"knowledge_base_id"`
	Kind            string   `json:"kind"`
	SourceURL       string   `json:"source_url,omitempty"`
	SourceText      string   `json:"source_text,omitempty"`
	FileRef         string   `json:"file_ref,omitempty"`
	FeedURLs        []string `json:"feed_urls,omitempty"`
	ChunkSize       int      `json:"chunk_size,omitempty"`
	ChunkOverlap    int      `json:"chunk_overlap,omitempty"`
}

type ItemResponse struct {
	ID              string   `json:"id"`
	KnowledgeBaseID string   `json:"knowledge_base_id"`
	ParentID        string   `json:"parent_id,omitempty"`
	Kind            string   `json:"kind"`
	Status          string   `json:"status"`
	Error           string   `json:"error,omitempty"`
	KeywordStatus   string   `json:"keyword_status,omitempty"`
	KeywordError    string   `json:"keyword_error,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	CreatedAt       string   `json:"created_at"`
	LastSyncedAt    string   `json:"last_synced_at,omitempty"`
}

type JobResponse struct {
	JobID  string `json:"job_id"`
	ItemID string `json:"item_id"`
	Queue  string `json:"queue"`
	Status string `json:"status"`
}

func itemToResponse(item *domain.Item) *ItemResponse {
	resp := &ItemResponse{
		ID:              item.ID,
		KnowledgeBaseID: item.KnowledgeBaseID,
		ParentID:        item.ParentID,
		Kind:            string(item.Kind),
		Status:          string(item.Status),
		Error:           item.LastError,
		KeywordStatus:   string(item.KeywordStatus),
		KeywordError:    item.KeywordError,
		Keywords:        item.Keywords,
		CreatedAt:       item.CreatedAt.Format(time.RFC3339),
	}
	if item.LastSyncedAt != nil {
		resp.LastSyncedAt = item.LastSyncedAt.Format(time.RFC3339)
	}
	return resp
}

func jobToResponse(job *domain.Job) *JobResponse {
	return &JobResponse{
		JobID:  job.ID,
		ItemID: job.ItemID,
		Queue:  string(job.Queue),
		Status: string(job.Status),
	}
}

// Create registers a new item and enqueues its first ingestion job.
func (h *ItemHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.KnowledgeBaseID == "" {
		api.Error(w, http.StatusBadRequest, "knowledge_base_id is required")
		return
	}
	if req.Kind == "" {
		api.Error(w, http.StatusBadRequest, "kind is required")
		return
	}

	input := service.CreateItemInput{
		KnowledgeBaseID: req.KnowledgeBaseID,
		Kind:            domain.ItemKind(req.Kind),
		SourceURL:       req.SourceURL,
		SourceText:      req.SourceText,
		FileRef:         req.FileRef,
		FeedURLs:        req.FeedURLs,
		ChunkSize:       req.ChunkSize,
		ChunkOverlap:    req.ChunkOverlap,
	}

	item, job, err := h.svc.CreateItem(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, map[string]interface{}{
		"item": itemToResponse(item),
		"job":  jobToResponse(job),
	})
}

// Get returns the item's ingestion and keyword status for polling.
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	item, err := h.svc.GetItem(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, itemToResponse(item))
}

// Process enqueues an ingestion job for the item. The call returns once the
// job is queued; callers poll the item status for the outcome.
func (h *ItemHandler) Process(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	job, err := h.svc.EnqueueProcessItem(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, jobToResponse(job))
}

// Keywords enqueues a keyword extraction job for the item.
func (h *ItemHandler) Keywords(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	job, err := h.svc.EnqueueExtractKeywords(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, jobToResponse(job))
}
