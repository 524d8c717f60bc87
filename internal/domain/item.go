package domain

import (
	"fmt"
	"time"
)

// ItemKind represents the source kind of a knowledge base item
type ItemKind string

const (
	ItemKindURL       ItemKind = "url"
	ItemKindText      ItemKind = "text"
	ItemKindFile      ItemKind = "file"
	ItemKindAgentFeed ItemKind = "agent-feed"
	ItemKindFeedChild ItemKind = "feed-child"
)

// ItemStatus represents the ingestion status of a knowledge base item
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusIndexed    ItemStatus = "indexed"
	ItemStatusFailed     ItemStatus = "failed"
)

// KeywordStatus represents the status of the keyword extraction task.
// The empty string means extraction has never been requested.
type KeywordStatus string

const (
	KeywordStatusNone       KeywordStatus = ""
	KeywordStatusPending    KeywordStatus = "pending"
	KeywordStatusProcessing KeywordStatus = "processing"
	KeywordStatusCompleted  KeywordStatus = "completed"
	KeywordStatusFailed     KeywordStatus = "failed"
)

// Default chunking parameters applied when an item does not configure its own.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

// Item represents one unit of ingestible content in a knowledge base.
// An agent-feed item never holds chunks itself; only its feed-child
// descendants do.
type Item struct {
	ID              string
	KnowledgeBaseID string
	ParentID        string // non-empty only for feed-child items
	Kind            ItemKind
	SourceURL       string
	SourceText      string
	FileRef         string
	FeedURLs        []string
	ChunkSize       int
	ChunkOverlap    int
	Status          ItemStatus
	LastError       string
	KeywordStatus   KeywordStatus
	KeywordError    string
	Keywords        []string
	CreatedAt       time.Time
	LastSyncedAt    *time.Time
}

// ChunkParams returns the item's chunking parameters, falling back to the
// pipeline defaults when unset.
func (i *Item) ChunkParams() (size, overlap int) {
	size = i.ChunkSize
	overlap = i.ChunkOverlap
	if size <= 0 {
		size = DefaultChunkSize
		overlap = DefaultChunkOverlap
	}
	return size, overlap
}

// NewItem creates a new Item in the pending state.
func NewItem(id, knowledgeBaseID string, kind ItemKind, createdAt time.Time) *Item {
	return &Item{
		ID:              id,
		KnowledgeBaseID: knowledgeBaseID,
		Kind:            kind,
		Status:          ItemStatusPending,
		CreatedAt:       createdAt,
	}
}

// ValidateItem validates an Item instance
func ValidateItem(i *Item) error {
	if i == nil {
		return fmt.Errorf("item cannot be nil")
	}

	if i.ID == "" {
		return fmt.Errorf("item ID is required")
	}

	if i.KnowledgeBaseID == "" {
		return fmt.Errorf("item KnowledgeBaseID is required")
	}

	if !isValidItemKind(i.Kind) {
		return fmt.Errorf("item Kind is invalid: %s", i.Kind)
	}

	if !isValidItemStatus(i.Status) {
		return fmt.Errorf("item Status is invalid: %s", i.Status)
	}

	if !isValidKeywordStatus(i.KeywordStatus) {
		return fmt.Errorf("item KeywordStatus is invalid: %s", i.KeywordStatus)
	}

	switch i.Kind {
	case ItemKindFeedChild:
		if i.ParentID == "" {
			return fmt.Errorf("feed-child item requires a ParentID")
		}
	case ItemKindAgentFeed:
		if len(i.FeedURLs) == 0 {
			return fmt.Errorf("agent-feed item requires at least one feed URL")
		}
	}

	if i.Kind != ItemKindFeedChild && i.ParentID != "" {
		return fmt.Errorf("only feed-child items may have a ParentID")
	}

	if i.ChunkSize < 0 || i.ChunkOverlap < 0 {
		return fmt.Errorf("chunk parameters cannot be negative")
	}
	if i.ChunkSize > 0 && i.ChunkOverlap >= i.ChunkSize {
		return fmt.Errorf("chunk overlap (%d) must be smaller than chunk size (%d)", i.ChunkOverlap, i.ChunkSize)
	}

	return nil
}

// isValidItemKind checks if an ItemKind is valid
func isValidItemKind(k ItemKind) bool {
	switch k {
	case ItemKindURL, ItemKindText, ItemKindFile, ItemKindAgentFeed, ItemKindFeedChild:
		return true
	}
	return false
}

// isValidItemStatus checks if an ItemStatus is valid
func isValidItemStatus(s ItemStatus) bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusIndexed, ItemStatusFailed:
		return true
	}
	return false
}

// isValidKeywordStatus checks if a KeywordStatus is valid
func isValidKeywordStatus(s KeywordStatus) bool {
	switch s {
	case KeywordStatusNone, KeywordStatusPending, KeywordStatusProcessing,
		KeywordStatusCompleted, KeywordStatusFailed:
		return true
	}
	return false
}
