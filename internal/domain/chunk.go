package domain

import "time"

// Chunk represents a contiguous span of an item's extracted text, embedded
// independently. The (ItemID, ChunkIndex) pair is unique; reprocessing
// replaces the full set rather than overwriting individual rows.
type Chunk struct {
	ID              string
	ItemID          string
	KnowledgeBaseID string // denormalized from the parent item for fast lookup
	Content         string
	ChunkIndex      int
	ChunkTotal      int
	TokenCount      int
	Embedding       []float32
	Metadata        *ChunkMetadata
	CreatedAt       time.Time
}

// ChunkMetadata carries source-kind-specific context for a chunk. Listing is
// set for feed-child chunks and holds the full structured feed record; Extra
// absorbs any payload that does not fit a known shape.
type ChunkMetadata struct {
	Listing *ListingRecord `json:"listing,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}
