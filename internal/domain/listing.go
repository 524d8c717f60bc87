package domain

// ListingRecord is one record from a bulk external listing feed. The typed
// fields cover the signal used for embedding text synthesis; Raw retains the
// complete upstream record and is stored as chunk metadata.
type ListingRecord struct {
	ExternalID  string         `json:"external_id"`
	Title       string         `json:"title"`
	Address     string         `json:"address"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Price       string         `json:"price"`
	Counts      map[string]int `json:"counts,omitempty"`
	Features    []string       `json:"features,omitempty"`
	SourceURL   string         `json:"source_url,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}
