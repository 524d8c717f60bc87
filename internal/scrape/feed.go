package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voceria/kbpipeline/internal/domain"
)

// DefaultFeedPageSize is how many listings one feed page request asks for.
const DefaultFeedPageSize = 100

// FeedClient fetches bulk listing feeds from the external listing scraper.
// The service paginates; FetchAll walks pages until the reported total is
// reached.
type FeedClient struct {
	endpoint string
	apiKey   string
	pageSize int
	httpc    *http.Client
}

type FeedClientConfig struct {
	Endpoint string
	APIKey   string
	PageSize int
	Timeout  time.Duration
}

func NewFeedClient(cfg FeedClientConfig) *FeedClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultFeedPageSize
	}
	return &FeedClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		pageSize: pageSize,
		httpc:    &http.Client{Timeout: timeout},
	}
}

type feedPage struct {
	Total    int               `json:"total"`
	Listings []json.RawMessage `json:"listings"`
}

// FetchAll retrieves the complete listing set across all configured source
// URLs, paginating each source until its reported total is reached.
func (c *FeedClient) FetchAll(ctx context.Context, sourceURLs []string) ([]domain.ListingRecord, error) {
	if len(sourceURLs) == 0 {
		return nil, domain.ErrNoFeedSources
	}

	var all []domain.ListingRecord
	for _, source := range sourceURLs {
		records, err := c.fetchSource(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch feed source %s: %w", source, err)
		}
		all = append(all, records...)
	}
	return all, nil
}

func (c *FeedClient) fetchSource(ctx context.Context, source string) ([]domain.ListingRecord, error) {
	var records []domain.ListingRecord
	for page := 1; ; page++ {
		fp, err := c.fetchPage(ctx, source, page)
		if err != nil {
			return nil, err
		}

		for _, raw := range fp.Listings {
			rec, err := decodeListing(raw)
			if err != nil {
				return nil, domain.NewDomainErrorWithCause(domain.ErrCodePermanent,
					"malformed listing in feed response", err)
			}
			if rec.SourceURL == "" {
				rec.SourceURL = source
			}
			records = append(records, rec)
		}

		if len(fp.Listings) == 0 || len(records) >= fp.Total {
			break
		}
	}
	return records, nil
}

func (c *FeedClient) fetchPage(ctx context.Context, source string, page int) (*feedPage, error) {
	q := url.Values{}
	q.Set("url", source)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(c.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/listings?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "feed request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, "feed scraper"); err != nil {
		return nil, err
	}

	var fp feedPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&fp); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to decode feed response", err)
	}
	return &fp, nil
}

// decodeListing parses one raw feed record. Typed fields are picked from the
// known shape; the full record is retained in Raw for chunk metadata.
func decodeListing(raw json.RawMessage) (domain.ListingRecord, error) {
	var rec domain.ListingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, err
	}

	var full map[string]any
	if err := json.Unmarshal(raw, &full); err != nil {
		return rec, err
	}
	rec.Raw = full

	if rec.ExternalID == "" {
		if id, ok := full["id"].(string); ok {
			rec.ExternalID = id
		}
	}

	return rec, nil
}
