// Package scrape holds the HTTP clients for the external scraping services:
// a rendering scraper for single pages, a plain fetch-and-strip fallback, and
// the paginated bulk listing feed client.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/retry"
)

// DefaultTimeout bounds every scrape call.
const DefaultTimeout = 45 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Page is the result of a rich scrape: cleaned main-content markdown and/or
// the rendered HTML.
type Page struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

// Text returns the page's content as plain text, preferring markdown.
func (p *Page) Text() string {
	if md := strings.TrimSpace(p.Markdown); md != "" {
		return md
	}
	return strings.TrimSpace(StripHTML(p.HTML))
}

// Client calls the rendering scrape service for one page. The service
// renders JavaScript and returns cleaned main-content markup.
type Client struct {
	endpoint string
	apiKey   string
	httpc    *http.Client
}

type ClientConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		httpc:    &http.Client{Timeout: timeout},
	}
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

// Scrape fetches one page through the rendering service.
func (c *Client) Scrape(ctx context.Context, url string) (*Page, error) {
	body, err := json.Marshal(scrapeRequest{URL: url, Formats: []string{"markdown", "html"}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "scrape request failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, "scrape service"); err != nil {
		return nil, err
	}

	var page Page
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&page); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to decode scrape response", err)
	}

	return &page, nil
}

// classifyStatus maps a non-2xx response into the pipeline error taxonomy.
func classifyStatus(resp *http.Response, who string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if d, ok := retry.ParseRetryAfter(resp.Header.Get("Retry-After")); ok {
			retryAfter = d
		}
		return domain.NewRateLimitError(retryAfter,
			fmt.Errorf("%s responded %d", who, resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return domain.NewDomainError(domain.ErrCodePermanent,
			fmt.Sprintf("%s responded %d", who, resp.StatusCode))
	default:
		return domain.NewDomainError(domain.ErrCodeTransient,
			fmt.Sprintf("%s responded %d", who, resp.StatusCode))
	}
}
