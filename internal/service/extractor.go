package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/scrape"
)

// descriptionExcerptLimit bounds how much of a long listing description is
// carried into the synthesized embedding text. The full record is retained
// as chunk metadata instead.
const descriptionExcerptLimit = 600

// PageScraper is the rich scrape path: renders JavaScript and returns
// cleaned main-content markup.
type PageScraper interface {
	Scrape(ctx context.Context, url string) (*scrape.Page, error)
}

// PageFetcher is the fallback path: plain fetch with markup stripped.
type PageFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Extractor produces the raw text for a knowledge base item, independent of
// downstream chunking.
type Extractor struct {
	scraper PageScraper
	fetcher PageFetcher
}

func NewExtractor(scraper PageScraper, fetcher PageFetcher) *Extractor {
	return &Extractor{scraper: scraper, fetcher: fetcher}
}

// ExtractText returns a non-empty text string for the item, or an error
// classified per the item's source kind.
func (e *Extractor) ExtractText(ctx context.Context, item *domain.Item) (string, error) {
	switch item.Kind {
	case domain.ItemKindURL:
		return e.extractURL(ctx, item.SourceURL)

	case domain.ItemKindText, domain.ItemKindFeedChild:
		// Feed children store their synthesized text at creation time, so
		// reprocessing takes the same path as literal text.
		text := strings.TrimSpace(item.SourceText)
		if text == "" {
			return "", domain.NewDomainError(domain.ErrCodeExtractionFailed, "item has no stored text")
		}
		return text, nil

	case domain.ItemKindFile:
		return "", domain.ErrFileKindUnsupported

	default:
		return "", domain.NewDomainError(domain.ErrCodeExtractionFailed,
			fmt.Sprintf("cannot extract text for item kind %q", item.Kind))
	}
}

// extractURL attempts the rendering scraper first and falls back to a plain
// fetch when the scrape fails or yields nothing.
func (e *Extractor) extractURL(ctx context.Context, url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", domain.NewDomainError(domain.ErrCodeExtractionFailed, "item has no source URL")
	}

	var scrapeErr error
	if e.scraper != nil {
		page, err := e.scraper.Scrape(ctx, url)
		if err == nil {
			if text := page.Text(); text != "" {
				return text, nil
			}
			scrapeErr = fmt.Errorf("scrape of %s returned empty content", url)
		} else {
			scrapeErr = err
		}
		log.Printf("rich scrape failed for %s, falling back to basic fetch: %v", url, scrapeErr)
	}

	if e.fetcher == nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeExtractionFailed,
			"scrape failed and no fallback fetcher configured", scrapeErr)
	}

	text, err := e.fetcher.FetchText(ctx, url)
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeExtractionFailed,
			fmt.Sprintf("both scrape paths failed for %s", url), err)
	}
	if text == "" {
		return "", domain.NewDomainError(domain.ErrCodeExtractionFailed,
			fmt.Sprintf("both scrape paths yielded empty text for %s", url))
	}
	return text, nil
}

// ListingText synthesizes concise embedding text from a feed listing record:
// a curated subset of fields, so the embedding stays focused on searchable
// signal rather than the full record.
func ListingText(rec *domain.ListingRecord) string {
	var parts []string

	if rec.Title != "" {
		parts = append(parts, rec.Title)
	}
	if rec.Address != "" {
		parts = append(parts, "Location: "+rec.Address)
	}
	if rec.Category != "" {
		parts = append(parts, "Category: "+rec.Category)
	}
	if rec.Price != "" {
		parts = append(parts, "Price: "+rec.Price)
	}

	if len(rec.Counts) > 0 {
		keys := make([]string, 0, len(rec.Counts))
		for k := range rec.Counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		facts := make([]string, 0, len(keys))
		for _, k := range keys {
			facts = append(facts, fmt.Sprintf("%s: %d", k, rec.Counts[k]))
		}
		parts = append(parts, strings.Join(facts, ", "))
	}

	if len(rec.Features) > 0 {
		features := rec.Features
		if len(features) > 10 {
			features = features[:10]
		}
		parts = append(parts, "Features: "+strings.Join(features, ", "))
	}

	if desc := strings.TrimSpace(rec.Description); desc != "" {
		parts = append(parts, excerpt(desc, descriptionExcerptLimit))
	}

	return strings.Join(parts, "\n")
}

// excerpt truncates s to at most limit runes, cutting at a word boundary
// where one is near.
func excerpt(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	cut := limit
	for i := limit; i > limit-40 && i > 0; i-- {
		if runes[i-1] == ' ' {
			cut = i - 1
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
