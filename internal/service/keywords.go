package service

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/retry"
)

// keywordSystemPrompt instructs the model to return only rare, high-signal
// terms. Generic vocabulary adds noise to voice-agent hotword matching.
const keywordSystemPrompt = `You extract domain-specific keywords from reference content.
Return ONLY a JSON array of single-word terms. Include uncommon proper nouns,
brand names, product names and technical terms. Exclude common dictionary
words, generic acronyms, and well-known place names. No explanation, no
markdown, just the JSON array.`

// LLMClient runs one chat completion.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// KeywordItemRepository is the persistence surface for the keyword task.
type KeywordItemRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	UpdateKeywordStatus(ctx context.Context, id string, status domain.KeywordStatus, errMsg string) error
	SetKeywords(ctx context.Context, id string, keywords []string) error
}

// ChunkContentReader lists stored chunk content for an item in index order.
type ChunkContentReader interface {
	ListContentByItem(ctx context.Context, itemID string) ([]string, error)
}

// KeywordExtractor derives domain keywords from an item's already-stored
// content. It runs independently of ingestion, with its own status machine
// and its own task-level retry budget.
type KeywordExtractor struct {
	items  KeywordItemRepository
	chunks ChunkContentReader
	llm    LLMClient
	policy retry.Policy
}

// KeywordRetryPolicy is the task-level budget for LLM call plus parse,
// distinct from any in-call retries the client performs.
func KeywordRetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = 5
	return p
}

func NewKeywordExtractor(items KeywordItemRepository, chunks ChunkContentReader, llm LLMClient) *KeywordExtractor {
	return &KeywordExtractor{
		items:  items,
		chunks: chunks,
		llm:    llm,
		policy: KeywordRetryPolicy(),
	}
}

// Extract runs the keyword task for one item id. The item is marked failed
// only after the final exhausted attempt, never during intermediate backoff.
func (k *KeywordExtractor) Extract(ctx context.Context, itemID string) error {
	item, err := k.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}

	if err := k.items.UpdateKeywordStatus(ctx, item.ID, domain.KeywordStatusProcessing, ""); err != nil {
		return err
	}

	content, err := k.loadContent(ctx, item)
	if err != nil {
		return k.fail(ctx, item.ID, err)
	}

	// No content is a completed-empty outcome, not a failure: the item may
	// legitimately have nothing indexed yet.
	if content == "" {
		if err := k.items.SetKeywords(ctx, item.ID, []string{}); err != nil {
			return k.fail(ctx, item.ID, err)
		}
		return nil
	}

	var keywords []string
	err = retry.Do(ctx, k.policy, func(ctx context.Context) error {
		raw, llmErr := k.llm.Complete(ctx, keywordSystemPrompt, content)
		if llmErr != nil {
			return llmErr
		}
		parsed, parseErr := parseKeywords(raw)
		if parseErr != nil {
			return parseErr
		}
		keywords = parsed
		return nil
	})
	if err != nil {
		return k.fail(ctx, item.ID, err)
	}

	keywords = dedupeKeywords(keywords)
	if err := k.items.SetKeywords(ctx, item.ID, keywords); err != nil {
		return k.fail(ctx, item.ID, err)
	}

	log.Printf("item %s: extracted %d keywords", item.ID, len(keywords))
	return nil
}

// loadContent concatenates the item's stored chunk content, falling back to
// any literal text on the item itself.
func (k *KeywordExtractor) loadContent(ctx context.Context, item *domain.Item) (string, error) {
	contents, err := k.chunks.ListContentByItem(ctx, item.ID)
	if err != nil {
		return "", err
	}

	joined := strings.TrimSpace(strings.Join(contents, "\n\n"))
	if joined == "" {
		joined = strings.TrimSpace(item.SourceText)
	}
	return joined, nil
}

func (k *KeywordExtractor) fail(ctx context.Context, itemID string, err error) error {
	if updateErr := k.items.UpdateKeywordStatus(ctx, itemID, domain.KeywordStatusFailed, err.Error()); updateErr != nil {
		log.Printf("item %s: failed to record keyword failure: %v", itemID, updateErr)
	}
	return err
}

// parseKeywords parses the model response as a JSON string array, tolerating
// a markdown code fence around it.
func parseKeywords(raw string) ([]string, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var keywords []string
	if err := json.Unmarshal([]byte(cleaned), &keywords); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransient,
			"model response is not a JSON string array", err)
	}

	out := keywords[:0]
	for _, kw := range keywords {
		if trimmed := strings.TrimSpace(kw); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// dedupeKeywords removes case-sensitive duplicates, preserving order.
func dedupeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}
