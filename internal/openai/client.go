package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voceria/kbpipeline/internal/domain"
	"github.com/voceria/kbpipeline/internal/retry"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the dimension of text-embedding-3-small vectors
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel is the model used for keyword extraction completions
	DefaultChatModel = openai.GPT4oMini
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when an embedding has unexpected dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when OpenAI API key is not set
	ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")
)

// EmbeddingResult is one embedding vector plus the token count the service
// reported for the input span.
type EmbeddingResult struct {
	Vector     []float32
	TokenCount int
}

// API is the slice of the OpenAI surface the pipeline consumes.
type API interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps the OpenAI API client with pipeline error classification.
type Client struct {
	api        API
	model      openai.EmbeddingModel
	chatModel  string
	dimensions int
	limits     *retryAfterTransport
}

type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	ChatModel           string
	EmbeddingDimensions int
	Timeout             time.Duration
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *Client {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *Client {
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	limits := &retryAfterTransport{next: http.DefaultTransport}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: limits,
	}

	return &Client{
		api:        openai.NewClientWithConfig(clientCfg),
		model:      cfg.EmbeddingModel,
		chatModel:  cfg.ChatModel,
		dimensions: cfg.EmbeddingDimensions,
		limits:     limits,
	}
}

// NewClientFromEnv creates a new OpenAI client using the OPENAI_API_KEY
// environment variable.
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// EmbedText generates an embedding for one text span. Errors are classified
// into the pipeline taxonomy: 429 maps to a RateLimitError carrying the
// Retry-After hint when the service supplied one.
func (c *Client) EmbedText(ctx context.Context, text string) (*EmbeddingResult, error) {
	if text == "" {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodePermanent, "embedding input is empty", ErrEmptyText)
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.model,
	})
	if err != nil {
		return nil, c.classify("create embedding", err)
	}

	if len(resp.Data) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeTransient, "no embedding data returned")
	}

	vector := resp.Data[0].Embedding
	if len(vector) != c.dimensions {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodePermanent,
			fmt.Sprintf("expected %d dimensions, got %d", c.dimensions, len(vector)), ErrWrongDimensions)
	}

	return &EmbeddingResult{
		Vector:     vector,
		TokenCount: resp.Usage.PromptTokens,
	}, nil
}

// Dimensions returns the embedding dimensionality the client enforces.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Complete runs one chat completion with the given system and user prompts.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", c.classify("chat completion", err)
	}

	if len(resp.Choices) == 0 {
		return "", domain.NewDomainError(domain.ErrCodeTransient, "no completion choices returned")
	}

	return resp.Choices[0].Message.Content, nil
}

// classify maps go-openai errors onto the pipeline error taxonomy.
func (c *Client) classify(op string, err error) error {
	status := 0

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		var retryAfter time.Duration
		if c.limits != nil {
			retryAfter = c.limits.takeRetryAfter()
		}
		return domain.NewRateLimitError(retryAfter, err)
	case status >= 400 && status < 500:
		return domain.NewDomainErrorWithCause(domain.ErrCodePermanent, op+" rejected", err)
	default:
		// 5xx, network and timeout failures
		return domain.NewDomainErrorWithCause(domain.ErrCodeTransient, op+" failed", err)
	}
}

// retryAfterTransport records the Retry-After header of the most recent 429
// response. go-openai does not surface response headers on its error types,
// so the hint is captured at the transport and read back during
// classification. Calls on one client are sequential enough per worker that
// last-seen is the right value.
type retryAfterTransport struct {
	next http.RoundTripper

	mu         sync.Mutex
	retryAfter time.Duration
}

func (t *retryAfterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if d, ok := retry.ParseRetryAfter(resp.Header.Get("Retry-After")); ok {
			t.mu.Lock()
			t.retryAfter = d
			t.mu.Unlock()
		}
	}

	return resp, nil
}

// takeRetryAfter returns and clears the last captured hint.
func (t *retryAfterTransport) takeRetryAfter() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.retryAfter
	t.retryAfter = 0
	return d
}
