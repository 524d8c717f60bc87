//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voceria/kbpipeline/internal/api/handlers"
	"github.com/voceria/kbpipeline/internal/jobs"
	"github.com/voceria/kbpipeline/internal/openai"
	"github.com/voceria/kbpipeline/internal/repository"
	"github.com/voceria/kbpipeline/internal/retry"
	"github.com/voceria/kbpipeline/internal/server"
	"github.com/voceria/kbpipeline/internal/service"
	"github.com/voceria/kbpipeline/internal/testutil"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	Workers      []*jobs.Worker
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full pipeline environment: pgvector Postgres, the
// enqueue API, and live workers running against stubbed embedding and LLM
// clients so no external service is touched.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../internal/database/migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser, workers := startPipeline(t, ctx, pool, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		Workers:      workers,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	for _, w := range e.Workers {
		w.Stop()
	}
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// PollItem fetches the item until the predicate holds or the timeout expires.
func (e *E2ETestEnv) PollItem(itemID string, timeout time.Duration, done func(item map[string]interface{}) bool) map[string]interface{} {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := e.Get("/items/" + itemID)
		if err == nil {
			var item map[string]interface{}
			if err := json.Unmarshal(resp.Data, &item); err == nil && done(item) {
				return item
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	e.T.Fatalf("item %s did not reach expected state within %v", itemID, timeout)
	return nil
}

// startPipeline starts the API server plus ingest and keyword workers wired
// to stub clients.
func startPipeline(t *testing.T, ctx context.Context, pool *pgxpool.Pool, port int) (string, func(), []*jobs.Worker) {
	itemRepo := repository.NewItemRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	jobRepo := repository.NewJobRepository(pool)

	enqueueSvc := service.NewEnqueueService(itemRepo, jobRepo)
	router := server.NewRouter(server.RouterConfig{
		ItemHandler: handlers.NewItemHandler(enqueueSvc),
	})

	extractor := service.NewExtractor(nil, nil)
	chunker := service.NewChunker(nil)
	policy := retry.DefaultPolicy()
	processor := service.NewProcessor(itemRepo, chunkRepo, extractor, chunker, &stubEmbedder{}, policy, service.ProcessorConfig{})
	fanout := service.NewFanoutProcessor(itemRepo, chunkRepo, nil, processor, policy)
	keywords := service.NewKeywordExtractor(itemRepo, chunkRepo, &stubLLM{})

	ingestWorker := jobs.NewWorker("ingest",
		jobs.NewIngestWorker(jobRepo, itemRepo, processor, fanout, 2), 200*time.Millisecond)
	keywordWorker := jobs.NewWorker("keywords",
		jobs.NewKeywordWorker(jobRepo, keywords, 2), 200*time.Millisecond)
	go ingestWorker.Start(ctx)
	go keywordWorker.Start(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	closer := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}

	return serverURL, closer, []*jobs.Worker{ingestWorker, keywordWorker}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// stubEmbedder returns deterministic vectors so the pipeline never calls out.
type stubEmbedder struct{}

func (s *stubEmbedder) EmbedText(ctx context.Context, text string) (*openai.EmbeddingResult, error) {
	vec := make([]float32, 1536)
	for i := range vec {
		vec[i] = float32(len(text)%7) / 7
	}
	return &openai.EmbeddingResult{Vector: vec, TokenCount: len(text) / 4}, nil
}

// stubLLM answers every completion with a fixed keyword array.
type stubLLM struct{}

func (s *stubLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return `["Voceria", "Lakeshore"]`, nil
}
