package scrape

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voceria/kbpipeline/internal/domain"
)

func TestClient_Scrape(t *testing.T) {
	var gotReq scrapeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/scrape", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(Page{Markdown: "# Hello"})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL, APIKey: "test-key"})
	page, err := c.Scrape(context.Background(), "https://example.com/page")

	require.NoError(t, err)
	assert.Equal(t, "# Hello", page.Markdown)
	assert.Equal(t, "https://example.com/page", gotReq.URL)
	assert.ElementsMatch(t, []string{"markdown", "html"}, gotReq.Formats)
}

func TestClient_Scrape_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL})
	_, err := c.Scrape(context.Background(), "https://example.com")

	assert.Equal(t, domain.ErrCodeRateLimited, domain.ErrorCode(err))
	hint, ok := domain.RetryAfterHint(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, hint)
}

func TestClient_Scrape_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL})
	_, err := c.Scrape(context.Background(), "https://example.com")

	assert.Equal(t, domain.ErrCodePermanent, domain.ErrorCode(err))
}

func TestClient_Scrape_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL})
	_, err := c.Scrape(context.Background(), "https://example.com")

	assert.Equal(t, domain.ErrCodeTransient, domain.ErrorCode(err))
}

func TestClient_Scrape_ConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL})
	_, err := c.Scrape(context.Background(), "https://example.com")

	assert.Equal(t, domain.ErrCodeTransient, domain.ErrorCode(err))
}

func TestPage_Text(t *testing.T) {
	t.Run("prefers markdown", func(t *testing.T) {
		p := &Page{Markdown: "# Title", HTML: "<h1>Title</h1>"}
		assert.Equal(t, "# Title", p.Text())
	})

	t.Run("falls back to stripped html", func(t *testing.T) {
		p := &Page{HTML: "<p>Hello <b>world</b></p>"}
		assert.Equal(t, "Hello world", p.Text())
	})

	t.Run("empty page", func(t *testing.T) {
		assert.Empty(t, (&Page{}).Text())
	})
}
