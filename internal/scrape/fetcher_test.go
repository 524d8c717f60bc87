package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voceria/kbpipeline/internal/domain"
)

func TestFetcher_FetchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "kbpipeline/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte(`<html><head><title>ignored</title></head>
			<body><h1>Marina Guide</h1><p>Berths and moorings.</p></body></html>`))
	}))
	defer srv.Close()

	f := NewFetcher(0)
	text, err := f.FetchText(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Contains(t, text, "Marina Guide")
	assert.Contains(t, text, "Berths and moorings.")
	assert.NotContains(t, text, "ignored")
}

func TestFetcher_FetchText_NotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(0)
	_, err := f.FetchText(context.Background(), srv.URL)

	assert.Equal(t, domain.ErrCodePermanent, domain.ErrorCode(err))
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		markup   string
		expected string
	}{
		{
			"simple paragraph",
			"<p>Hello world</p>",
			"Hello world",
		},
		{
			"script and style dropped",
			"<p>keep</p><script>var x = 1;</script><style>p{}</style>",
			"keep",
		},
		{
			"block elements become newlines",
			"<p>first</p><p>second</p>",
			"first\nsecond",
		},
		{
			"whitespace collapsed",
			"<div>a    b\n\n\n<div>c</div></div>",
			"a b\nc",
		},
		{
			"plain text passes through",
			"no markup here",
			"no markup here",
		},
		{
			"empty input",
			"   ",
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripHTML(tt.markup))
		})
	}
}
