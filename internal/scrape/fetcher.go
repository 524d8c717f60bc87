package scrape

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/net/html"

	"github.com/voceria/kbpipeline/internal/domain"
)

// Fetcher is the fallback extraction path: a plain GET with markup stripped.
// It does not render JavaScript.
type Fetcher struct {
	httpc *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{httpc: &http.Client{Timeout: timeout}}
}

// FetchText downloads url and returns its visible text content.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodePermanent, "invalid URL", err)
	}
	req.Header.Set("User-Agent", "kbpipeline/1.0")

	resp, err := f.httpc.Do(req)
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "fetch failed", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp, "origin server"); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeTransient, "failed to read response body", err)
	}

	return strings.TrimSpace(StripHTML(string(body))), nil
}

// StripHTML extracts the visible text from an HTML document, skipping
// script, style and metadata elements and collapsing runs of whitespace.
func StripHTML(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}

	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return strings.TrimSpace(markup)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head", "iframe", "template":
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlockElement(n.Data) {
			b.WriteByte('\n')
		}
	}
	walk(root)

	return collapseWhitespace(b.String())
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6",
		"section", "article", "header", "footer", "blockquote", "pre":
		return true
	}
	return false
}

// collapseWhitespace reduces runs of spaces and tabs to one space and runs
// of blank lines to one newline.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := false
	lastNewline := false
	for _, r := range s {
		switch {
		case r == '\n':
			if !lastNewline {
				// drop the trailing space of the previous line
				trimTrailingSpace(&b)
				b.WriteByte('\n')
			}
			lastNewline = true
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace && !lastNewline {
				b.WriteByte(' ')
			}
			lastSpace = true
		default:
			if lastNewline {
				lastNewline = false
			}
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

func trimTrailingSpace(b *strings.Builder) {
	s := b.String()
	trimmed := strings.TrimRight(s, " ")
	if len(trimmed) != len(s) {
		b.Reset()
		b.WriteString(trimmed)
	}
}
