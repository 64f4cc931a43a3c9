// Package fetcher retrieves document bytes from an external URL for the
// scrape_url ingestion path and, for HTML pages, narrows the raw page down
// to its main article content before it reaches the chunker.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
)

// ErrUnsupportedContentType is returned when a fetched page's content-type
// is neither text/html nor text/plain, per spec §4.11 ("content-type
// drives parser choice... else fail").
var ErrUnsupportedContentType = errors.New("fetcher: unsupported content type")

// Result is the normalized output of a URL fetch, ready to hand to
// internal/parsers.
type Result struct {
	Content     []byte
	ContentType string // "text/html" or "text/plain"
	FinalURL    string
}

// Fetcher retrieves and normalizes remote documents over HTTP(S).
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	userAgent string
}

const defaultMaxBytes = 50 * 1024 * 1024 // 50MB, matches DEFAULT_MAX_FILE_SIZE_MB

// New builds a Fetcher with a bounded, redirect-limited HTTP client.
func New(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	dialer := &net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("fetcher: stopped after 10 redirects")
			}
			return nil
		},
	}

	return &Fetcher{client: client, maxBytes: maxBytes, userAgent: "ragvault-ingest/1.0"}
}

// Fetch downloads rawURL and, for HTML responses, extracts the main
// article content (go-readability) and converts it to Markdown
// (html-to-markdown) so the chunker sees prose rather than page chrome.
// text/plain responses pass through unchanged. Any other content-type is
// a fatal ErrUnsupportedContentType.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("fetcher: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Result{}, fmt.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetcher: request failed: %w", err)
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	ct, cs := parseContentType(resp.Header.Get("Content-Type"))

	limited := io.LimitReader(resp.Body, f.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return Result{}, fmt.Errorf("fetcher: read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return Result{}, fmt.Errorf("fetcher: response exceeds max bytes (%d)", f.maxBytes)
	}

	utf8Body, err := toUTF8(body, cs)
	if err != nil {
		return Result{}, fmt.Errorf("fetcher: charset decode: %w", err)
	}

	switch {
	case isHTML(ct):
		content := extractArticleMarkdown(string(utf8Body), finalURL)
		return Result{Content: []byte(content), ContentType: "text/html", FinalURL: finalURL}, nil
	case strings.HasPrefix(ct, "text/plain"):
		return Result{Content: utf8Body, ContentType: "text/plain", FinalURL: finalURL}, nil
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedContentType, ct)
	}
}

// extractArticleMarkdown narrows raw page HTML to its main article via
// readability, converts it to Markdown, and prepends the article title as
// an H1 unless the Markdown already opens with one. When
// readability finds no article candidate, the original HTML is returned
// unchanged and is parsed by internal/parsers' own html dispatch instead.
func extractArticleMarkdown(html, finalURL string) string {
	base, _ := url.Parse(finalURL)
	article, err := readability.FromReader(strings.NewReader(html), base)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return html
	}

	md, err := htmltomarkdown.ConvertString(article.Content, converter.WithDomain(baseOrigin(finalURL)))
	if err != nil || strings.TrimSpace(md) == "" {
		return html
	}

	title := strings.TrimSpace(article.Title)
	if title != "" && !strings.HasPrefix(strings.TrimLeft(md, "\n"), "# ") {
		md = "# " + title + "\n\n" + md
	}
	// Readability+markdown output is htmlish enough that downstream html
	// parsing (tag-stripping, whitespace collapse) still applies cleanly;
	// wrap it back in a minimal document so the <body> fallback of
	// parsers.Parse's html path picks it up, with the title preserved in
	// <title>.
	return "<html><head><title>" + title + "</title></head><body>" + md + "</body></html>"
}

func parseContentType(h string) (ctype, charsetLabel string) {
	if h == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(h)
	if err != nil {
		return strings.ToLower(h), ""
	}
	return strings.ToLower(mt), strings.ToLower(params["charset"])
}

func isHTML(ct string) bool {
	return ct == "text/html" || ct == "application/xhtml+xml" || strings.HasSuffix(ct, "+html")
}

func toUTF8(b []byte, charsetLabel string) ([]byte, error) {
	if charsetLabel == "" || strings.EqualFold(charsetLabel, "utf-8") || strings.EqualFold(charsetLabel, "utf8") {
		return b, nil
	}
	r, err := charset.NewReaderLabel(charsetLabel, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func baseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
