// Package fetch extracts article body text from publisher pages.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	readability "github.com/go-shiori/go-readability"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"github.com/TobiSchelling/newsreader/internal/metrics"
	"github.com/TobiSchelling/newsreader/internal/normalize"
)

const (
	minFragmentRunes = 20
	minTextRunes     = 100
	minParagraphs    = 3

	// DefaultUserAgent is a desktop browser UA; several publishers serve a
	// stripped page to unknown clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var errNoContent = errors.New("no extractable content")

// Options configures an Extractor. Zero values take the defaults.
type Options struct {
	Timeout        time.Duration // per attempt, default 30s
	Attempts       int           // default 2
	TimeoutBackoff time.Duration // wait after a timed-out attempt, default 2s
	IOBackoff      time.Duration // wait after any other failed attempt, default 1s
	UserAgent      string
	Selectors      map[string]string // extra or overriding domain selectors
	Readability    bool              // try go-readability when every selector fails
	Client         *http.Client
}

// Extractor fetches article pages and pulls out the body text.
type Extractor struct {
	opts      Options
	client    *http.Client
	selectors *selectorTable
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 2
	}
	if opts.TimeoutBackoff <= 0 {
		opts.TimeoutBackoff = 2 * time.Second
	}
	if opts.IOBackoff <= 0 {
		opts.IOBackoff = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		}
	}

	return &Extractor{
		opts:      opts,
		client:    client,
		selectors: newSelectorTable(opts.Selectors),
	}
}

// FetchFullText returns the article body text of the page at rawURL, or
// false when nothing usable could be extracted. It never fails: callers fall
// back to the feed description.
func (e *Extractor) FetchFullText(ctx context.Context, rawURL string) (string, bool) {
	selector, hasSelector := e.selectors.lookup(rawURL)

	policy := &retryPolicy{timeout: e.opts.TimeoutBackoff, io: e.opts.IOBackoff}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.opts.Attempts-1)), ctx)

	var text, via string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		metrics.ExtractionAttempts.Inc()

		var err error
		text, via, err = e.attempt(ctx, rawURL, selector, hasSelector)
		policy.last = err
		if err != nil {
			log.Debugf("extract %s attempt %d: %v", rawURL, attempt, err)
		}
		return err
	}, b)

	if err != nil {
		metrics.Extractions.WithLabelValues("absent").Inc()
		if ctx.Err() == nil {
			log.Warnf("no full text for %s after %d attempt(s): %v", rawURL, attempt, err)
		}
		return "", false
	}

	metrics.Extractions.WithLabelValues(via).Inc()
	log.Debugf("extracted %d chars from %s via %s", utf8.RuneCountInString(text), rawURL, via)
	return text, true
}

// attempt performs one fetch and extraction. Errors wrapped in
// backoff.Permanent end the retry loop.
func (e *Extractor) attempt(ctx context.Context, rawURL, selector string, hasSelector bool) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", backoff.Permanent(fmt.Errorf("invalid article url %q", rawURL))
	}

	body, err := e.get(ctx, rawURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", backoff.Permanent(ctx.Err())
		}
		return "", "", err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", backoff.Permanent(fmt.Errorf("parsing page: %w", err))
	}

	if hasSelector {
		if text := joinFragments(doc, selector, 1); text != "" {
			return text, "primary", nil
		}
	}
	for _, fb := range fallbackSelectors {
		if text := joinFragments(doc, fb, minParagraphs); text != "" {
			return text, "fallback", nil
		}
	}
	if e.opts.Readability {
		if text := readable(body, u); text != "" {
			return text, "readability", nil
		}
	}
	return "", "", errNoContent
}

// get fetches a page body. HTTP status and content type are ignored.
func (e *Extractor) get(ctx context.Context, rawURL string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", e.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	r, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("decoding page: %w", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading page: %w", err)
	}
	return body, nil
}

// joinFragments collects the text of nodes matching selector, keeping only
// fragments longer than minFragmentRunes, and joins them with a blank line.
// The result is returned only when it has at least minCount fragments and
// minTextRunes characters.
func joinFragments(doc *goquery.Document, selector string, minCount int) string {
	var parts []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		t := normalize.CollapseWhitespace(s.Text())
		if utf8.RuneCountInString(t) > minFragmentRunes {
			parts = append(parts, t)
		}
	})
	if len(parts) < minCount {
		return ""
	}
	text := strings.Join(parts, "\n\n")
	if utf8.RuneCountInString(text) < minTextRunes {
		return ""
	}
	return text
}

func readable(body []byte, u *url.URL) string {
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(article.TextContent)
	if utf8.RuneCountInString(text) < minTextRunes {
		return ""
	}
	return text
}

// retryPolicy waits longer after a timeout than after other failures.
type retryPolicy struct {
	timeout time.Duration
	io      time.Duration
	last    error
}

func (p *retryPolicy) NextBackOff() time.Duration {
	if isTimeout(p.last) {
		return p.timeout
	}
	return p.io
}

func (p *retryPolicy) Reset() {}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
