package collect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/newsreader/internal/catalog"
	"github.com/TobiSchelling/newsreader/internal/database"
	"github.com/TobiSchelling/newsreader/internal/metrics"
	"github.com/TobiSchelling/newsreader/internal/normalize"
	"github.com/TobiSchelling/newsreader/internal/rss"
)

const (
	// DefaultUserAgent identifies feed requests.
	DefaultUserAgent = "newsreader/1.0 (+rss)"

	maxFeedBytes = 10 << 20
)

var errEmptyTitle = errors.New("empty title")

// FetchError reports a feed that could not be downloaded.
type FetchError struct {
	URL        string
	StatusCode int // 0 when the request itself failed
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching feed %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching feed %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Options configures a Client. Zero values take the defaults.
type Options struct {
	Timeout   time.Duration  // default 10s
	UserAgent string         // default DefaultUserAgent
	Location  *time.Location // zone for dates without one, default UTC
	Client    *http.Client
	Now       func() time.Time
	NewID     func() string
}

// Client fetches catalog feeds and maps their items to articles.
type Client struct {
	catalog *catalog.Catalog
	http    *http.Client
	opts    Options
}

// New creates a feed client over a catalog.
func New(cat *catalog.Catalog, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{catalog: cat, http: client, opts: opts}
}

// Catalog returns the catalog the client resolves feeds from.
func (c *Client) Catalog() *catalog.Catalog {
	return c.catalog
}

// FetchCategory fetches one catalog feed.
func (c *Client) FetchCategory(ctx context.Context, source, category string) ([]database.Article, error) {
	feedURL, err := c.catalog.Resolve(source, category)
	if err != nil {
		return nil, err
	}
	return c.fetch(ctx, feedURL, category)
}

// FetchURL fetches and maps an arbitrary feed URL.
func (c *Client) FetchURL(ctx context.Context, feedURL string) ([]database.Article, error) {
	return c.fetch(ctx, feedURL, "")
}

// FetchSource fetches every category feed of a source. A failing feed does
// not stop the others; its error is joined into the returned error while
// the articles of the remaining feeds are still returned.
func (c *Client) FetchSource(ctx context.Context, source string) ([]database.Article, error) {
	categories, err := c.catalog.CategoriesOf(source)
	if err != nil {
		return nil, err
	}
	targets := lo.Map(categories, func(cat string, _ int) feedTarget {
		return feedTarget{source: source, category: cat}
	})
	return c.fetchAll(ctx, targets)
}

// FetchCategoryAcrossSources fetches a category from every source that
// carries it.
func (c *Client) FetchCategoryAcrossSources(ctx context.Context, category string) ([]database.Article, error) {
	sources := c.catalog.SourcesWithCategory(category)
	if len(sources) == 0 {
		return nil, fmt.Errorf("category %q: %w", category, catalog.ErrNotFound)
	}
	targets := lo.Map(sources, func(src string, _ int) feedTarget {
		return feedTarget{source: src, category: category}
	})
	return c.fetchAll(ctx, targets)
}

type feedTarget struct {
	source   string
	category string
}

func (c *Client) fetchAll(ctx context.Context, targets []feedTarget) ([]database.Article, error) {
	var all []database.Article
	var errs []error
	for _, t := range targets {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		articles, err := c.FetchCategory(ctx, t.source, t.category)
		if err != nil {
			log.Warnf("feed %s/%s failed: %v", t.source, t.category, err)
			errs = append(errs, err)
			continue
		}
		all = append(all, articles...)
	}

	all = lo.UniqBy(all, func(a database.Article) string { return a.ID })
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].PublishedDate > all[j].PublishedDate
	})
	return all, errors.Join(errs...)
}

func (c *Client) fetch(ctx context.Context, feedURL, category string) ([]database.Article, error) {
	log.Debugf("fetching feed %s", feedURL)

	body, err := c.download(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	items, err := parseBody(body)
	if err != nil {
		metrics.FeedFetches.WithLabelValues("parse_error").Inc()
		return nil, fmt.Errorf("feed %s: %w", feedURL, err)
	}
	metrics.FeedFetches.WithLabelValues("ok").Inc()

	source := SourceName(feedURL)
	now := c.opts.Now()
	articles := make([]database.Article, 0, len(items))
	for _, it := range items {
		a, err := c.mapItem(it, source, category, now)
		if err != nil {
			metrics.ItemsDropped.Inc()
			log.Debugf("dropping item %q from %s: %v", it.Link, feedURL, err)
			continue
		}
		articles = append(articles, a)
	}

	log.Infof("parsed %d articles from %s", len(articles), feedURL)
	return articles, nil
}

func (c *Client) download(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.FeedFetches.WithLabelValues("network_error").Inc()
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.FeedFetches.WithLabelValues("http_error").Inc()
		return nil, &FetchError{URL: feedURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		metrics.FeedFetches.WithLabelValues("network_error").Inc()
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	return body, nil
}

// parseBody parses RSS with the streaming parser and hands Atom and JSON
// feeds to gofeed.
func parseBody(body []byte) ([]rss.Item, error) {
	switch gofeed.DetectFeedType(bytes.NewReader(body)) {
	case gofeed.FeedTypeAtom, gofeed.FeedTypeJSON:
		feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
		if err != nil {
			return nil, &rss.ParseError{Err: err}
		}
		return lo.Map(feed.Items, func(it *gofeed.Item, _ int) rss.Item {
			return fromGofeed(it)
		}), nil
	default:
		feed, err := rss.Parse(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		return feed.Items, nil
	}
}

func fromGofeed(it *gofeed.Item) rss.Item {
	out := rss.Item{
		Title:       strings.TrimSpace(it.Title),
		Link:        it.Link,
		Description: it.Description,
		PubDate:     it.Published,
		GUID:        it.GUID,
	}
	if out.Description == "" {
		out.Description = it.Content
	}
	if out.PubDate == "" {
		out.PubDate = it.Updated
	}
	if len(it.Categories) > 0 {
		out.Category = it.Categories[0]
	}
	if len(it.Authors) > 0 && it.Authors[0] != nil {
		out.Author = it.Authors[0].Name
	}
	if it.Image != nil {
		out.ImageURL = it.Image.URL
	}
	if out.ImageURL == "" {
		for _, enc := range it.Enclosures {
			if enc != nil && (enc.Type == "" || strings.HasPrefix(enc.Type, "image/")) {
				out.ImageURL = enc.URL
				break
			}
		}
	}
	return out
}

func (c *Client) mapItem(it rss.Item, source, category string, now time.Time) (database.Article, error) {
	title := normalize.CollapseWhitespace(it.Title)
	if title == "" {
		return database.Article{}, errEmptyTitle
	}

	id := strings.TrimSpace(it.GUID)
	if id == "" {
		id = c.opts.NewID()
	}
	if category == "" {
		category = it.Category
	}

	content := normalize.DecodeAndClean(it.Description)
	return database.Article{
		ID:            id,
		Title:         title,
		Content:       content,
		Summary:       normalize.Summarize(content, normalize.SummaryLimit),
		Source:        source,
		ImageURL:      it.ImageURL,
		URL:           it.Link,
		Category:      category,
		Author:        it.Author,
		PublishedDate: ParseDate(it.PubDate, c.opts.Location, now),
		AddedDate:     now.UnixMilli(),
	}, nil
}
