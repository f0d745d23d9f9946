package collect

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/newsreader/internal/database"
	"github.com/TobiSchelling/newsreader/internal/metrics"
)

// Store is the write side of the article store.
type Store interface {
	Upsert(articles []database.Article) error
}

// Result holds the results of a refresh.
type Result struct {
	TotalFound int
	Stored     int
	Sources    map[string]int
	Articles   []database.Article // newest published first
	FeedErrors error              // per-feed failures that did not abort the refresh
}

// Collector fetches feeds and writes their articles to the store.
// Refreshes are serialized.
type Collector struct {
	client *Client
	store  Store
	mu     sync.Mutex
}

// NewCollector creates a new article collector.
func NewCollector(client *Client, store Store) *Collector {
	return &Collector{client: client, store: store}
}

// Client returns the feed client behind the collector.
func (c *Collector) Client() *Client {
	return c.client
}

// RefreshCategory fetches one category feed and stores its articles.
func (c *Collector) RefreshCategory(ctx context.Context, source, category string) (*Result, error) {
	return c.refresh(fmt.Sprintf("%s/%s", source, category), func() ([]database.Article, error) {
		return c.client.FetchCategory(ctx, source, category)
	}, false)
}

// RefreshSource fetches every category of a source and stores the merged result.
func (c *Collector) RefreshSource(ctx context.Context, source string) (*Result, error) {
	return c.refresh(source, func() ([]database.Article, error) {
		return c.client.FetchSource(ctx, source)
	}, true)
}

// RefreshCategoryAcrossSources fetches a category from every source that
// carries it and stores the merged result.
func (c *Collector) RefreshCategoryAcrossSources(ctx context.Context, category string) (*Result, error) {
	return c.refresh("*/"+category, func() ([]database.Article, error) {
		return c.client.FetchCategoryAcrossSources(ctx, category)
	}, true)
}

// refresh runs fetch and stores its articles. For multi-feed fetches a
// joined per-feed error is reported in the result, and fails the refresh
// only when no articles came back at all.
func (c *Collector) refresh(label string, fetch func() ([]database.Article, error), multi bool) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log.Infof("refreshing %s", label)
	articles, err := fetch()
	r := &Result{Sources: make(map[string]int)}
	if err != nil {
		if !multi || len(articles) == 0 {
			return nil, fmt.Errorf("refreshing %s: %w", label, err)
		}
		r.FeedErrors = err
	}

	r.TotalFound = len(articles)
	if err := c.store.Upsert(articles); err != nil {
		return nil, fmt.Errorf("storing articles: %w", err)
	}
	r.Stored = len(articles)
	r.Articles = articles
	for _, a := range articles {
		r.Sources[a.Source]++
	}
	metrics.ArticlesIngested.Add(float64(r.Stored))

	log.Infof("refresh %s complete: %d articles stored", label, r.Stored)
	return r, nil
}
