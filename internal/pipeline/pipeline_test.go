package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/newsreader/internal/collect"
	"github.com/TobiSchelling/newsreader/internal/database"
)

type fakeCollector struct {
	calls []string
	err   error
}

func (f *fakeCollector) result() (*collect.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &collect.Result{Stored: 3, Sources: map[string]int{"VnExpress": 3}}, nil
}

func (f *fakeCollector) RefreshCategory(_ context.Context, source, category string) (*collect.Result, error) {
	f.calls = append(f.calls, "category "+source+"/"+category)
	return f.result()
}

func (f *fakeCollector) RefreshSource(_ context.Context, source string) (*collect.Result, error) {
	f.calls = append(f.calls, "source "+source)
	return f.result()
}

func (f *fakeCollector) RefreshCategoryAcrossSources(_ context.Context, category string) (*collect.Result, error) {
	f.calls = append(f.calls, "across "+category)
	return f.result()
}

type pageExtractor struct {
	mu    sync.Mutex
	pages map[string]string
	calls int
}

func (e *pageExtractor) FetchFullText(_ context.Context, url string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	text, ok := e.pages[url]
	return text, ok
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *database.DB, n int) {
	t.Helper()
	var articles []database.Article
	for i := 0; i < n; i++ {
		articles = append(articles, database.Article{
			ID:            fmt.Sprintf("a%d", i),
			Title:         fmt.Sprintf("Tin %d", i),
			URL:           fmt.Sprintf("https://example.com/%d", i),
			PublishedDate: int64(i),
			AddedDate:     int64(i),
		})
	}
	require.NoError(t, db.Upsert(articles))
}

func TestRunDispatchesCollect(t *testing.T) {
	tests := []struct {
		req  Request
		want string
	}{
		{Request{Source: "VnExpress", Category: "Thể thao"}, "category VnExpress/Thể thao"},
		{Request{Source: "VnExpress"}, "source VnExpress"},
		{Request{Category: "Thể thao"}, "across Thể thao"},
	}
	for _, tt := range tests {
		c := &fakeCollector{}
		r := New(c, nil, nil, 0).Run(context.Background(), tt.req)
		require.NoError(t, r.Err())
		assert.Equal(t, []string{tt.want}, c.calls)
		require.Len(t, r.Steps, 1)
		assert.Equal(t, "Stored 3 articles from 1 sources", r.Steps[0].Summary)
	}
}

func TestRunWithoutTarget(t *testing.T) {
	r := New(&fakeCollector{}, nil, nil, 0).Run(context.Background(), Request{})
	assert.ErrorIs(t, r.Err(), ErrNoTarget)
}

func TestCollectFailureSkipsPrefetch(t *testing.T) {
	ex := &pageExtractor{}
	c := &fakeCollector{err: errors.New("offline")}
	r := New(c, openTestDB(t), ex, 2).Run(context.Background(), Request{Source: "VnExpress", Prefetch: 5})

	require.Len(t, r.Steps, 1)
	assert.ErrorContains(t, r.Err(), "offline")
	assert.Zero(t, ex.calls)
}

func TestPrefetchFillsFullContent(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, 6)
	ex := &pageExtractor{pages: map[string]string{
		"https://example.com/0": "never asked for",
		"https://example.com/1": "toàn văn 1",
		"https://example.com/2": "toàn văn 2",
		"https://example.com/4": "toàn văn 4",
		"https://example.com/5": "toàn văn 5",
	}}

	r := New(&fakeCollector{}, db, ex, 3).Run(context.Background(), Request{Source: "VnExpress", Prefetch: 5})
	require.NoError(t, r.Err())
	require.Len(t, r.Steps, 2)
	assert.Equal(t, 5, ex.calls)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.WithFullContent)

	a, err := db.Get("a5")
	require.NoError(t, err)
	require.NotNil(t, a.FullContent)
	assert.Equal(t, "toàn văn 5", *a.FullContent)

	a, err = db.Get("a0")
	require.NoError(t, err)
	assert.False(t, a.HasFullContent(), "outside the prefetch limit")
}

func TestPrefetchStopsOnCancel(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(&fakeCollector{}, db, &pageExtractor{}, 2)
	step := p.runPrefetch(ctx, 3)
	assert.ErrorIs(t, step.Err, context.Canceled)
}

func TestDryRun(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, 2)
	c := &fakeCollector{}

	r := New(c, db, nil, 0).DryRun(Request{Category: "Thể thao", Prefetch: 10})
	require.Len(t, r.Steps, 2)
	assert.Equal(t, "[dry-run] Would refresh */Thể thao", r.Steps[0].Summary)
	assert.Equal(t, "[dry-run] 2 articles need full text", r.Steps[1].Summary)
	assert.Empty(t, c.calls)

	r = New(c, db, nil, 0).DryRun(Request{})
	assert.ErrorIs(t, r.Err(), ErrNoTarget)
}
