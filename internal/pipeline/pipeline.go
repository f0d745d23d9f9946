package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/newsreader/internal/collect"
	"github.com/TobiSchelling/newsreader/internal/database"
)

// DefaultWorkers is the prefetch concurrency when none is configured.
const DefaultWorkers = 4

// ErrNoTarget is returned for a request naming neither source nor category.
var ErrNoTarget = errors.New("refresh needs a source or a category")

// Collector refreshes feeds into the store.
type Collector interface {
	RefreshCategory(ctx context.Context, source, category string) (*collect.Result, error)
	RefreshSource(ctx context.Context, source string) (*collect.Result, error)
	RefreshCategoryAcrossSources(ctx context.Context, category string) (*collect.Result, error)
}

// Store is what prefetching reads and writes.
type Store interface {
	ListMissingFullContent(limit int) ([]database.Article, error)
	UpdateFullContent(id, text string) error
}

type Extractor interface {
	FetchFullText(ctx context.Context, url string) (string, bool)
}

// Request selects what to refresh. With both Source and Category set one
// feed is fetched; with only Source every category of it; with only
// Category that category across every source. Prefetch > 0 fills in the
// full text of up to that many articles lacking it.
type Request struct {
	Source   string
	Category string
	Prefetch int
}

func (r Request) label() string {
	switch {
	case r.Source != "" && r.Category != "":
		return r.Source + "/" + r.Category
	case r.Source != "":
		return r.Source
	default:
		return "*/" + r.Category
	}
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Label string
	Steps []StepResult
}

// Err returns the first step error.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return fmt.Errorf("%s: %w", s.Name, s.Err)
		}
	}
	return nil
}

// Pipeline runs collect then prefetch.
type Pipeline struct {
	collector Collector
	store     Store
	extractor Extractor
	workers   int
}

// New creates a new pipeline. The extractor may be nil when prefetching is
// never requested.
func New(collector Collector, store Store, extractor Extractor, workers int) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pipeline{collector: collector, store: store, extractor: extractor, workers: workers}
}

// Run executes the pipeline.
func (p *Pipeline) Run(ctx context.Context, req Request) *Result {
	r := &Result{Label: req.label()}

	// Step 1: Collect
	step := p.runCollect(ctx, req)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 2: Prefetch full text
	if req.Prefetch > 0 {
		r.Steps = append(r.Steps, p.runPrefetch(ctx, req.Prefetch))
	}
	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(req Request) *Result {
	r := &Result{Label: req.label()}

	if req.Source == "" && req.Category == "" {
		r.Steps = append(r.Steps, StepResult{Name: "Collect", Err: ErrNoTarget})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("[dry-run] Would refresh %s", r.Label),
	})

	if req.Prefetch > 0 {
		missing, err := p.store.ListMissingFullContent(req.Prefetch)
		r.Steps = append(r.Steps, StepResult{
			Name:    "Prefetch",
			Summary: fmt.Sprintf("[dry-run] %d articles need full text", len(missing)),
			Err:     err,
		})
	}
	return r
}

func (p *Pipeline) runCollect(ctx context.Context, req Request) StepResult {
	log.Infof("Step 1/2: Collecting %s...", req.label())

	var (
		res *collect.Result
		err error
	)
	switch {
	case req.Source != "" && req.Category != "":
		res, err = p.collector.RefreshCategory(ctx, req.Source, req.Category)
	case req.Source != "":
		res, err = p.collector.RefreshSource(ctx, req.Source)
	case req.Category != "":
		res, err = p.collector.RefreshCategoryAcrossSources(ctx, req.Category)
	default:
		err = ErrNoTarget
	}
	if err != nil {
		return StepResult{Name: "Collect", Err: err}
	}

	summary := fmt.Sprintf("Stored %d articles from %d sources", res.Stored, len(res.Sources))
	if res.FeedErrors != nil {
		summary += fmt.Sprintf(" (some feeds failed: %v)", res.FeedErrors)
	}
	return StepResult{Name: "Collect", Summary: summary}
}

func (p *Pipeline) runPrefetch(ctx context.Context, limit int) StepResult {
	log.Infof("Step 2/2: Prefetching full text for up to %d articles...", limit)
	if p.extractor == nil {
		return StepResult{Name: "Prefetch", Err: errors.New("no content extractor configured")}
	}

	articles, err := p.store.ListMissingFullContent(limit)
	if err != nil {
		return StepResult{Name: "Prefetch", Err: err}
	}
	if len(articles) == 0 {
		return StepResult{Name: "Prefetch", Summary: "No articles need full text"}
	}

	queue := make(chan database.Article, len(articles))
	for _, a := range articles {
		queue <- a
	}
	close(queue)

	var (
		wg               sync.WaitGroup
		mu               sync.Mutex
		fetched, missing int
		storeErr         error
	)
	for range min(p.workers, len(articles)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range queue {
				if ctx.Err() != nil {
					return
				}
				text, ok := p.extractor.FetchFullText(ctx, a.URL)
				mu.Lock()
				if !ok {
					missing++
					mu.Unlock()
					continue
				}
				if err := p.store.UpdateFullContent(a.ID, text); err != nil {
					storeErr = errors.Join(storeErr, fmt.Errorf("article %s: %w", a.ID, err))
				} else {
					fetched++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		storeErr = errors.Join(storeErr, err)
	}
	return StepResult{
		Name:    "Prefetch",
		Summary: fmt.Sprintf("Fetched %d of %d, %d without extractable text", fetched, len(articles), missing),
		Err:     storeErr,
	}
}
