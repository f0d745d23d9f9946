// Package browse exposes the catalog and the article store as a tree of
// browsable folders and playable articles.
package browse

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/TobiSchelling/newsreader/internal/catalog"
	"github.com/TobiSchelling/newsreader/internal/collect"
	"github.com/TobiSchelling/newsreader/internal/database"
)

const (
	RootID       = "root"
	SourcesID    = "sources"
	CategoriesID = "categories"
	RecentID     = "recent"

	sourcePrefix   = "source:"
	feedPrefix     = "feed:"
	categoryPrefix = "category:"

	RecentLimit = 50
)

// Node is either a Browsable or a Playable.
type Node interface {
	NodeID() string
	node()
}

// Browsable is a folder whose children are listed with Children.
type Browsable struct {
	ID       string
	Title    string
	Subtitle string
}

// Playable is an article that can be handed to playback.
type Playable struct {
	Article database.Article
}

func (b Browsable) NodeID() string { return b.ID }
func (p Playable) NodeID() string { return p.Article.ID }

func (Browsable) node() {}
func (Playable) node() {}

// Refresher fetches feeds into the store and returns what was fetched.
type Refresher interface {
	RefreshCategory(ctx context.Context, source, category string) (*collect.Result, error)
	RefreshCategoryAcrossSources(ctx context.Context, category string) (*collect.Result, error)
}

// RecentLister lists stored articles, most recently added first.
type RecentLister interface {
	ListRecent(limit int) ([]database.Article, error)
}

// Browser builds the browse tree over the catalog and the store.
type Browser struct {
	catalog   *catalog.Catalog
	refresher Refresher
	store     RecentLister
}

// New returns a browser over cat, refreshing feeds through refresher.
func New(cat *catalog.Catalog, refresher Refresher, store RecentLister) *Browser {
	return &Browser{catalog: cat, refresher: refresher, store: store}
}

// SourceID, FeedID and CategoryID build the ids Children understands.
func SourceID(source string) string { return sourcePrefix + source }

func FeedID(source, category string) string { return feedPrefix + source + "/" + category }

func CategoryID(category string) string { return categoryPrefix + category }

// Children lists the nodes under parentID. Feed and category folders are
// refreshed from the network when listed.
func (b *Browser) Children(ctx context.Context, parentID string) ([]Node, error) {
	switch parentID {
	case RootID:
		return []Node{
			Browsable{ID: SourcesID, Title: "Trang báo", Subtitle: "Chọn theo tờ báo"},
			Browsable{ID: CategoriesID, Title: "Chủ đề", Subtitle: "Chọn theo chủ đề"},
			Browsable{ID: RecentID, Title: "Tin gần đây", Subtitle: "Tin đã tải gần đây"},
		}, nil
	case SourcesID:
		return lo.Map(b.catalog.Sources(), func(s string, _ int) Node {
			return Browsable{ID: SourceID(s), Title: s, Subtitle: "Báo " + s}
		}), nil
	case CategoriesID:
		return lo.Map(b.catalog.CategoryNames(), func(c string, _ int) Node {
			n := len(b.catalog.SourcesWithCategory(c))
			return Browsable{ID: CategoryID(c), Title: c, Subtitle: fmt.Sprintf("Tin %s từ %d nguồn", c, n)}
		}), nil
	case RecentID:
		articles, err := b.store.ListRecent(RecentLimit)
		if err != nil {
			return nil, fmt.Errorf("listing recent articles: %w", err)
		}
		return playables(articles), nil
	}

	switch {
	case strings.HasPrefix(parentID, sourcePrefix):
		source := strings.TrimPrefix(parentID, sourcePrefix)
		cats, err := b.catalog.CategoriesOf(source)
		if err != nil {
			return nil, err
		}
		return lo.Map(cats, func(c string, _ int) Node {
			return Browsable{ID: FeedID(source, c), Title: c, Subtitle: fmt.Sprintf("Tin %s từ %s", c, source)}
		}), nil

	case strings.HasPrefix(parentID, feedPrefix):
		source, category, ok := strings.Cut(strings.TrimPrefix(parentID, feedPrefix), "/")
		if !ok {
			return nil, fmt.Errorf("browse id %q: %w", parentID, catalog.ErrNotFound)
		}
		r, err := b.refresher.RefreshCategory(ctx, source, category)
		if err != nil {
			return nil, err
		}
		return playables(r.Articles), nil

	case strings.HasPrefix(parentID, categoryPrefix):
		category := strings.TrimPrefix(parentID, categoryPrefix)
		r, err := b.refresher.RefreshCategoryAcrossSources(ctx, category)
		if err != nil {
			return nil, err
		}
		return playables(r.Articles), nil
	}

	return nil, fmt.Errorf("browse id %q: %w", parentID, catalog.ErrNotFound)
}

func playables(articles []database.Article) []Node {
	return lo.Map(articles, func(a database.Article, _ int) Node {
		return Playable{Article: a}
	})
}

// View is the flat rendering of a node used by the HTTP API.
type View struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Summary  string `json:"summary,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ViewOf flattens a node for JSON.
func ViewOf(n Node) View {
	switch n := n.(type) {
	case Browsable:
		return View{Kind: "browsable", ID: n.ID, Title: n.Title, Subtitle: n.Subtitle}
	case Playable:
		a := n.Article
		return View{
			Kind:     "playable",
			ID:       a.ID,
			Title:    a.Title,
			Subtitle: a.Source,
			Summary:  a.Summary,
			ImageURL: a.ImageURL,
			URL:      a.URL,
		}
	}
	return View{}
}
