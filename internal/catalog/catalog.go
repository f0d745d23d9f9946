package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a source or category key is not in the catalog.
var ErrNotFound = errors.New("not found")

// Category is a named feed of one source.
type Category struct {
	Name string
	URL  string
}

// Source is a publisher and its categories in display order.
type Source struct {
	Name       string
	Categories []Category
}

// Catalog is an immutable source -> category -> feed URL registry.
type Catalog struct {
	sources []Source
	index   map[string]int
}

// New builds a catalog from the given sources. The input is copied.
func New(sources []Source) *Catalog {
	c := &Catalog{
		sources: make([]Source, len(sources)),
		index:   make(map[string]int, len(sources)),
	}
	for i, s := range sources {
		cats := make([]Category, len(s.Categories))
		copy(cats, s.Categories)
		c.sources[i] = Source{Name: s.Name, Categories: cats}
		c.index[s.Name] = i
	}
	return c
}

// Resolve returns the feed URL for a source/category pair.
func (c *Catalog) Resolve(source, category string) (string, error) {
	s, err := c.source(source)
	if err != nil {
		return "", err
	}
	for _, cat := range s.Categories {
		if cat.Name == category {
			return cat.URL, nil
		}
	}
	return "", fmt.Errorf("category %q of source %q: %w", category, source, ErrNotFound)
}

// CategoriesOf returns the category names of a source in declaration order.
func (c *Catalog) CategoriesOf(source string) ([]string, error) {
	s, err := c.source(source)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(s.Categories))
	for i, cat := range s.Categories {
		names[i] = cat.Name
	}
	return names, nil
}

// URLs returns every feed URL of a source in declaration order.
func (c *Catalog) URLs(source string) ([]string, error) {
	s, err := c.source(source)
	if err != nil {
		return nil, err
	}
	urls := make([]string, len(s.Categories))
	for i, cat := range s.Categories {
		urls[i] = cat.URL
	}
	return urls, nil
}

// Sources returns the source names in declaration order.
func (c *Catalog) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name
	}
	return names
}

// SourcesWithCategory returns the sources that carry a category of the given name.
func (c *Catalog) SourcesWithCategory(category string) []string {
	var names []string
	for _, s := range c.sources {
		for _, cat := range s.Categories {
			if cat.Name == category {
				names = append(names, s.Name)
				break
			}
		}
	}
	return names
}

// CategoryNames returns every distinct category name, in first-seen order.
func (c *Catalog) CategoryNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, s := range c.sources {
		for _, cat := range s.Categories {
			if _, ok := seen[cat.Name]; ok {
				continue
			}
			seen[cat.Name] = struct{}{}
			names = append(names, cat.Name)
		}
	}
	return names
}

func (c *Catalog) source(name string) (Source, error) {
	i, ok := c.index[name]
	if !ok {
		return Source{}, fmt.Errorf("source %q: %w", name, ErrNotFound)
	}
	return c.sources[i], nil
}
