package database

// Article is the canonical unit of content. Dates are epoch milliseconds.
type Article struct {
	ID            string
	Title         string
	Content       string
	Summary       string
	FullContent   *string // nil until fetched
	Source        string
	ImageURL      string
	URL           string
	Category      string
	Author        string
	PublishedDate int64
	AddedDate     int64
	IsRead        bool
}

// HasFullContent reports whether the article carries cached full text.
func (a *Article) HasFullContent() bool {
	return a.FullContent != nil && *a.FullContent != ""
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalArticles   int
	UnreadArticles  int
	WithFullContent int
	Sources         int
}
