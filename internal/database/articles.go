package database

import (
	"database/sql"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
)

const upsertBatch = 200

var articleColumns = []string{
	"id", "title", "content", "summary", "full_content", "source", "image_url",
	"url", "category", "author", "published_date", "added_date", "is_read",
}

// upsertConflict replaces every column except is_read, and keeps a cached
// full_content unless the incoming row carries non-empty text.
const upsertConflict = `ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    content = excluded.content,
    summary = excluded.summary,
    full_content = CASE
        WHEN excluded.full_content IS NOT NULL AND excluded.full_content != '' THEN excluded.full_content
        ELSE articles.full_content
    END,
    source = excluded.source,
    image_url = excluded.image_url,
    url = excluded.url,
    category = excluded.category,
    author = excluded.author,
    published_date = excluded.published_date,
    added_date = excluded.added_date`

// Upsert inserts articles, replacing existing rows with the same id.
func (db *DB) Upsert(articles []Article) error {
	if len(articles) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	for _, batch := range lo.Chunk(articles, upsertBatch) {
		ib := sqlbuilder.SQLite.NewInsertBuilder()
		ib.InsertInto("articles").Cols(articleColumns...)
		for _, a := range batch {
			ib.Values(a.ID, a.Title, a.Content, a.Summary, a.FullContent, a.Source, a.ImageURL,
				a.URL, a.Category, a.Author, a.PublishedDate, a.AddedDate, boolInt(a.IsRead))
		}
		ib.SQL(upsertConflict)

		query, args := ib.Build()
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("upserting articles: %w", err)
		}
	}

	return tx.Commit()
}

// Get returns a single article by id, or nil if absent.
func (db *DB) Get(id string) (*Article, error) {
	sb := selectArticles()
	sb.Where(sb.Equal("id", id))
	return db.queryOne(sb)
}

// GetNext returns the article with the nearest published date strictly after
// the given one, or nil.
func (db *DB) GetNext(afterPublished int64) (*Article, error) {
	sb := selectArticles()
	sb.Where(sb.GreaterThan("published_date", afterPublished))
	sb.OrderBy("published_date ASC", "added_date ASC")
	sb.Limit(1)
	return db.queryOne(sb)
}

// GetPrevious returns the article with the nearest published date strictly
// before the given one, or nil.
func (db *DB) GetPrevious(beforePublished int64) (*Article, error) {
	sb := selectArticles()
	sb.Where(sb.LessThan("published_date", beforePublished))
	sb.OrderBy("published_date DESC", "added_date DESC")
	sb.Limit(1)
	return db.queryOne(sb)
}

// MarkRead flags an article as read.
func (db *DB) MarkRead(id string) error {
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("articles").Set(ub.Assign("is_read", 1)).Where(ub.Equal("id", id))
	query, args := ub.Build()
	_, err := db.conn.Exec(query, args...)
	return err
}

// UpdateFullContent caches the extracted full text of an article.
func (db *DB) UpdateFullContent(id, text string) error {
	ub := sqlbuilder.SQLite.NewUpdateBuilder()
	ub.Update("articles").Set(ub.Assign("full_content", text)).Where(ub.Equal("id", id))
	query, args := ub.Build()
	_, err := db.conn.Exec(query, args...)
	return err
}

// ListAll returns every article, newest published first.
func (db *DB) ListAll() ([]Article, error) {
	sb := selectArticles()
	sb.OrderBy("published_date DESC", "added_date DESC")
	return db.queryMany(sb)
}

// ListRecent returns the most recently ingested articles.
func (db *DB) ListRecent(limit int) ([]Article, error) {
	sb := selectArticles()
	sb.OrderBy("added_date DESC", "published_date DESC")
	sb.Limit(limit)
	return db.queryMany(sb)
}

// ListMissingFullContent returns articles with a link but no cached full text,
// newest published first.
func (db *DB) ListMissingFullContent(limit int) ([]Article, error) {
	sb := selectArticles()
	sb.Where(
		sb.Or(sb.IsNull("full_content"), sb.Equal("full_content", "")),
		sb.NotEqual("url", ""),
	)
	sb.OrderBy("published_date DESC", "added_date DESC")
	sb.Limit(limit)
	return db.queryMany(sb)
}

// Count returns the number of stored articles.
func (db *DB) Count() (int, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("COUNT(*)").From("articles")
	query, args := sb.Build()

	var n int
	if err := db.conn.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting articles: %w", err)
	}
	return n, nil
}

// Clear deletes every article.
func (db *DB) Clear() error {
	del := sqlbuilder.SQLite.NewDeleteBuilder()
	del.DeleteFrom("articles")
	query, args := del.Build()
	_, err := db.conn.Exec(query, args...)
	return err
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	err := db.conn.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN full_content IS NOT NULL AND full_content != '' THEN 1 ELSE 0 END), 0),
		COUNT(DISTINCT NULLIF(source, ''))
		FROM articles`).Scan(&s.TotalArticles, &s.UnreadArticles, &s.WithFullContent, &s.Sources)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	return &s, nil
}

func selectArticles() *sqlbuilder.SelectBuilder {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(articleColumns...).From("articles")
	return sb
}

func (db *DB) queryOne(sb *sqlbuilder.SelectBuilder) (*Article, error) {
	query, args := sb.Build()
	a, err := scanArticle(db.conn.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (db *DB) queryMany(sb *sqlbuilder.SelectBuilder) ([]Article, error) {
	query, args := sb.Build()
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInto(s scanner, a *Article) error {
	var read int
	if err := s.Scan(&a.ID, &a.Title, &a.Content, &a.Summary, &a.FullContent, &a.Source,
		&a.ImageURL, &a.URL, &a.Category, &a.Author, &a.PublishedDate, &a.AddedDate, &read); err != nil {
		return err
	}
	a.IsRead = read != 0
	return nil
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		var a Article
		if err := scanInto(rows, &a); err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func scanArticle(row *sql.Row) (*Article, error) {
	var a Article
	if err := scanInto(row, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
