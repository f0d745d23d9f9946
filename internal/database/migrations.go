package database

// migration is one schema step. Entry i of schema takes the store from
// version i to version i+1; append only.
type migration struct {
	name string
	sql  string
}

var schema = []migration{
	{
		name: "articles table",
		sql: `
CREATE TABLE IF NOT EXISTS articles (
    id TEXT PRIMARY KEY NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    full_content TEXT,
    source TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    published_date INTEGER NOT NULL DEFAULT 0,
    added_date INTEGER NOT NULL DEFAULT 0,
    is_read INTEGER NOT NULL DEFAULT 0
);`,
	},
	{
		name: "ordering indexes",
		sql: `
CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_date, added_date);
CREATE INDEX IF NOT EXISTS idx_articles_added ON articles(added_date);
CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source);`,
	},
}
