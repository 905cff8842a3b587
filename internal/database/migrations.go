package database

import (
	"database/sql"

	"github.com/TobiSchelling/EthicsNews/internal/classify"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS companies (
    name TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    website TEXT NOT NULL DEFAULT '',
    logo TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS categories (
    name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    published_date TEXT NOT NULL,
    retrieved TEXT
);

CREATE TABLE IF NOT EXISTS article_categories (
    article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
    category TEXT NOT NULL REFERENCES categories(name),
    PRIMARY KEY (article_id, category)
);

CREATE TABLE IF NOT EXISTS article_companies (
    article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
    company TEXT NOT NULL REFERENCES companies(name) ON DELETE CASCADE,
    PRIMARY KEY (article_id, company)
);

CREATE TABLE IF NOT EXISTS found_counts (
    company TEXT NOT NULL REFERENCES companies(name) ON DELETE CASCADE,
    category TEXT NOT NULL REFERENCES categories(name),
    count INTEGER NOT NULL DEFAULT 0,
    refreshed_at TEXT,
    PRIMARY KEY (company, category)
);

CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_date);
CREATE INDEX IF NOT EXISTS idx_article_companies_company ON article_companies(company);
CREATE INDEX IF NOT EXISTS idx_article_categories_category ON article_categories(category);
`)
			if err != nil {
				return err
			}

			names := append(classify.Names(), classify.Uncategorized)
			for _, name := range names {
				if _, err := tx.Exec("INSERT OR IGNORE INTO categories (name) VALUES (?)", name); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "company directory",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS company_industries (
    company TEXT NOT NULL REFERENCES companies(name) ON DELETE CASCADE,
    industry TEXT NOT NULL,
    PRIMARY KEY (company, industry)
);

CREATE TABLE IF NOT EXISTS company_aliases (
    alias TEXT PRIMARY KEY COLLATE NOCASE,
    company TEXT NOT NULL REFERENCES companies(name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_company_aliases_company ON company_aliases(company);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
