package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/EthicsNews/internal/classify"
)

const articleColumns = `a.id, a.url, a.title, a.description, a.source, a.published_date, a.retrieved,
	(SELECT group_concat(category, '|') FROM article_categories WHERE article_id = a.id)`

// scope returns the FROM/WHERE clause selecting a company's articles,
// optionally restricted to one category. An empty category, or the "all"
// sentinel, selects every category.
func scope(company, category string) (string, []any) {
	q := ` FROM articles a JOIN article_companies ac ON ac.article_id = a.id WHERE ac.company = ?`
	args := []any{company}
	if category != "" && category != classify.All {
		q += ` AND EXISTS (SELECT 1 FROM article_categories c WHERE c.article_id = a.id AND c.category = ?)`
		args = append(args, category)
	}
	return q, args
}

// InsertArticles merges articles for a company in one transaction. Articles
// already stored (by URL) only get their retrieved timestamp refreshed; new
// company and category associations are added either way.
func (db *DB) InsertArticles(ctx context.Context, company string, articles []Article) (MergeResult, error) {
	var res MergeResult
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	res, err = mergeArticles(ctx, tx, company, articles, time.Now())
	if err != nil {
		return MergeResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return MergeResult{}, fmt.Errorf("commit merge: %w", err)
	}
	return res, nil
}

// SaveFetch persists a provider fetch: article merge, associations and the
// found count update happen in a single transaction.
func (db *DB) SaveFetch(ctx context.Context, b FetchBatch) (MergeResult, error) {
	if b.FetchedAt.IsZero() {
		b.FetchedAt = time.Now()
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return MergeResult{}, fmt.Errorf("begin fetch: %w", err)
	}
	defer tx.Rollback()

	res, err := mergeArticles(ctx, tx, b.Company, b.Articles, b.FetchedAt)
	if err != nil {
		return MergeResult{}, err
	}

	if b.Bounded {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO found_counts (company, category, count) VALUES (?, ?, ?)
			ON CONFLICT(company, category) DO NOTHING`,
			b.Company, b.Category, b.Found)
	} else {
		refreshed := formatTime(b.FetchedAt)
		err = upsertFound(ctx, tx, b.Company, b.Category, b.Found, b.AllowDecrease, &refreshed)
	}
	if err != nil {
		return MergeResult{}, fmt.Errorf("updating found count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return MergeResult{}, fmt.Errorf("commit fetch: %w", err)
	}
	return res, nil
}

func mergeArticles(ctx context.Context, tx *sql.Tx, company string, articles []Article, retrieved time.Time) (MergeResult, error) {
	var res MergeResult
	stamp := formatTime(retrieved)

	for _, a := range articles {
		var id int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM articles WHERE url = ?", a.URL).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			result, err := tx.ExecContext(ctx,
				`INSERT INTO articles (url, title, description, source, published_date, retrieved)
				VALUES (?, ?, ?, ?, ?, ?)`,
				a.URL, a.Title, a.Description, a.Source, formatTime(a.PublishedAt), stamp)
			if err != nil {
				return res, fmt.Errorf("inserting article %s: %w", a.URL, err)
			}
			if id, err = result.LastInsertId(); err != nil {
				return res, err
			}
			res.Inserted++
		case err != nil:
			return res, fmt.Errorf("looking up article %s: %w", a.URL, err)
		default:
			if _, err := tx.ExecContext(ctx,
				"UPDATE articles SET retrieved = ? WHERE id = ?", stamp, id); err != nil {
				return res, fmt.Errorf("updating article %s: %w", a.URL, err)
			}
			res.Updated++
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO article_companies (article_id, company) VALUES (?, ?)",
			id, company); err != nil {
			return res, fmt.Errorf("linking article to %s: %w", company, err)
		}

		labels := a.Categories
		if len(labels) == 0 {
			labels = []string{classify.Uncategorized}
		}
		for _, c := range labels {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO article_categories (article_id, category) VALUES (?, ?)",
				id, c); err != nil {
				return res, fmt.Errorf("tagging article with %q: %w", c, err)
			}
		}
	}
	return res, nil
}

// Page returns one page of a company's articles, newest first. A page beyond
// the stored extent fails with *PageNotAvailableError carrying the current
// max page.
func (db *DB) Page(ctx context.Context, company string, page int, category string) ([]Article, error) {
	if page < 1 {
		return nil, fmt.Errorf("invalid page %d", page)
	}

	count, err := db.ArticleCount(ctx, company, category)
	if err != nil {
		return nil, err
	}
	if !db.pager.Available(page, count) {
		return nil, &PageNotAvailableError{Page: page, MaxPage: db.pager.MaxPage(count)}
	}

	offset, limit := db.pager.Window(page)
	from, args := scope(company, category)
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+articleColumns+from+" ORDER BY a.published_date DESC, a.id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying page %d: %w", page, err)
	}
	defer rows.Close()
	return scanArticles(rows, company)
}

// ArticleCount returns the number of stored articles for a company.
func (db *DB) ArticleCount(ctx context.Context, company, category string) (int, error) {
	from, args := scope(company, category)
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*)"+from, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting articles: %w", err)
	}
	return n, nil
}

// OldestPublished returns the publish date of the company's oldest stored
// article. ok is false when nothing is stored.
func (db *DB) OldestPublished(ctx context.Context, company, category string) (time.Time, bool, error) {
	from, args := scope(company, category)
	var oldest sql.NullString
	if err := db.conn.QueryRowContext(ctx, "SELECT MIN(a.published_date)"+from, args...).Scan(&oldest); err != nil {
		return time.Time{}, false, fmt.Errorf("reading oldest article: %w", err)
	}
	return parseNullTime(oldest)
}

// GetArticleByURL returns a single article by URL, or nil if absent.
func (db *DB) GetArticleByURL(ctx context.Context, url string) (*Article, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+articleColumns+" FROM articles a WHERE a.url = ?", url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	articles, err := scanArticles(rows, "")
	if err != nil || len(articles) == 0 {
		return nil, err
	}
	return &articles[0], nil
}

func scanArticles(rows *sql.Rows, company string) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		var (
			a         Article
			published string
			retrieved sql.NullString
			labels    sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Description, &a.Source,
			&published, &retrieved, &labels); err != nil {
			return nil, err
		}

		t, err := parseTime(published)
		if err != nil {
			return nil, err
		}
		a.PublishedAt = t

		r, ok, err := parseNullTime(retrieved)
		if err != nil {
			return nil, err
		}
		if ok {
			a.Retrieved = &r
		}

		if labels.Valid && labels.String != "" {
			a.Categories = strings.Split(labels.String, "|")
			classify.Sort(a.Categories)
		}
		a.Company = company
		articles = append(articles, a)
	}
	return articles, rows.Err()
}
