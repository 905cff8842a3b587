package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/TobiSchelling/EthicsNews/internal/classify"
	"github.com/TobiSchelling/EthicsNews/internal/database"
)

const articleColumns = `a.id, a.url, a.title, a.description, a.source, a.published_date, a.retrieved,
	COALESCE((SELECT array_agg(category) FROM article_categories WHERE article_id = a.id), '{}')`

// scope returns the FROM/WHERE clause selecting a company's articles,
// optionally restricted to one category.
func scope(company, category string) (string, []any) {
	q := ` FROM articles a JOIN article_companies ac ON ac.article_id = a.id WHERE ac.company = $1`
	args := []any{company}
	if category != "" && category != classify.All {
		q += ` AND EXISTS (SELECT 1 FROM article_categories c WHERE c.article_id = a.id AND c.category = $2)`
		args = append(args, category)
	}
	return q, args
}

// InsertArticles merges articles for a company in one transaction.
func (s *Store) InsertArticles(ctx context.Context, company string, articles []database.Article) (database.MergeResult, error) {
	var res database.MergeResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		res, err = mergeArticles(ctx, tx, company, articles, time.Now())
		return err
	})
	if err != nil {
		return database.MergeResult{}, err
	}
	return res, nil
}

// SaveFetch persists a provider fetch in a single transaction.
func (s *Store) SaveFetch(ctx context.Context, b database.FetchBatch) (database.MergeResult, error) {
	if b.FetchedAt.IsZero() {
		b.FetchedAt = time.Now()
	}

	var res database.MergeResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if res, err = mergeArticles(ctx, tx, b.Company, b.Articles, b.FetchedAt); err != nil {
			return err
		}

		if b.Bounded {
			_, err = tx.Exec(ctx,
				`INSERT INTO found_counts (company, category, count) VALUES ($1, $2, $3)
				ON CONFLICT (company, category) DO NOTHING`,
				b.Company, b.Category, b.Found)
		} else {
			refreshed := b.FetchedAt.UTC()
			err = upsertFound(ctx, tx, b.Company, b.Category, b.Found, b.AllowDecrease, &refreshed)
		}
		if err != nil {
			return fmt.Errorf("updating found count: %w", err)
		}
		return nil
	})
	if err != nil {
		return database.MergeResult{}, err
	}
	return res, nil
}

func mergeArticles(ctx context.Context, tx pgx.Tx, company string, articles []database.Article, retrieved time.Time) (database.MergeResult, error) {
	var res database.MergeResult
	retrieved = retrieved.UTC().Truncate(time.Second)

	for _, a := range articles {
		var (
			id       int64
			inserted bool
		)
		err := tx.QueryRow(ctx,
			`INSERT INTO articles (url, title, description, source, published_date, retrieved)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (url) DO UPDATE SET retrieved = EXCLUDED.retrieved
			RETURNING id, (xmax = 0)`,
			a.URL, a.Title, a.Description, a.Source, a.PublishedAt.UTC(), retrieved,
		).Scan(&id, &inserted)
		if err != nil {
			return res, fmt.Errorf("upserting article %s: %w", a.URL, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}

		if _, err := tx.Exec(ctx,
			"INSERT INTO article_companies (article_id, company) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			id, company); err != nil {
			return res, fmt.Errorf("linking article to %s: %w", company, err)
		}

		labels := a.Categories
		if len(labels) == 0 {
			labels = []string{classify.Uncategorized}
		}
		for _, c := range labels {
			if _, err := tx.Exec(ctx,
				"INSERT INTO article_categories (article_id, category) VALUES ($1, $2) ON CONFLICT DO NOTHING",
				id, c); err != nil {
				return res, fmt.Errorf("tagging article with %q: %w", c, err)
			}
		}
	}
	return res, nil
}

// Page returns one page of a company's articles, newest first.
func (s *Store) Page(ctx context.Context, company string, page int, category string) ([]database.Article, error) {
	if page < 1 {
		return nil, fmt.Errorf("invalid page %d", page)
	}

	count, err := s.ArticleCount(ctx, company, category)
	if err != nil {
		return nil, err
	}
	if !s.pager.Available(page, count) {
		return nil, &database.PageNotAvailableError{Page: page, MaxPage: s.pager.MaxPage(count)}
	}

	offset, limit := s.pager.Window(page)
	from, args := scope(company, category)
	n := len(args)
	q := fmt.Sprintf("SELECT %s%s ORDER BY a.published_date DESC, a.id DESC LIMIT $%d OFFSET $%d",
		articleColumns, from, n+1, n+2)

	rows, err := s.pool.Query(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying page %d: %w", page, err)
	}
	defer rows.Close()

	var out []database.Article
	for rows.Next() {
		var a database.Article
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Description, &a.Source,
			&a.PublishedAt, &a.Retrieved, &a.Categories); err != nil {
			return nil, err
		}
		a.PublishedAt = a.PublishedAt.UTC()
		if a.Retrieved != nil {
			r := a.Retrieved.UTC()
			a.Retrieved = &r
		}
		classify.Sort(a.Categories)
		a.Company = company
		out = append(out, a)
	}
	return out, rows.Err()
}

// ArticleCount returns the number of stored articles for a company.
func (s *Store) ArticleCount(ctx context.Context, company, category string) (int, error) {
	from, args := scope(company, category)
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*)"+from, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting articles: %w", err)
	}
	return n, nil
}

// OldestPublished returns the publish date of the company's oldest stored
// article.
func (s *Store) OldestPublished(ctx context.Context, company, category string) (time.Time, bool, error) {
	from, args := scope(company, category)
	var oldest *time.Time
	if err := s.pool.QueryRow(ctx, "SELECT MIN(a.published_date)"+from, args...).Scan(&oldest); err != nil {
		return time.Time{}, false, fmt.Errorf("reading oldest article: %w", err)
	}
	if oldest == nil {
		return time.Time{}, false, nil
	}
	return oldest.UTC(), true, nil
}
