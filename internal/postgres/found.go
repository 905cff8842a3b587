package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/TobiSchelling/EthicsNews/internal/classify"
	"github.com/TobiSchelling/EthicsNews/internal/database"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertFound(ctx context.Context, ex execer, company, category string, n int, allowDecrease bool, refreshed *time.Time) error {
	_, err := ex.Exec(ctx,
		`INSERT INTO found_counts (company, category, count, refreshed_at) VALUES ($1, $2, $3, $4::timestamptz)
		ON CONFLICT (company, category) DO UPDATE SET
			count = CASE WHEN $5::boolean THEN EXCLUDED.count ELSE GREATEST(found_counts.count, EXCLUDED.count) END,
			refreshed_at = COALESCE(EXCLUDED.refreshed_at, found_counts.refreshed_at)`,
		company, category, n, refreshed, allowDecrease)
	return err
}

// SetFound records the provider's found count for a (company, category)
// pair. The count never decreases unless allowDecrease is set.
func (s *Store) SetFound(ctx context.Context, company, category string, n int, allowDecrease bool) error {
	if !classify.Valid(category) {
		return fmt.Errorf("set found: unknown category %q", category)
	}
	if err := upsertFound(ctx, s.pool, company, category, n, allowDecrease, nil); err != nil {
		return fmt.Errorf("set found for %s/%s: %w", company, category, err)
	}
	return nil
}

// FoundCount returns the recorded found count, summed over categories when
// category is empty.
func (s *Store) FoundCount(ctx context.Context, company, category string) (int, bool, error) {
	q := "SELECT COALESCE(SUM(count), 0), COUNT(*) FROM found_counts WHERE company = $1"
	args := []any{company}
	if category != "" && category != classify.All {
		q += " AND category = $2"
		args = append(args, category)
	}

	var sum, rows int64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&sum, &rows); err != nil {
		return 0, false, fmt.Errorf("reading found count: %w", err)
	}
	return int(sum), rows > 0, nil
}

// LastRefresh returns when the pair was last refreshed by an unbounded
// fetch; with an empty category, the least recent refresh of the company.
func (s *Store) LastRefresh(ctx context.Context, company, category string) (time.Time, bool, error) {
	q := "SELECT COUNT(*), COUNT(refreshed_at), MIN(refreshed_at) FROM found_counts WHERE company = $1"
	args := []any{company}
	if category != "" && category != classify.All {
		q += " AND category = $2"
		args = append(args, category)
	}

	var (
		rows, stamped int64
		oldest        *time.Time
	)
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&rows, &stamped, &oldest); err != nil {
		return time.Time{}, false, fmt.Errorf("reading last refresh: %w", err)
	}
	if rows == 0 || stamped < rows || oldest == nil {
		return time.Time{}, false, nil
	}
	return oldest.UTC(), true, nil
}

// Stats returns aggregate database statistics.
func (s *Store) Stats(ctx context.Context) (*database.Stats, error) {
	var (
		st   database.Stats
		last *time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM companies),
		(SELECT COUNT(*) FROM articles),
		(SELECT COUNT(*) FROM article_companies),
		(SELECT COUNT(DISTINCT article_id) FROM article_categories WHERE category <> 'uncategorized'),
		(SELECT COUNT(*) FROM found_counts),
		(SELECT MAX(refreshed_at) FROM found_counts)`,
	).Scan(&st.Companies, &st.Articles, &st.Associations, &st.Categorized, &st.FoundPairs, &last)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	if last != nil {
		t := last.UTC()
		st.LastRefresh = &t
	}
	return &st, nil
}
