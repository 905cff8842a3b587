package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/TobiSchelling/EthicsNews/internal/classify"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// upsertFound writes a found count. Unless allowDecrease is set the stored
// count only grows. A nil refreshed keeps the existing refresh stamp.
func upsertFound(ctx context.Context, ex execer, company, category string, n int, allowDecrease bool, refreshed *string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO found_counts (company, category, count, refreshed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(company, category) DO UPDATE SET
			count = CASE WHEN ? THEN excluded.count ELSE max(found_counts.count, excluded.count) END,
			refreshed_at = COALESCE(excluded.refreshed_at, found_counts.refreshed_at)`,
		company, category, n, refreshed, allowDecrease)
	return err
}

// SetFound records the provider's found count for a (company, category)
// pair. The count never decreases unless allowDecrease is set.
func (db *DB) SetFound(ctx context.Context, company, category string, n int, allowDecrease bool) error {
	if !classify.Valid(category) {
		return fmt.Errorf("set found: unknown category %q", category)
	}
	if err := upsertFound(ctx, db.conn, company, category, n, allowDecrease, nil); err != nil {
		return fmt.Errorf("set found for %s/%s: %w", company, category, err)
	}
	return nil
}

// FoundCount returns the recorded found count. An empty category sums every
// category of the company. ok is false when no count has been recorded.
func (db *DB) FoundCount(ctx context.Context, company, category string) (int, bool, error) {
	q := "SELECT COALESCE(SUM(count), 0), COUNT(*) FROM found_counts WHERE company = ?"
	args := []any{company}
	if category != "" && category != classify.All {
		q += " AND category = ?"
		args = append(args, category)
	}

	var sum, rows int
	if err := db.conn.QueryRowContext(ctx, q, args...).Scan(&sum, &rows); err != nil {
		return 0, false, fmt.Errorf("reading found count: %w", err)
	}
	return sum, rows > 0, nil
}

// LastRefresh returns when the pair was last refreshed by an unbounded
// fetch. An empty category returns the least recent refresh across the
// company's pairs, and reports none if any pair was never refreshed.
func (db *DB) LastRefresh(ctx context.Context, company, category string) (time.Time, bool, error) {
	q := "SELECT COUNT(*), COUNT(refreshed_at), MIN(refreshed_at) FROM found_counts WHERE company = ?"
	args := []any{company}
	if category != "" && category != classify.All {
		q += " AND category = ?"
		args = append(args, category)
	}

	var (
		rows, stamped int
		oldest        sql.NullString
	)
	if err := db.conn.QueryRowContext(ctx, q, args...).Scan(&rows, &stamped, &oldest); err != nil {
		return time.Time{}, false, fmt.Errorf("reading last refresh: %w", err)
	}
	if rows == 0 || stamped < rows {
		return time.Time{}, false, nil
	}
	return parseNullTime(oldest)
}
