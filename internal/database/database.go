package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/TobiSchelling/EthicsNews/internal/paging"
)

// Connection pragmas are passed through the DSN so that every pooled
// connection gets them, not just the first one.
const dsnPragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

// DB wraps a SQLite database connection.
type DB struct {
	conn  *sql.DB
	path  string
	pager paging.Resolver
	log   *zap.Logger
}

// Option configures Open.
type Option func(*DB)

// WithPageSize sets the number of articles per page.
func WithPageSize(n int) Option {
	return func(db *DB) { db.pager = paging.New(n) }
}

// WithLogger sets the logger used for migrations.
func WithLogger(log *zap.Logger) Option {
	return func(db *DB) {
		if log != nil {
			db.log = log
		}
	}
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db := &DB{
		path:  dbPath,
		pager: paging.New(paging.DefaultPageSize),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(db)
	}

	conn, err := sql.Open("sqlite", dbPath+"?"+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := migrate(conn, db.log); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	db.conn = conn
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// PageSize returns the number of articles per page.
func (db *DB) PageSize() int {
	return db.pager.Size
}

// Stats returns aggregate database statistics.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM companies),
		(SELECT COUNT(*) FROM articles),
		(SELECT COUNT(*) FROM article_companies),
		(SELECT COUNT(DISTINCT article_id) FROM article_categories WHERE category != 'uncategorized'),
		(SELECT COUNT(*) FROM found_counts)`,
	).Scan(&s.Companies, &s.Articles, &s.Associations, &s.Categorized, &s.FoundPairs)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}

	var last sql.NullString
	if err := db.conn.QueryRowContext(ctx,
		"SELECT MAX(refreshed_at) FROM found_counts").Scan(&last); err != nil {
		return nil, fmt.Errorf("reading last refresh: %w", err)
	}
	if last.Valid {
		t, err := parseTime(last.String)
		if err != nil {
			return nil, err
		}
		s.LastRefresh = &t
	}
	return &s, nil
}
