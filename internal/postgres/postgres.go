// Package postgres is the PostgreSQL implementation of the article store,
// for deployments that share one database between several API instances.
// Fetch cycles of different instances are serialised per (company, category)
// with advisory locks, see LockPair.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/TobiSchelling/EthicsNews/internal/classify"
	"github.com/TobiSchelling/EthicsNews/internal/paging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is an article store backed by a pgx connection pool.
type Store struct {
	pool  *pgxpool.Pool
	pager paging.Resolver
	log   *zap.Logger
}

// Option configures Connect.
type Option func(*Store)

// WithPageSize sets the number of articles per page.
func WithPageSize(n int) Option {
	return func(s *Store) { s.pager = paging.New(n) }
}

// WithLogger sets the store logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Connect opens a pool, applies pending migrations and seeds the category
// table.
func Connect(ctx context.Context, url string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &Store{
		pool:  pool,
		pager: paging.New(paging.DefaultPageSize),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies pending schema migrations and seeds the closed category
// set.
func (s *Store) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return err
	}

	// Closing the database/sql view leaves the pool open.
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	for _, r := range results {
		s.log.Info("applied migration",
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("took", r.Duration))
	}

	names := append(classify.Names(), classify.Uncategorized)
	for _, name := range names {
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO categories (name) VALUES ($1) ON CONFLICT DO NOTHING", name); err != nil {
			return fmt.Errorf("seeding category %q: %w", name, err)
		}
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// PageSize returns the number of articles per page.
func (s *Store) PageSize() int {
	return s.pager.Size
}
