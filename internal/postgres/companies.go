package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/TobiSchelling/EthicsNews/internal/database"
)

// AddCompany creates or updates a directory entry.
func (s *Store) AddCompany(ctx context.Context, c database.Company) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return errors.New("company name is required")
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO companies (name, description, website, logo) VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET
				description = COALESCE(NULLIF(EXCLUDED.description, ''), companies.description),
				website = COALESCE(NULLIF(EXCLUDED.website, ''), companies.website),
				logo = COALESCE(NULLIF(EXCLUDED.logo, ''), companies.logo)`,
			c.Name, c.Description, c.Website, c.Logo); err != nil {
			return fmt.Errorf("saving company %s: %w", c.Name, err)
		}

		for _, ind := range c.Industries {
			if ind = strings.TrimSpace(ind); ind == "" {
				continue
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO company_industries (company, industry) VALUES ($1, $2) ON CONFLICT DO NOTHING",
				c.Name, ind); err != nil {
				return fmt.Errorf("saving industry %q: %w", ind, err)
			}
		}
		for _, alias := range c.Aliases {
			if alias = strings.TrimSpace(alias); alias == "" || strings.EqualFold(alias, c.Name) {
				continue
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO company_aliases (alias, company) VALUES ($1, $2) ON CONFLICT DO NOTHING",
				alias, c.Name); err != nil {
				return fmt.Errorf("saving alias %q: %w", alias, err)
			}
		}
		return nil
	})
}

// ResolveCompany maps a name or alias, case-insensitively, to the canonical
// company name.
func (s *Store) ResolveCompany(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", database.ErrCompanyNotFound
	}

	var canonical string
	err := s.pool.QueryRow(ctx,
		`SELECT name FROM companies WHERE lower(name) = lower($1)
		UNION ALL
		SELECT company FROM company_aliases WHERE lower(alias) = lower($1)
		LIMIT 1`, name).Scan(&canonical)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", database.ErrCompanyNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("resolving company %s: %w", name, err)
	}
	return canonical, nil
}

// CompanyExists reports whether name resolves to a known company.
func (s *Store) CompanyExists(ctx context.Context, name string) (bool, error) {
	_, err := s.ResolveCompany(ctx, name)
	if errors.Is(err, database.ErrCompanyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetCompany returns the directory entry for a name or alias.
func (s *Store) GetCompany(ctx context.Context, name string) (*database.Company, error) {
	canonical, err := s.ResolveCompany(ctx, name)
	if err != nil {
		return nil, err
	}

	c := database.Company{Name: canonical}
	err = s.pool.QueryRow(ctx,
		`SELECT description, website, logo,
			COALESCE((SELECT array_agg(industry ORDER BY industry) FROM company_industries WHERE company = $1), '{}'),
			COALESCE((SELECT array_agg(alias ORDER BY alias) FROM company_aliases WHERE company = $1), '{}')
		FROM companies WHERE name = $1`, canonical,
	).Scan(&c.Description, &c.Website, &c.Logo, &c.Industries, &c.Aliases)
	if err != nil {
		return nil, fmt.Errorf("reading company %s: %w", canonical, err)
	}
	return &c, nil
}

// SearchCompanies returns canonical names whose name or alias contains
// query, case-insensitively.
func (s *Store) SearchCompanies(ctx context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(strings.ReplaceAll(query, `"`, ""))
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"
	return s.queryStrings(ctx,
		`SELECT name FROM (
			SELECT name FROM companies WHERE name ILIKE $1
			UNION
			SELECT company FROM company_aliases WHERE alias ILIKE $1
		) m ORDER BY lower(name) LIMIT $2`, pattern, limit)
}

// ListCompanies returns every canonical company name.
func (s *Store) ListCompanies(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT name FROM companies ORDER BY lower(name)")
}

func (s *Store) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
