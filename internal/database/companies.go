package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// AddCompany creates or updates a directory entry. Industries and aliases are
// added to whatever is already recorded.
func (db *DB) AddCompany(ctx context.Context, c Company) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return errors.New("company name is required")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO companies (name, description, website, logo) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE companies.description END,
			website = CASE WHEN excluded.website != '' THEN excluded.website ELSE companies.website END,
			logo = CASE WHEN excluded.logo != '' THEN excluded.logo ELSE companies.logo END`,
		c.Name, c.Description, c.Website, c.Logo); err != nil {
		return fmt.Errorf("saving company %s: %w", c.Name, err)
	}

	for _, ind := range c.Industries {
		if ind = strings.TrimSpace(ind); ind == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO company_industries (company, industry) VALUES (?, ?)",
			c.Name, ind); err != nil {
			return fmt.Errorf("saving industry %q: %w", ind, err)
		}
	}
	for _, alias := range c.Aliases {
		if alias = strings.TrimSpace(alias); alias == "" || strings.EqualFold(alias, c.Name) {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO company_aliases (alias, company) VALUES (?, ?)",
			alias, c.Name); err != nil {
			return fmt.Errorf("saving alias %q: %w", alias, err)
		}
	}

	return tx.Commit()
}

// ResolveCompany maps a user-supplied name or alias, case-insensitively, to
// the canonical company name.
func (db *DB) ResolveCompany(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrCompanyNotFound
	}

	var canonical string
	err := db.conn.QueryRowContext(ctx,
		`SELECT name FROM companies WHERE name = ? COLLATE NOCASE
		UNION ALL
		SELECT company FROM company_aliases WHERE alias = ?
		LIMIT 1`, name, name).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrCompanyNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("resolving company %s: %w", name, err)
	}
	return canonical, nil
}

// CompanyExists reports whether name resolves to a known company.
func (db *DB) CompanyExists(ctx context.Context, name string) (bool, error) {
	_, err := db.ResolveCompany(ctx, name)
	if errors.Is(err, ErrCompanyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetCompany returns the directory entry for a name or alias.
func (db *DB) GetCompany(ctx context.Context, name string) (*Company, error) {
	canonical, err := db.ResolveCompany(ctx, name)
	if err != nil {
		return nil, err
	}

	c := Company{Name: canonical}
	if err := db.conn.QueryRowContext(ctx,
		"SELECT description, website, logo FROM companies WHERE name = ?", canonical,
	).Scan(&c.Description, &c.Website, &c.Logo); err != nil {
		return nil, fmt.Errorf("reading company %s: %w", canonical, err)
	}

	if c.Industries, err = db.queryStrings(ctx,
		"SELECT industry FROM company_industries WHERE company = ? ORDER BY industry", canonical); err != nil {
		return nil, err
	}
	if c.Aliases, err = db.queryStrings(ctx,
		"SELECT alias FROM company_aliases WHERE company = ? ORDER BY alias", canonical); err != nil {
		return nil, err
	}
	return &c, nil
}

// SearchCompanies returns canonical names whose name or alias contains
// query, case-insensitively, in name order.
func (db *DB) SearchCompanies(ctx context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(strings.ReplaceAll(query, `"`, ""))
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(query) + "%"
	return db.queryStrings(ctx,
		`SELECT name FROM companies WHERE name LIKE ? ESCAPE '\'
		UNION
		SELECT company FROM company_aliases WHERE alias LIKE ? ESCAPE '\'
		ORDER BY 1 COLLATE NOCASE LIMIT ?`, pattern, pattern, limit)
}

// ListCompanies returns every canonical company name.
func (db *DB) ListCompanies(ctx context.Context) ([]string, error) {
	return db.queryStrings(ctx, "SELECT name FROM companies ORDER BY name COLLATE NOCASE")
}

func (db *DB) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
