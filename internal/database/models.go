package database

import (
	"errors"
	"fmt"
	"time"
)

// ErrCompanyNotFound is returned when a name matches neither a company nor
// one of its aliases.
var ErrCompanyNotFound = errors.New("company not found")

// Article represents a stored article as seen from one company.
type Article struct {
	ID          int64
	Company     string
	URL         string
	Title       string
	Description string
	Source      string
	PublishedAt time.Time
	Retrieved   *time.Time
	Categories  []string
}

// Company is an entry of the company directory.
type Company struct {
	Name        string
	Description string
	Website     string
	Logo        string
	Industries  []string
	Aliases     []string
}

// FetchBatch is the outcome of one provider fetch for a (company, category)
// pair, persisted atomically by SaveFetch.
type FetchBatch struct {
	Company  string
	Category string
	Articles []Article
	// Found is the provider's total match count.
	Found int
	// Bounded marks a fetch capped by a publish date. Bounded fetches only
	// record a found count when none exists yet.
	Bounded bool
	// AllowDecrease lets an unbounded fetch lower the stored found count.
	AllowDecrease bool
	FetchedAt     time.Time
}

// MergeResult counts what a merge did to the article table.
type MergeResult struct {
	Inserted int
	Updated  int
}

// Stats contains aggregate database statistics.
type Stats struct {
	Companies    int
	Articles     int
	Associations int
	Categorized  int
	FoundPairs   int
	LastRefresh  *time.Time
}

// PageNotAvailableError reports a page beyond what is stored locally.
type PageNotAvailableError struct {
	Page    int
	MaxPage int
}

func (e *PageNotAvailableError) Error() string {
	return fmt.Sprintf("page %d not available locally (max page %d)", e.Page, e.MaxPage)
}
