// Package refresh decides, per request, whether a page of a company's
// articles can be served from the store or needs a provider fetch first.
//
// There is no persisted state machine. Every request re-reads the found
// count, the last refresh and the stored extent of each (company, category)
// pair and derives from them whether the pair is cold, stale, fresh or short
// of the requested page.
package refresh

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/EthicsNews/internal/classify"
	"github.com/TobiSchelling/EthicsNews/internal/collect"
	"github.com/TobiSchelling/EthicsNews/internal/database"
	"github.com/TobiSchelling/EthicsNews/internal/paging"
)

// Store is the article store as used by the policy. Both the SQLite and the
// Postgres stores implement it.
type Store interface {
	ResolveCompany(ctx context.Context, name string) (string, error)
	FoundCount(ctx context.Context, company, category string) (int, bool, error)
	LastRefresh(ctx context.Context, company, category string) (time.Time, bool, error)
	OldestPublished(ctx context.Context, company, category string) (time.Time, bool, error)
	ArticleCount(ctx context.Context, company, category string) (int, error)
	Page(ctx context.Context, company string, page int, category string) ([]database.Article, error)
	SaveFetch(ctx context.Context, b database.FetchBatch) (database.MergeResult, error)
}

// PairLocker is implemented by stores shared between processes. A fetch
// cycle holds the pair's lock from its re-check until the result is saved,
// so that only one process calls the provider for a pair at a time.
type PairLocker interface {
	LockPair(ctx context.Context, company, category string) (unlock func(), err error)
}

// Searcher queries the news provider.
type Searcher interface {
	Search(ctx context.Context, q collect.Query) (*collect.Result, error)
}

// Options configures a Policy. Zero values take the defaults below.
type Options struct {
	PageSize int
	// StaleAfter is how old the last unbounded fetch of a pair may be before
	// page 1 triggers a refresh. Default 48h.
	StaleAfter time.Duration
	// MinFetchInterval spaces consecutive provider calls. Default 1s; a
	// negative value disables pacing.
	MinFetchInterval time.Duration
	// FetchTimeout bounds one fetch cycle. Default 60s.
	FetchTimeout time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

// Policy serves article pages, fetching from the provider when the store
// cannot answer.
type Policy struct {
	store        Store
	searcher     Searcher
	pager        paging.Resolver
	staleAfter   time.Duration
	fetchTimeout time.Duration
	limiter      *rate.Limiter
	group        singleflight.Group
	log          *zap.Logger
	now          func() time.Time
}

// New creates a Policy.
func New(store Store, searcher Searcher, opts Options) *Policy {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 48 * time.Hour
	}
	if opts.MinFetchInterval == 0 {
		opts.MinFetchInterval = time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	limit := rate.Inf
	if opts.MinFetchInterval > 0 {
		limit = rate.Every(opts.MinFetchInterval)
	}

	return &Policy{
		store:        store,
		searcher:     searcher,
		pager:        paging.New(opts.PageSize),
		staleAfter:   opts.StaleAfter,
		fetchTimeout: opts.FetchTimeout,
		limiter:      rate.NewLimiter(limit, 1),
		log:          opts.Logger,
		now:          opts.Now,
	}
}

// FetchPage returns one page of a company's articles, newest first. An empty
// category (or "all") covers every category: each one is refreshed on its
// own and the page is taken from the union of the company's articles.
//
// Errors: *ValidationError, database.ErrCompanyNotFound, *RangeError,
// *SequencingError, collect.ErrQuotaExceeded and whatever the store or the
// transport report.
func (p *Policy) FetchPage(ctx context.Context, company string, page int, category string) ([]database.Article, error) {
	category = classify.Normalize(category)
	if category == classify.All {
		category = ""
	}
	if page < 1 {
		return nil, &ValidationError{Field: "page", Value: strconv.Itoa(page), Reason: "must be a positive integer"}
	}
	if category != "" && !classify.Valid(category) {
		return nil, &ValidationError{Field: "category", Value: category, Reason: "not an ethics category"}
	}

	name, err := p.store.ResolveCompany(ctx, company)
	if err != nil {
		return nil, err
	}

	categories := []string{category}
	if category == "" {
		categories = classify.Names()
	}

	for _, c := range categories {
		if err := p.ensureFresh(ctx, name, c, page); err != nil {
			return nil, err
		}
	}

	found, _, err := p.store.FoundCount(ctx, name, category)
	if err != nil {
		return nil, err
	}
	total := p.pager.PageCount(found)
	if total == 0 && page == 1 {
		return []database.Article{}, nil
	}
	if page > total {
		return nil, &RangeError{Requested: page, TotalPages: total}
	}

	articles, err := p.store.Page(ctx, name, page, category)
	var pna *database.PageNotAvailableError
	if !errors.As(err, &pna) {
		return articles, err
	}
	if page != pna.MaxPage+1 {
		return nil, &SequencingError{Requested: page, MaxPage: pna.MaxPage}
	}

	for _, c := range categories {
		if len(categories) > 1 {
			exhausted, err := p.exhausted(ctx, name, c)
			if err != nil {
				return nil, err
			}
			if exhausted {
				continue
			}
		}
		if err := p.extend(ctx, name, c); err != nil {
			return nil, err
		}
	}

	articles, err = p.store.Page(ctx, name, page, category)
	if errors.As(err, &pna) {
		return []database.Article{}, nil
	}
	return articles, err
}

// ensureFresh runs an unbounded cycle for a cold pair, and for a stale one
// when page 1 is requested.
func (p *Policy) ensureFresh(ctx context.Context, company, category string, page int) error {
	_, known, err := p.store.FoundCount(ctx, company, category)
	if err != nil {
		return err
	}
	if known && page != 1 {
		return nil
	}

	last, refreshed, err := p.store.LastRefresh(ctx, company, category)
	if err != nil {
		return err
	}
	if known && refreshed && p.now().Sub(last) <= p.staleAfter {
		return nil
	}
	return p.cycle(ctx, fetch{company: company, category: category, seen: last})
}

// extend runs a bounded cycle reaching back from the oldest stored article.
func (p *Policy) extend(ctx context.Context, company, category string) error {
	oldest, _, err := p.store.OldestPublished(ctx, company, category)
	if err != nil {
		return err
	}
	return p.cycle(ctx, fetch{company: company, category: category, bounded: true, seen: oldest})
}

// exhausted reports whether everything the provider reported for the pair
// is already stored.
func (p *Policy) exhausted(ctx context.Context, company, category string) (bool, error) {
	found, _, err := p.store.FoundCount(ctx, company, category)
	if err != nil {
		return false, err
	}
	stored, err := p.store.ArticleCount(ctx, company, category)
	if err != nil {
		return false, err
	}
	return stored >= found, nil
}

// fetch describes one fetch-merge-store cycle. seen is the pair's state when
// the caller decided to fetch: the last refresh for unbounded cycles, the
// oldest stored publish date for bounded ones.
type fetch struct {
	company  string
	category string
	bounded  bool
	seen     time.Time
}

// cycle runs at most one fetch per (company, category) at a time. Callers
// arriving while one is in flight wait for it and share its outcome if it
// was the same kind of cycle; otherwise they run their own once it is done.
// The cycle itself is detached from the caller's cancellation so that the
// store is never left half way through a merge.
func (p *Policy) cycle(ctx context.Context, f fetch) error {
	key := f.company + "\x00" + f.category
	for {
		ch := p.group.DoChan(key, func() (any, error) {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.fetchTimeout)
			defer cancel()
			return f.bounded, p.run(cctx, f)
		})

		select {
		case r := <-ch:
			if r.Err != nil {
				return r.Err
			}
			if bounded, _ := r.Val.(bool); bounded != f.bounded {
				continue
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Policy) run(ctx context.Context, f fetch) error {
	log := p.log.With(
		zap.String("cycle", uuid.NewString()),
		zap.String("company", f.company),
		zap.String("category", f.category),
		zap.Bool("bounded", f.bounded),
	)

	if l, ok := p.store.(PairLocker); ok {
		unlock, err := l.LockPair(ctx, f.company, f.category)
		if err != nil {
			return err
		}
		defer unlock()
	}

	q := collect.Query{Company: f.company, Category: f.category}
	if f.bounded {
		oldest, ok, err := p.store.OldestPublished(ctx, f.company, f.category)
		if err != nil {
			return err
		}
		if ok && (f.seen.IsZero() || oldest.Before(f.seen)) {
			log.Debug("store extended by another request, skipping fetch")
			return nil
		}
		if ok {
			q.Before = oldest
		}
	} else {
		last, ok, err := p.store.LastRefresh(ctx, f.company, f.category)
		if err != nil {
			return err
		}
		if ok && last.After(f.seen) {
			log.Debug("pair refreshed by another request, skipping fetch")
			return nil
		}
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	res, err := p.searcher.Search(ctx, q)
	if err != nil {
		log.Warn("provider fetch failed", zap.Error(err))
		return err
	}

	batch := database.FetchBatch{
		Company:   f.company,
		Category:  f.category,
		Found:     res.Total,
		Bounded:   f.bounded,
		FetchedAt: p.now(),
		Articles:  make([]database.Article, 0, len(res.Articles)),
	}
	for _, a := range res.Articles {
		batch.Articles = append(batch.Articles, database.Article{
			URL:         a.URL,
			Title:       a.Title,
			Description: a.Description,
			Source:      a.Source,
			PublishedAt: a.PublishedAt,
			Categories:  classify.WithCategory(classify.Classify(a.Title, a.Description), f.category),
		})
	}

	merged, err := p.store.SaveFetch(ctx, batch)
	if err != nil {
		return err
	}

	log.Info("fetch cycle complete",
		zap.Time("before", q.Before),
		zap.Int("received", len(res.Articles)),
		zap.Int("inserted", merged.Inserted),
		zap.Int("updated", merged.Updated),
		zap.Int("found", res.Total),
	)
	return nil
}
