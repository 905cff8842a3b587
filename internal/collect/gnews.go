package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TobiSchelling/EthicsNews/internal/classify"
	"github.com/TobiSchelling/EthicsNews/internal/logger"
)

const (
	gnewsBaseURL = "https://gnews.io/api/v4/search"

	// TimestampLayout is the provider's date format: UTC, second precision,
	// literal trailing Z.
	TimestampLayout = "2006-01-02T15:04:05Z"

	// maxPageSize is the largest "max" the provider accepts.
	maxPageSize = 100
)

// Article is a normalised provider search hit.
type Article struct {
	URL         string
	Title       string
	Description string
	Source      string
	PublishedAt time.Time
}

// Query describes one provider search.
type Query struct {
	Company  string
	Category string
	// Before bounds the search to articles published strictly before this
	// instant. The zero value means unbounded.
	Before time.Time
}

// Bounded reports whether the query carries an upper publish-date bound.
func (q Query) Bounded() bool {
	return !q.Before.IsZero()
}

// Result holds a provider response. Total is the provider's match count for
// the query without its date bound.
type Result struct {
	Articles []Article
	Total    int
}

// Options configures a GNewsClient.
type Options struct {
	BaseURL  string
	APIKey   string
	Language string
	PageSize int
	Timeout  time.Duration
	RetryMax int
	Logger   *zap.Logger
}

// GNewsClient fetches articles from the GNews search API.
type GNewsClient struct {
	baseURL  string
	apiKey   string
	language string
	pageSize int
	client   *retryablehttp.Client
	log      *zap.Logger
}

// NewGNewsClient creates a new GNews client.
func NewGNewsClient(opts Options) *GNewsClient {
	if opts.BaseURL == "" {
		opts.BaseURL = gnewsBaseURL
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &GNewsClient{
		baseURL:  opts.BaseURL,
		apiKey:   opts.APIKey,
		language: opts.Language,
		pageSize: opts.PageSize,
		client:   newRetryClient(opts.Timeout, opts.RetryMax, opts.Logger),
		log:      opts.Logger,
	}
}

func newRetryClient(timeout time.Duration, retryMax int, log *zap.Logger) *retryablehttp.Client {
	r := retryablehttp.NewClient()
	r.RetryMax = retryMax
	r.RetryWaitMin = 500 * time.Millisecond
	r.RetryWaitMax = 4 * time.Second
	r.HTTPClient.Timeout = timeout
	r.CheckRetry = checkRetry
	r.ErrorHandler = retryablehttp.PassthroughErrorHandler
	// The library logs request URLs, which carry the API key.
	r.Logger = logger.NewLeveled(log.WithOptions(zap.IncreaseLevel(zapcore.DPanicLevel)))
	r.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		if attempt > 0 {
			log.Warn("retrying provider request", zap.Int("attempt", attempt))
		}
	}
	return r
}

// checkRetry never retries a quota denial; everything else follows the
// library's default policy (connection errors, 429 and 5xx).
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusForbidden {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// IsConfigured returns whether the API key is available.
func (c *GNewsClient) IsConfigured() bool {
	return c.apiKey != ""
}

// BuildQuery combines an exact-phrase company name with any of the
// category's keywords.
func BuildQuery(company string, keywords []string) string {
	company = strings.ReplaceAll(strings.TrimSpace(company), `"`, "")
	return fmt.Sprintf(`"%s" AND (%s)`, company, strings.Join(keywords, " OR "))
}

// upperBound converts an exclusive bound into the provider's inclusive,
// second-precision "to": the last whole second strictly before t.
func upperBound(t time.Time) time.Time {
	to := t.Truncate(time.Second)
	if to.Equal(t) {
		to = to.Add(-time.Second)
	}
	return to
}

// FormatTimestamp renders t in the provider's date format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

type gnewsResponse struct {
	TotalArticles int `json:"totalArticles"`
	Articles      []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

type gnewsError struct {
	Errors json.RawMessage `json:"errors"`
}

// Search runs one provider query. A successful search with no hits returns an
// empty Result and a nil error; every failure is reported through the error.
func (c *GNewsClient) Search(ctx context.Context, q Query) (*Result, error) {
	category := classify.Normalize(q.Category)
	keywords, ok := classify.Keywords(category)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, q.Category)
	}
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	params := url.Values{
		"q":      {BuildQuery(q.Company, keywords)},
		"lang":   {c.language},
		"max":    {strconv.Itoa(c.pageSize)},
		"sortby": {"publishedAt"},
		"apikey": {c.apiKey},
	}
	if q.Bounded() {
		params.Set("to", FormatTimestamp(upperBound(q.Before)))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &TransportError{Op: "request", Err: scrubURL(err)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "search", Err: scrubURL(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrQuotaExceeded, errorMessage(body))
	case resp.StatusCode != http.StatusOK:
		return nil, &TransportError{Op: "search", StatusCode: resp.StatusCode, Err: errors.New(errorMessage(body))}
	}

	var result gnewsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &TransportError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}

	seen := make(map[string]struct{}, len(result.Articles))
	articles := make([]Article, 0, len(result.Articles))
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" {
			continue
		}

		published, err := time.Parse(time.RFC3339, a.PublishedAt)
		if err != nil {
			c.log.Debug("skipping article with bad publish date",
				zap.String("url", a.URL), zap.String("published_at", a.PublishedAt))
			continue
		}

		link := NormalizeURL(a.URL)
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		source := "GNews"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		articles = append(articles, Article{
			URL:         link,
			Title:       cleanText(a.Title),
			Description: cleanText(a.Description),
			Source:      source,
			PublishedAt: published.UTC().Truncate(time.Second),
		})
	}

	c.log.Info("fetched articles from provider",
		zap.String("company", q.Company),
		zap.String("category", category),
		zap.Bool("bounded", q.Bounded()),
		zap.Int("articles", len(articles)),
		zap.Int("total", result.TotalArticles),
	)
	return &Result{Articles: articles, Total: result.TotalArticles}, nil
}

func errorMessage(body []byte) string {
	var e gnewsError
	if err := json.Unmarshal(body, &e); err == nil && len(e.Errors) > 0 {
		var list []string
		if json.Unmarshal(e.Errors, &list) == nil {
			return strings.Join(list, "; ")
		}
		var obj map[string]string
		if json.Unmarshal(e.Errors, &obj) == nil {
			parts := make([]string, 0, len(obj))
			for k, v := range obj {
				parts = append(parts, k+": "+v)
			}
			return strings.Join(parts, "; ")
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "empty response"
	}
	return msg
}

// scrubURL drops the request URL, which carries the API key, from
// net/http errors.
func scrubURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
