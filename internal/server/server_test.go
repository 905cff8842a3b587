package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/EthicsNews/internal/collect"
	"github.com/TobiSchelling/EthicsNews/internal/database"
	"github.com/TobiSchelling/EthicsNews/internal/refresh"
)

// MockPager is a mock implementation of Pager.
type MockPager struct {
	mock.Mock
}

func (m *MockPager) FetchPage(ctx context.Context, company string, page int, category string) ([]database.Article, error) {
	args := m.Called(ctx, company, page, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]database.Article), args.Error(1)
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.AddCompany(context.Background(), database.Company{
		Name:       "Acme",
		Website:    "https://acme.example",
		Industries: []string{"Retail"},
		Aliases:    []string{"Acme Corp"},
	}))
	require.NoError(t, db.AddCompany(context.Background(), database.Company{Name: "Acorn Bank"}))
	return db
}

func newTestServer(t *testing.T, pager Pager) *Server {
	t.Helper()
	return New(pager, openTestDB(t), Options{})
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func sampleArticles() []database.Article {
	retrieved := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	return []database.Article{
		{
			Company:     "Acme",
			URL:         "https://news.example/a",
			Title:       "Acme fined over data leak",
			Description: "Regulators act",
			Source:      "Example News",
			PublishedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			Retrieved:   &retrieved,
			Categories:  []string{"privacy"},
		},
		{
			Company:     "Acme",
			URL:         "https://news.example/b",
			Title:       "Acme opens store",
			Source:      "Example News",
			PublishedAt: time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, new(MockPager))

	rec := get(t, srv, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCategories(t *testing.T) {
	srv := newTestServer(t, new(MockPager))

	rec := get(t, srv, "/categories")

	require.Equal(t, http.StatusOK, rec.Code)
	cats := decode(t, rec)["categories"].([]any)
	assert.Len(t, cats, 8)
	assert.NotContains(t, cats, "uncategorized")
}

func TestArticlesJSONShape(t *testing.T) {
	pager := new(MockPager)
	pager.On("FetchPage", mock.Anything, "Acme", 1, "privacy").Return(sampleArticles(), nil)
	srv := newTestServer(t, pager)

	rec := get(t, srv, "/articles?company=Acme&page=1&category=Privacy")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	articles := decode(t, rec)["articles"].([]any)
	require.Len(t, articles, 2)

	first := articles[0].(map[string]any)
	assert.Equal(t, "Acme", first["company"])
	assert.Equal(t, "Acme fined over data leak", first["headline"])
	assert.Equal(t, "https://news.example/a", first["url"])
	assert.Equal(t, "Example News", first["source"])
	assert.Equal(t, []any{"privacy"}, first["categories"])
	assert.Equal(t, "2025-03-01T12:00:00Z", first["published"])
	assert.Equal(t, "2025-03-02T09:00:00Z", first["retrieved"])

	second := articles[1].(map[string]any)
	assert.Equal(t, []any{}, second["categories"])
	assert.Nil(t, second["retrieved"])

	pager.AssertExpectations(t)
}

func TestArticlesCategoryNullMeansAll(t *testing.T) {
	for _, raw := range []string{"", "null", "None"} {
		t.Run(fmt.Sprintf("category=%q", raw), func(t *testing.T) {
			pager := new(MockPager)
			pager.On("FetchPage", mock.Anything, "Acme", 2, "").Return([]database.Article{}, nil)
			srv := newTestServer(t, pager)

			rec := get(t, srv, "/articles?company=Acme&page=2&category="+raw)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, []any{}, decode(t, rec)["articles"])
			pager.AssertExpectations(t)
		})
	}
}

func TestArticlesMissingParameters(t *testing.T) {
	pager := new(MockPager)
	srv := newTestServer(t, pager)

	tests := []string{
		"/articles?page=1",
		"/articles?company=Acme",
		"/articles?company=Acme&page=two",
	}
	for _, target := range tests {
		rec := get(t, srv, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.NotEmpty(t, decode(t, rec)["error"], target)
	}
	pager.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestArticlesErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		field  string
		value  any
	}{
		{"validation", &refresh.ValidationError{Field: "page", Value: "0", Reason: "must be a positive integer"}, http.StatusBadRequest, "field", "page"},
		{"sequencing", &refresh.SequencingError{Requested: 5, MaxPage: 2}, http.StatusBadRequest, "max_page", float64(2)},
		{"range", &refresh.RangeError{Requested: 9, TotalPages: 4}, http.StatusBadRequest, "total_pages", float64(4)},
		{"unknown company", fmt.Errorf("%w: Nobody", database.ErrCompanyNotFound), http.StatusNotFound, "", nil},
		{"quota", collect.ErrQuotaExceeded, http.StatusTooManyRequests, "", nil},
		{"transport", &collect.TransportError{Op: "request", Err: errors.New("connection refused")}, http.StatusBadGateway, "", nil},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "", nil},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pager := new(MockPager)
			pager.On("FetchPage", mock.Anything, "Acme", 1, "").Return(nil, tt.err)
			srv := newTestServer(t, pager)

			rec := get(t, srv, "/articles?company=Acme&page=1")

			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.NotEmpty(t, body["error"])
			if tt.field != "" {
				assert.Equal(t, tt.value, body[tt.field])
			}
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	pager := new(MockPager)
	pager.On("FetchPage", mock.Anything, "Acme", 1, "").
		Return(nil, &collect.TransportError{Op: "request", Err: errors.New("dial tcp 10.0.0.1:443")})
	srv := newTestServer(t, pager)

	rec := get(t, srv, "/articles?company=Acme&page=1")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")
}

func TestSearch(t *testing.T) {
	srv := newTestServer(t, new(MockPager))

	rec := get(t, srv, "/search?query=ac")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"Acme", "Acorn Bank"}, decode(t, rec)["results"])

	rec = get(t, srv, "/search?query=%22corp%22")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"Acme"}, decode(t, rec)["results"])

	rec = get(t, srv, "/search?query=zzz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["results"])
}

func TestSearchRequiresQuery(t *testing.T) {
	srv := newTestServer(t, new(MockPager))

	rec := get(t, srv, "/search?query=%20")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompany(t *testing.T) {
	srv := newTestServer(t, new(MockPager))

	rec := get(t, srv, "/company/acme%20corp")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Acme", body["name"])
	assert.Equal(t, "https://acme.example", body["website"])
	assert.Equal(t, []any{"Retail"}, body["industries"])
	assert.Equal(t, []any{"Acme Corp"}, body["aliases"])
}

func TestCompanyNotFound(t *testing.T) {
	srv := newTestServer(t, new(MockPager))

	rec := get(t, srv, "/company/Nobody")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedRSS(t *testing.T) {
	pager := new(MockPager)
	pager.On("FetchPage", mock.Anything, "Acme", 1, "privacy").Return(sampleArticles(), nil)
	srv := newTestServer(t, pager)

	rec := get(t, srv, "/articles/feed?company=Acme&category=privacy")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/rss+xml; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "<rss")
	assert.Contains(t, body, "Acme ethics news: privacy")
	assert.Contains(t, body, "Acme fined over data leak")
	assert.Contains(t, body, "https://news.example/b")
	pager.AssertExpectations(t)
}

func TestFeedAtom(t *testing.T) {
	pager := new(MockPager)
	pager.On("FetchPage", mock.Anything, "Acme", 2, "").Return(sampleArticles(), nil)
	srv := newTestServer(t, pager)

	rec := get(t, srv, "/articles/feed?company=Acme&page=2&format=atom")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/atom+xml; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Body.String(), "http://www.w3.org/2005/Atom"))
}

func TestFeedErrorsUseJSON(t *testing.T) {
	pager := new(MockPager)
	pager.On("FetchPage", mock.Anything, "Acme", 1, "").Return(nil, collect.ErrQuotaExceeded)
	srv := newTestServer(t, pager)

	rec := get(t, srv, "/articles/feed?company=Acme")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["error"])
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t, new(MockPager))

	req := httptest.NewRequest(http.MethodOptions, "/articles", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, new(MockPager))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
