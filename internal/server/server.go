package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/TobiSchelling/EthicsNews/internal/classify"
	"github.com/TobiSchelling/EthicsNews/internal/collect"
	"github.com/TobiSchelling/EthicsNews/internal/database"
	"github.com/TobiSchelling/EthicsNews/internal/refresh"
)

// Pager serves article pages.
type Pager interface {
	FetchPage(ctx context.Context, company string, page int, category string) ([]database.Article, error)
}

// Directory looks up companies.
type Directory interface {
	SearchCompanies(ctx context.Context, query string, limit int) ([]string, error)
	GetCompany(ctx context.Context, name string) (*database.Company, error)
}

// Options configures a Server.
type Options struct {
	RequestTimeout time.Duration
	SearchLimit    int
	Logger         *zap.Logger
}

// Server is the JSON API over the article cache.
type Server struct {
	pager       Pager
	dir         Directory
	log         *zap.Logger
	timeout     time.Duration
	searchLimit int
	router      chi.Router
}

// New creates a new Server.
func New(pager Pager, dir Directory, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 20
	}

	s := &Server{
		pager:       pager,
		dir:         dir,
		log:         opts.Logger,
		timeout:     opts.RequestTimeout,
		searchLimit: opts.SearchLimit,
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(withCommonHeaders)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/healthz", s.handleHealth)
	r.Get("/categories", s.handleCategories)
	r.Get("/search", s.handleSearch)
	r.Get("/company/{name}", s.handleCompany)
	r.Get("/articles", s.handleArticles)
	r.Get("/articles/feed", s.handleFeed)
	s.router = r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	h := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.ListenAndServe() }()
	s.log.Info("server listening", zap.String("addr", "http://"+addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return h.Shutdown(shutdownCtx)
	}
}

type articleJSON struct {
	Company     string     `json:"company"`
	Headline    string     `json:"headline"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	Categories  []string   `json:"categories"`
	Published   time.Time  `json:"published"`
	Retrieved   *time.Time `json:"retrieved"`
}

type companyJSON struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Website     string   `json:"website"`
	Logo        string   `json:"logo"`
	Industries  []string `json:"industries"`
	Aliases     []string `json:"aliases"`
}

func toArticleJSON(a database.Article) articleJSON {
	cats := a.Categories
	if cats == nil {
		cats = []string{}
	}
	return articleJSON{
		Company:     a.Company,
		Headline:    a.Title,
		Description: a.Description,
		URL:         a.URL,
		Source:      a.Source,
		Categories:  cats,
		Published:   a.PublishedAt,
		Retrieved:   a.Retrieved,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"categories": classify.Names()})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(strings.ReplaceAll(r.URL.Query().Get("query"), `"`, ""))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter is required", nil)
		return
	}

	results, err := s.dir.SearchCompanies(r.Context(), query, s.searchLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if results == nil {
		results = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"results": results})
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	c, err := s.dir.GetCompany(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := companyJSON{
		Name:        c.Name,
		Description: c.Description,
		Website:     c.Website,
		Logo:        c.Logo,
		Industries:  c.Industries,
		Aliases:     c.Aliases,
	}
	if out.Industries == nil {
		out.Industries = []string{}
	}
	if out.Aliases == nil {
		out.Aliases = []string{}
	}
	writeJSON(w, http.StatusOK, out)
}

// articleParams reads company, page and category. A missing page defaults
// to 1 only when allowDefaultPage is set.
func articleParams(r *http.Request, allowDefaultPage bool) (company string, page int, category string, err error) {
	q := r.URL.Query()

	company = strings.TrimSpace(q.Get("company"))
	if company == "" {
		return "", 0, "", errors.New("company parameter is required")
	}

	raw := strings.TrimSpace(q.Get("page"))
	switch {
	case raw == "" && allowDefaultPage:
		page = 1
	case raw == "":
		return "", 0, "", errors.New("page parameter is required")
	default:
		page, err = strconv.Atoi(raw)
		if err != nil {
			return "", 0, "", errors.New("page must be an integer")
		}
	}

	category = classify.Normalize(q.Get("category"))
	if category == "null" || category == "none" {
		category = ""
	}
	return company, page, category, nil
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	company, page, category, err := articleParams(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	articles, err := s.pager.FetchPage(r.Context(), company, page, category)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := make([]articleJSON, 0, len(articles))
	for _, a := range articles {
		out = append(out, toArticleJSON(a))
	}
	writeJSON(w, http.StatusOK, map[string][]articleJSON{"articles": out})
}

// fail maps an error onto a status code and JSON body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr   *refresh.ValidationError
		seqErr *refresh.SequencingError
		rngErr *refresh.RangeError
		tErr   *collect.TransportError
	)

	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, err.Error(), map[string]any{"field": vErr.Field})
	case errors.As(err, &seqErr):
		writeError(w, http.StatusBadRequest, err.Error(), map[string]any{"max_page": seqErr.MaxPage})
	case errors.As(err, &rngErr):
		writeError(w, http.StatusBadRequest, err.Error(), map[string]any{"total_pages": rngErr.TotalPages})
	case errors.Is(err, database.ErrCompanyNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, collect.ErrQuotaExceeded):
		writeError(w, http.StatusTooManyRequests, "news provider quota exceeded, retry later", nil)
	case errors.As(err, &tErr):
		s.log.Warn("provider unavailable", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		writeError(w, http.StatusBadGateway, "news provider unavailable", nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request timed out", nil)
	default:
		s.log.Error("request failed", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, extra map[string]any) {
	body := map[string]any{"error": msg}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// withCommonHeaders adds CORS and common headers.
func withCommonHeaders(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Server", "ethicsnews")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
