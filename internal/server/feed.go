package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/feeds"
)

// handleFeed renders one page of a company's articles as RSS, or Atom with
// format=atom.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	company, page, category, err := articleParams(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	articles, err := s.pager.FetchPage(r.Context(), company, page, category)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	title := company + " ethics news"
	if category != "" {
		title = fmt.Sprintf("%s ethics news: %s", company, category)
	}
	self := &url.URL{Path: "/articles", RawQuery: r.URL.RawQuery}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: self.String()},
		Description: "Articles about " + company + " classified by ethics category",
		Author:      &feeds.Author{Name: "ethicsnews"},
		Created:     time.Now().UTC(),
	}
	for _, a := range articles {
		item := &feeds.Item{
			Id:          a.URL,
			Title:       a.Title,
			Link:        &feeds.Link{Href: a.URL},
			Description: a.Description,
			Author:      &feeds.Author{Name: a.Source},
			Created:     a.PublishedAt,
		}
		if a.Retrieved != nil {
			item.Updated = *a.Retrieved
		}
		if len(a.Categories) > 0 {
			item.Description = strings.TrimSpace(item.Description + " [" + strings.Join(a.Categories, ", ") + "]")
		}
		feed.Items = append(feed.Items, item)
	}

	var (
		body        string
		contentType string
	)
	if r.URL.Query().Get("format") == "atom" {
		body, err = feed.ToAtom()
		contentType = "application/atom+xml; charset=utf-8"
	} else {
		body, err = feed.ToRss()
		contentType = "application/rss+xml; charset=utf-8"
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
