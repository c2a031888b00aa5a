package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scoutline/scoutd/engine/domain"
)

func atomDocument(entries ...string) string {
	body := `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<feed xmlns="http://www.w3.org/2005/Atom"><title>ArXiv Query Results</title>`
	for _, e := range entries {
		body += e
	}
	return body + "</feed>"
}

func atomEntry(id, title, summary string, published time.Time) string {
	return fmt.Sprintf(`<entry>
		<id>%s</id>
		<published>%s</published>
		<updated>%s</updated>
		<title>%s</title>
		<summary>%s</summary>
		<author><name>A. Researcher</name></author>
		<author><name>B. Scientist</name></author>
		<link href="%s" rel="alternate" type="text/html"/>
		<category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
	</entry>`, id, published.Format(time.RFC3339), published.Format(time.RFC3339), title, summary, id)
}

func testArXiv(srv *httptest.Server) *ArXiv {
	a := NewArXiv(discardLogger())
	a.baseURL = srv.URL
	return a
}

func TestArXivFetch(t *testing.T) {
	recent := time.Now().Add(-24 * time.Hour)
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		io.WriteString(w, atomDocument(atomEntry(
			"http://arxiv.org/abs/2401.00001v1",
			"Attention  Is\n All You Need  Again",
			"  We revisit   attention mechanisms.",
			recent)))
	}))
	defer srv.Close()

	cfg := domain.Config{"query": "attention mechanisms", "date_filter": "week"}
	items, err := testArXiv(srv).Fetch(context.Background(), cfg, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotQuery != "all:attention mechanisms" {
		t.Errorf("unexpected search_query %q", gotQuery)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	it := items[0]
	if it.Title != "Attention Is All You Need Again" {
		t.Errorf("expected collapsed title, got %q", it.Title)
	}
	if it.Summary != "We revisit attention mechanisms." {
		t.Errorf("expected collapsed summary, got %q", it.Summary)
	}
	if it.Meta["authors"] != "A. Researcher, B. Scientist" {
		t.Errorf("unexpected authors %q", it.Meta["authors"])
	}
	if it.Meta["categories"] != "cs.LG" {
		t.Errorf("unexpected categories %q", it.Meta["categories"])
	}
}

func TestArXivCutoffFiltersOldPapers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, atomDocument(
			atomEntry("http://arxiv.org/abs/1", "Fresh paper", "new", time.Now().Add(-2*time.Hour)),
			atomEntry("http://arxiv.org/abs/2", "Stale paper", "old", time.Now().AddDate(0, 0, -40)),
		))
	}))
	defer srv.Close()

	cfg := domain.Config{"query": "q", "date_filter": "month"}
	items, err := testArXiv(srv).Fetch(context.Background(), cfg, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Fresh paper" {
		t.Errorf("expected only the fresh paper, got %v", items)
	}
}

func TestArXivDaysBackOverridesFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, atomDocument(
			atomEntry("http://arxiv.org/abs/1", "Ten days old", "x", time.Now().AddDate(0, 0, -10)),
		))
	}))
	defer srv.Close()

	// date_filter alone (today = 1 day) would drop this paper.
	cfg := domain.Config{"query": "q", "date_filter": "today", "days_back": 14}
	items, err := testArXiv(srv).Fetch(context.Background(), cfg, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected days_back to widen the window, got %d items", len(items))
	}
}

func TestArXivMissingQuery(t *testing.T) {
	a := NewArXiv(discardLogger())
	_, err := a.Fetch(context.Background(), domain.Config{}, 5)
	if !errors.Is(err, domain.ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
}

func TestFilterDays(t *testing.T) {
	tests := []struct {
		filter string
		want   int
	}{
		{"today", 1},
		{"week", 7},
		{"month", 30},
		{"", 7},
		{"bogus", 7},
	}
	for _, tt := range tests {
		if got := filterDays(tt.filter); got != tt.want {
			t.Errorf("filterDays(%q) = %d, want %d", tt.filter, got, tt.want)
		}
	}
}
