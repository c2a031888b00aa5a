package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/pkg/fn"
)

// ArXiv serves the "arxiv" tool from the export API, which speaks Atom.
// Results are requested newest-submitted first and filtered client side to
// the configured recency window, since the API's own date syntax only
// supports coarse ranges.
type ArXiv struct {
	baseURL string
	client  *http.Client
	parser  *gofeed.Parser
	log     *slog.Logger
}

// NewArXiv returns an ArXiv adapter.
func NewArXiv(log *slog.Logger) *ArXiv {
	return &ArXiv{
		baseURL: "https://export.arxiv.org/api/query",
		client:  &http.Client{Timeout: 30 * time.Second},
		parser:  gofeed.NewParser(),
		log:     log,
	}
}

// Fetch implements Fetcher. cfg["query"] is required; the window comes from
// cfg["days_back"] when set, otherwise from cfg["date_filter"]
// (today/week/month). Over-fetching by a factor of three leaves enough
// survivors after the recency cut.
func (a *ArXiv) Fetch(ctx context.Context, cfg domain.Config, limit int) ([]domain.Item, error) {
	query := cfg.Str("query", "")
	if query == "" {
		return nil, domain.MissingConfig("query")
	}
	days := cfg.Int("days_back", 0)
	if days <= 0 {
		days = filterDays(cfg.Str("date_filter", "week"))
	}

	maxResults := limit * 3
	if maxResults > 100 {
		maxResults = 100
	}
	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")
	params.Set("max_results", strconv.Itoa(maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("source: arxiv request: %w", err)
	}
	req.Header.Set("User-Agent", engineUA)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.Transient("arxiv", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("arxiv", resp)
	}

	parsed, err := a.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("source: parse arxiv feed: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	items := make([]domain.Item, 0, limit)
	for _, entry := range parsed.Items {
		if entry.PublishedParsed == nil || entry.PublishedParsed.Before(cutoff) {
			continue
		}
		items = append(items, paperItem(entry))
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

// filterDays maps the date_filter config values onto day counts.
func filterDays(filter string) int {
	switch filter {
	case "today":
		return 1
	case "month":
		return 30
	default:
		return 7
	}
}

func paperItem(entry *gofeed.Item) domain.Item {
	authors := fn.FilterMap(entry.Authors, func(p *gofeed.Person) (string, bool) {
		if p == nil || p.Name == "" {
			return "", false
		}
		return p.Name, true
	})
	meta := map[string]string{"source": "arxiv"}
	if len(authors) > 0 {
		meta["authors"] = strings.Join(authors, ", ")
	}
	if len(entry.Categories) > 0 {
		meta["categories"] = strings.Join(entry.Categories, ", ")
	}
	return domain.Item{
		SourceID:  entry.GUID,
		Title:     collapseSpace(entry.Title),
		URL:       entry.Link,
		Summary:   collapseSpace(entry.Description),
		Published: *entry.PublishedParsed,
		Meta:      meta,
	}
}

// collapseSpace folds runs of whitespace to single spaces. ArXiv wraps
// titles and abstracts with hard newlines and double spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
