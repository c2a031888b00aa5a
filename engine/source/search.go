package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/scoutline/scoutd/engine/domain"
)

// Search serves the "google_search" tool through the Custom Search JSON API.
type Search struct {
	baseURL string
	apiKey  string
	cx      string
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewSearch returns a Search adapter. apiKey and cx may be empty; Fetch
// reports the missing configuration when the tool is actually used, so an
// engine without search credentials still runs every other scout kind.
func NewSearch(apiKey, cx string, log *slog.Logger) *Search {
	return &Search{
		baseURL: "https://www.googleapis.com/customsearch/v1",
		apiKey:  apiKey,
		cx:      cx,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		log:     log,
	}
}

type cseResponse struct {
	Items []cseResult `json:"items"`
}

type cseResult struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"displayLink"`
}

// Fetch implements Fetcher, running cfg["query"] through the API. The API
// caps a single page at ten results, so limit is bounded by that.
func (s *Search) Fetch(ctx context.Context, cfg domain.Config, limit int) ([]domain.Item, error) {
	query := cfg.Str("query", "")
	if query == "" {
		return nil, domain.MissingConfig("query")
	}
	if s.apiKey == "" {
		return nil, domain.MissingConfig("search_api_key")
	}
	if s.cx == "" {
		return nil, domain.MissingConfig("search_engine_id")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	num := limit
	if num > 10 {
		num = 10
	}
	params := url.Values{}
	params.Set("key", s.apiKey)
	params.Set("cx", s.cx)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("source: search request: %w", err)
	}
	req.Header.Set("User-Agent", engineUA)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.Transient("search", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusForbidden:
		// Daily quota exhaustion comes back as 403.
		return nil, fmt.Errorf("source: search quota: %w", domain.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, statusErr("search", resp)
	}

	var body cseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("source: decode search response: %w", err)
	}

	items := make([]domain.Item, 0, len(body.Items))
	for _, res := range body.Items {
		items = append(items, domain.Item{
			Title:   res.Title,
			URL:     res.Link,
			Summary: res.Snippet,
			Meta:    map[string]string{"source": res.DisplayLink},
		})
	}
	return items, nil
}
