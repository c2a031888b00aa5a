package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/pkg/fn"
)

// Reddit listing sort orders, in the cycle order used when a run comes back
// empty and is perturbed.
var RedditSorts = []string{"hot", "new", "top", "rising"}

// Reddit serves the "reddit" tool from the public JSON listing endpoints,
// unauthenticated. A local limiter keeps the request rate under what reddit
// tolerates from anonymous clients.
type Reddit struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	retry   fn.RetryOpts
	log     *slog.Logger
}

// NewReddit returns a Reddit adapter.
func NewReddit(log *slog.Logger) *Reddit {
	retry := fn.DefaultRetry
	retry.MaxAttempts = 2
	retry.MaxWait = 5 * time.Second
	return &Reddit{
		baseURL: "https://www.reddit.com",
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		retry:   retry,
		log:     log,
	}
}

type redditListing struct {
	Data struct {
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Data redditPost `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Author      string  `json:"author"`
	CreatedUTC  float64 `json:"created_utc"`
	Subreddit   string  `json:"subreddit"`
}

// Fetch implements Fetcher. It walks cfg["subreddits"] with the configured
// sort order, merging the listings in subreddit order. A missing subreddit
// is skipped with a warning; a rate limit abandons the whole fetch.
func (r *Reddit) Fetch(ctx context.Context, cfg domain.Config, limit int) ([]domain.Item, error) {
	subs := cfg.Strings("subreddits")
	if len(subs) == 0 {
		return nil, domain.MissingConfig("subreddits")
	}
	sort := cfg.Str("reddit_sort", "hot")
	if !validRedditSort(sort) {
		sort = "hot"
	}

	var items []domain.Item
	for _, raw := range subs {
		sub := cleanSubreddit(raw)
		if sub == "" {
			continue
		}
		posts, err := r.listing(ctx, sub, sort, clampListingLimit(limit))
		if errors.Is(err, domain.ErrNotFound) {
			r.log.Warn("subreddit not found, skipping", "subreddit", sub)
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, p := range posts {
			items = append(items, r.postItem(p, sub))
		}
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// listing fetches one subreddit listing, retrying once on transient faults.
func (r *Reddit) listing(ctx context.Context, sub, sort string, n int) ([]redditPost, error) {
	result := fn.RetryIf(ctx, r.retry, domain.IsTransient, func(ctx context.Context) fn.Result[[]redditPost] {
		posts, err := r.listingOnce(ctx, sub, sort, n)
		if err != nil {
			return fn.Err[[]redditPost](err)
		}
		return fn.Ok(posts)
	})
	return result.Unwrap()
}

func (r *Reddit) listingOnce(ctx context.Context, sub, sort string, n int) ([]redditPost, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/r/%s/%s.json?limit=%d", r.baseURL, sub, sort, n)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: reddit request: %w", err)
	}
	req.Header.Set("User-Agent", engineUA)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, domain.Transient("reddit r/"+sub, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("reddit r/"+sub, resp)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("source: decode reddit listing: %w", err)
	}
	return fn.Map(listing.Data.Children, func(c redditChild) redditPost { return c.Data }), nil
}

func (r *Reddit) postItem(p redditPost, sub string) domain.Item {
	summary := p.Selftext
	if summary == "" {
		summary = p.URL
	}
	return domain.Item{
		SourceID:  p.ID,
		Title:     p.Title,
		URL:       r.baseURL + p.Permalink,
		Summary:   summary,
		Published: time.Unix(int64(p.CreatedUTC), 0),
		Meta: map[string]string{
			"source":       "r/" + sub,
			"score":        fmt.Sprintf("%d", p.Score),
			"num_comments": fmt.Sprintf("%d", p.NumComments),
			"author":       p.Author,
		},
	}
}

// cleanSubreddit strips "/r/" and "r/" prefixes so configs can name
// subreddits the way people write them.
func cleanSubreddit(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/r/")
	s = strings.TrimPrefix(s, "r/")
	return strings.Trim(s, "/")
}

func validRedditSort(s string) bool {
	for _, v := range RedditSorts {
		if s == v {
			return true
		}
	}
	return false
}

// clampListingLimit bounds the per-request listing size. Reddit serves 25 by
// default; asking for at least 20 keeps small scout limits from starving the
// dedup filter, and 100 is the API maximum.
func clampListingLimit(n int) int {
	if n < 20 {
		return 20
	}
	if n > 100 {
		return 100
	}
	return n
}
