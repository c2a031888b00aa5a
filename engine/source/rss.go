package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/store"
	"github.com/scoutline/scoutd/pkg/fn"
)

// RSS manages the persistent feed subscription list and serves the "rss"
// tool. Subscriptions and their entries live in the store; Fetch polls the
// configured feeds and returns entries that have not been marked processed.
type RSS struct {
	store  *store.Store
	parser *gofeed.Parser
	client *http.Client
	log    *slog.Logger
}

// NewRSS returns an RSS adapter backed by st.
func NewRSS(st *store.Store, log *slog.Logger) *RSS {
	return &RSS{
		store:  st,
		parser: gofeed.NewParser(),
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// Subscribe registers each URL for scoutID and primes its entries. The feed
// is fetched first so a bad URL fails the subscription instead of silently
// producing an empty feed; the same parse supplies the title and the initial
// entry set. Subscribing twice to the same URL is a no-op.
func (r *RSS) Subscribe(ctx context.Context, scoutID int64, urls []string, auth map[string]string) ([]domain.Feed, error) {
	feeds := make([]domain.Feed, 0, len(urls))
	for _, u := range urls {
		parsed, err := r.fetchParse(ctx, u, auth)
		if err != nil {
			return feeds, fmt.Errorf("subscribe %s: %w", u, err)
		}
		feed, err := r.store.UpsertFeed(ctx, domain.Feed{
			URL:     u,
			Title:   parsed.Title,
			ScoutID: scoutID,
			Auth:    auth,
		})
		if err != nil {
			return feeds, err
		}
		n, err := r.ingest(ctx, feed.ID, parsed)
		if err != nil {
			return feeds, err
		}
		if err := r.store.TouchFeedPolled(ctx, feed.ID, parsed.Title, time.Now()); err != nil {
			return feeds, err
		}
		r.log.Info("feed subscribed", "url", u, "title", parsed.Title, "entries", n)
		feeds = append(feeds, feed)
	}
	return feeds, nil
}

// Poll fetches a subscribed feed and stores any entries not yet seen.
// Returns the number of new entries.
func (r *RSS) Poll(ctx context.Context, feed domain.Feed) (int, error) {
	parsed, err := r.fetchParse(ctx, feed.URL, feed.Auth)
	if err != nil {
		return 0, err
	}
	n, err := r.ingest(ctx, feed.ID, parsed)
	if err != nil {
		return n, err
	}
	if err := r.store.TouchFeedPolled(ctx, feed.ID, parsed.Title, time.Now()); err != nil {
		return n, err
	}
	return n, nil
}

// PollAll polls every feed owned by scoutID (every feed when scoutID is 0)
// and returns the total number of new entries. Individual feed failures are
// logged and skipped so one dead feed cannot starve the rest.
func (r *RSS) PollAll(ctx context.Context, scoutID int64) (int, error) {
	feeds, err := r.store.ListFeeds(ctx, scoutID)
	if err != nil {
		return 0, err
	}
	results := fn.ParMapResult(feeds, 4, func(f domain.Feed) fn.Result[int] {
		return fn.FromPair(r.Poll(ctx, f))
	})
	total := 0
	for i, res := range results {
		n, err := res.Unwrap()
		if err != nil {
			r.log.Warn("feed poll failed", "url", feeds[i].URL, "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

// Feeds lists the subscriptions owned by scoutID, or all of them when 0.
func (r *RSS) Feeds(ctx context.Context, scoutID int64) ([]domain.Feed, error) {
	return r.store.ListFeeds(ctx, scoutID)
}

// Read returns up to limit stored entries for a feed, newest first,
// skipping processed rows unless includeProcessed is set. Reading never
// flips the processed flag; that is an explicit MarkProcessed call.
func (r *RSS) Read(ctx context.Context, feedID int64, limit int, includeProcessed bool) ([]domain.Entry, error) {
	return r.store.ReadEntries(ctx, feedID, limit, !includeProcessed)
}

// MarkProcessed flags the given entry rows as consumed.
func (r *RSS) MarkProcessed(ctx context.Context, ids []int64) error {
	return r.store.MarkEntriesProcessed(ctx, ids)
}

// ResetProcessed clears the processed flag for feedID, or everywhere when 0.
func (r *RSS) ResetProcessed(ctx context.Context, feedID int64) error {
	return r.store.ResetProcessed(ctx, feedID)
}

// Fetch implements Fetcher. It resolves cfg["feeds"] against the
// subscription list, refreshes each feed best-effort and returns the newest
// unprocessed entries across all of them. URLs never subscribed are skipped
// with a warning rather than implicitly registered.
func (r *RSS) Fetch(ctx context.Context, cfg domain.Config, limit int) ([]domain.Item, error) {
	urls := cfg.Strings("feeds")
	if len(urls) == 0 {
		return nil, domain.MissingConfig("feeds")
	}

	var entries []domain.Entry
	for _, u := range urls {
		feed, err := r.store.GetFeedByURL(ctx, u)
		if errors.Is(err, domain.ErrNotFound) {
			r.log.Warn("feed not subscribed, skipping", "url", u)
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := r.Poll(ctx, feed); err != nil {
			// Stale entries are still worth serving.
			r.log.Warn("feed poll failed, serving stored entries", "url", u, "error", err)
		}
		es, err := r.store.ReadEntries(ctx, feed.ID, limit, true)
		if err != nil {
			return nil, err
		}
		entries = append(entries, es...)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Published.After(entries[j].Published)
	})
	// Cross-posted articles share an entry id across feeds; keep the newest.
	entries = fn.UniqueBy(entries, func(e domain.Entry) string { return e.EntryID })
	entries = fn.Truncate(entries, limit)

	return fn.Map(entries, entryItem), nil
}

// fetchParse downloads and parses a feed document. Auth keys "username" and
// "password" become basic auth; any other key is sent as a header verbatim.
func (r *RSS) fetchParse(ctx context.Context, url string, auth map[string]string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: rss request: %w", err)
	}
	req.Header.Set("User-Agent", engineUA)
	if user, ok := auth["username"]; ok {
		req.SetBasicAuth(user, auth["password"])
	}
	for k, v := range auth {
		if k == "username" || k == "password" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, domain.Transient("rss fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("rss fetch", resp)
	}

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("source: parse feed %s: %w", url, err)
	}
	return parsed, nil
}

// ingest stores the parsed items, returning how many were new. The entry id
// is the item GUID, falling back to its link; items with neither are skipped
// because they cannot be deduplicated across polls.
func (r *RSS) ingest(ctx context.Context, feedID int64, parsed *gofeed.Feed) (int, error) {
	n := 0
	for _, item := range parsed.Items {
		entryID := item.GUID
		if entryID == "" {
			entryID = item.Link
		}
		if entryID == "" {
			continue
		}
		published := time.Now()
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		}
		author := ""
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			author = item.Authors[0].Name
		}
		inserted, err := r.store.InsertEntry(ctx, domain.Entry{
			FeedID:     feedID,
			EntryID:    entryID,
			Title:      item.Title,
			Link:       item.Link,
			Published:  published,
			Author:     author,
			Summary:    item.Description,
			Content:    item.Content,
			Categories: item.Categories,
		})
		if err != nil {
			return n, err
		}
		if inserted {
			n++
		}
	}
	return n, nil
}

func entryItem(e domain.Entry) domain.Item {
	summary := e.Summary
	if summary == "" {
		summary = e.Content
	}
	meta := map[string]string{
		"id":      strconv.FormatInt(e.ID, 10),
		"feed_id": strconv.FormatInt(e.FeedID, 10),
	}
	if e.Author != "" {
		meta["author"] = e.Author
	}
	return domain.Item{
		SourceID:  e.EntryID,
		Title:     e.Title,
		URL:       e.Link,
		Summary:   summary,
		Published: e.Published,
		Meta:      meta,
	}
}
