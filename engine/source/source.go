// Package source holds the fetch adapters behind the scout tool tags: RSS
// feeds, Reddit listings, web search, arXiv and raw webpages. Every adapter
// speaks the same Fetcher interface so the agent runtime can bind them as
// tools without knowing which network they talk to.
package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/scoutline/scoutd/engine/domain"
)

// User agents. APIs that care about identification get the engine UA;
// webpage scraping uses a browser UA because many sites serve bot agents
// an empty shell.
const (
	engineUA  = "scoutd/1.0 (content discovery engine)"
	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// Fetcher retrieves candidate items for a scout run. Implementations read
// what they need from cfg and return at most limit items, newest first when
// the source has a meaningful order.
type Fetcher interface {
	Fetch(ctx context.Context, cfg domain.Config, limit int) ([]domain.Item, error)
}

// Registry maps tool tags to their fetch adapters.
type Registry struct {
	byTag map[string]Fetcher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTag: make(map[string]Fetcher)}
}

// Register binds tag to f, replacing any previous binding.
func (r *Registry) Register(tag string, f Fetcher) {
	r.byTag[tag] = f
}

// Get returns the adapter bound to tag.
func (r *Registry) Get(tag string) (Fetcher, error) {
	f, ok := r.byTag[tag]
	if !ok {
		return nil, fmt.Errorf("source: no adapter for tool %q", tag)
	}
	return f, nil
}

// Tags lists the registered tool tags in sorted order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// statusErr maps a non-2xx response onto the engine's error taxonomy so
// callers can test with errors.Is instead of comparing status codes.
func statusErr(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("source: %s: %w", op, domain.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("source: %s: %w", op, domain.ErrRateLimited)
	case resp.StatusCode >= 500:
		return domain.Transient(op, fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("source: %s: unexpected status %d", op, resp.StatusCode)
	}
}
