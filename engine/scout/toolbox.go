package scout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/scoutline/scoutd/engine/agent"
	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/source"
)

// ImageGenerator renders a prompt into image bytes. The Gemini provider
// implements it; runs without one skip image tools with a warning.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}

// Toolbox holds the adapters the executor binds as agent tools. Reddit,
// search and arxiv go through the registry as plain fetches; RSS and webpage
// need their concrete adapters for the richer tool actions.
type Toolbox struct {
	Registry *source.Registry
	RSS      *source.RSS
	Webpage  *source.Webpage
	Images   ImageGenerator
}

// bind resolves the scout's declared tools into agent tools. Meta scouts
// additionally bind each child scout as a sub-executor tool.
func (e *Executor) bind(ctx context.Context, sc domain.Scout, cfg domain.Config, log *slog.Logger) ([]agent.Tool, error) {
	var tools []agent.Tool
	for _, tag := range cfg.Strings("tools") {
		switch tag {
		case "rss":
			tools = append(tools, &rssTool{rss: e.tools.RSS, scoutID: sc.ID})
		case "reddit", "google_search", "arxiv":
			f, err := e.tools.Registry.Get(tag)
			if err != nil {
				return nil, err
			}
			tools = append(tools, &fetchTool{tag: tag, fetch: f})
		case "http_request":
			tools = append(tools, &httpTool{web: e.tools.Webpage})
		case "browser":
			tools = append(tools, &browserTool{web: e.tools.Webpage})
		default:
			log.Warn("unknown tool in config, skipping", "scout", sc.Name, "tool", tag)
		}
	}

	if cfg.Bool("image_generation", false) {
		if e.tools.Images == nil {
			log.Warn("image generation requested but no image provider configured", "scout", sc.Name)
		} else {
			tools = append(tools, &imageTool{gen: e.tools.Images, dir: e.imageDir})
		}
	}

	if sc.Kind == domain.KindMeta {
		for _, name := range cfg.Strings("child_scouts") {
			child, err := e.store.GetScoutByName(ctx, name)
			if errors.Is(err, domain.ErrNotFound) {
				log.Warn("child scout not found, skipping", "scout", sc.Name, "child", name)
				continue
			}
			if err != nil {
				return nil, err
			}
			if child.ID == sc.ID {
				log.Warn("meta scout references itself, skipping", "scout", sc.Name)
				continue
			}
			tools = append(tools, &scoutTool{exec: e, target: child})
		}
	}
	return tools, nil
}

// itemsText renders fetched items the way the model reads tool output.
func itemsText(items []domain.Item) string {
	if len(items) == 0 {
		return "No items found."
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- Title: %s\n", it.Title)
		fmt.Fprintf(&b, "  URL: %s\n", it.URL)
		fmt.Fprintf(&b, "  Summary: %s\n", it.Summary)
		b.WriteString("---\n")
	}
	return b.String()
}

// rssTool serves the "rss" tag: list the scout's subscriptions, then read
// entries feed by feed. Read marks served entries processed so the next run
// starts where this one stopped; include_processed revisits older entries.
type rssTool struct {
	rss     *source.RSS
	scoutID int64
}

func (t *rssTool) Decl() agent.ToolDecl {
	return agent.ToolDecl{
		Name:        "rss",
		Description: "Interact with the subscribed RSS feeds: list them, then read entries from one feed at a time.",
		Params: &agent.Schema{
			Type: "object",
			Properties: map[string]*agent.Schema{
				"action": {
					Type:        "string",
					Description: "What to do: 'list' enumerates the subscribed feeds, 'read' returns entries from one feed.",
					Enum:        []string{"list", "read"},
				},
				"feed_id": {
					Type:        "integer",
					Description: "Feed id from 'list'. Required for 'read'.",
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum entries to return (default 10).",
				},
				"include_processed": {
					Type:        "boolean",
					Description: "Include entries already read in earlier runs. Use when looking further back in time.",
				},
			},
			Required: []string{"action"},
		},
	}
}

func (t *rssTool) Call(ctx context.Context, args map[string]any) (string, error) {
	cfg := domain.Config(args)
	switch action := cfg.Str("action", ""); action {
	case "list":
		feeds, err := t.rss.Feeds(ctx, t.scoutID)
		if err != nil {
			return "", err
		}
		if len(feeds) == 0 {
			return "No feeds subscribed.", nil
		}
		var b strings.Builder
		b.WriteString("Subscribed feeds:\n")
		for _, f := range feeds {
			fmt.Fprintf(&b, "- feed_id=%d: %s (%s)\n", f.ID, f.Title, f.URL)
		}
		return b.String(), nil

	case "read":
		feedID := int64(cfg.Int("feed_id", 0))
		if feedID == 0 {
			return "", fmt.Errorf("scout: rss read needs feed_id")
		}
		limit := cfg.Int("limit", 10)
		entries, err := t.rss.Read(ctx, feedID, limit, cfg.Bool("include_processed", false))
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "No unread entries in this feed. Set include_processed=true to revisit older ones.", nil
		}

		ids := make([]int64, 0, len(entries))
		var b strings.Builder
		for _, en := range entries {
			ids = append(ids, en.ID)
			fmt.Fprintf(&b, "- Title: %s\n", en.Title)
			fmt.Fprintf(&b, "  URL: %s\n", en.Link)
			if !en.Published.IsZero() {
				fmt.Fprintf(&b, "  Published: %s\n", en.Published.Format("2006-01-02"))
			}
			summary := en.Summary
			if summary == "" {
				summary = en.Content
			}
			fmt.Fprintf(&b, "  Summary: %s\n", summary)
			b.WriteString("---\n")
		}
		if err := t.rss.MarkProcessed(ctx, ids); err != nil {
			return "", err
		}
		return b.String(), nil

	default:
		return "", fmt.Errorf("scout: rss: unknown action %q", action)
	}
}

// fetchTool adapts a registry fetcher (reddit, google_search, arxiv) into an
// agent tool by building a one-off fetch config from the call arguments.
type fetchTool struct {
	tag   string
	fetch source.Fetcher
}

func (t *fetchTool) Decl() agent.ToolDecl {
	switch t.tag {
	case "reddit":
		return agent.ToolDecl{
			Name:        "reddit",
			Description: "Fetch posts from a subreddit.",
			Params: &agent.Schema{
				Type: "object",
				Properties: map[string]*agent.Schema{
					"subreddit": {Type: "string", Description: "Subreddit name, without the r/ prefix."},
					"sort": {
						Type:        "string",
						Description: "Listing order.",
						Enum:        source.RedditSorts,
					},
					"limit": {Type: "integer", Description: "Maximum posts to return (default 10)."},
				},
				Required: []string{"subreddit"},
			},
		}
	case "arxiv":
		return agent.ToolDecl{
			Name:        "arxiv",
			Description: "Search arXiv for research papers.",
			Params: &agent.Schema{
				Type: "object",
				Properties: map[string]*agent.Schema{
					"query":     {Type: "string", Description: "Topic to search for."},
					"days_back": {Type: "integer", Description: "Only papers submitted in the last N days."},
				},
				Required: []string{"query"},
			},
		}
	default: // google_search
		return agent.ToolDecl{
			Name:        "google_search",
			Description: "Search the web for recent news, articles and pages.",
			Params: &agent.Schema{
				Type: "object",
				Properties: map[string]*agent.Schema{
					"query":       {Type: "string", Description: "Search terms."},
					"num_results": {Type: "integer", Description: "Maximum results (max 10)."},
				},
				Required: []string{"query"},
			},
		}
	}
}

func (t *fetchTool) Call(ctx context.Context, args map[string]any) (string, error) {
	a := domain.Config(args)
	var (
		cfg   domain.Config
		limit int
	)
	switch t.tag {
	case "reddit":
		cfg = domain.Config{"subreddits": []string{a.Str("subreddit", "")}}
		if sort := a.Str("sort", ""); sort != "" {
			cfg["reddit_sort"] = sort
		}
		limit = a.Int("limit", 10)
	case "arxiv":
		cfg = domain.Config{"query": a.Str("query", "")}
		if days := a.Int("days_back", 0); days > 0 {
			cfg["days_back"] = days
		}
		limit = a.Int("limit", 10)
	default:
		cfg = domain.Config{"query": a.Str("query", "")}
		limit = a.Int("num_results", 10)
	}

	items, err := t.fetch.Fetch(ctx, cfg, limit)
	if err != nil {
		return "", err
	}
	return itemsText(items), nil
}

// httpTool serves "http_request": fetch a URL and return its readable text,
// optionally scoped by a CSS selector, or just its outbound links.
type httpTool struct {
	web *source.Webpage
}

func (t *httpTool) Decl() agent.ToolDecl {
	return agent.ToolDecl{
		Name:        "http_request",
		Description: "Fetch a web page and return its readable text, or its outbound links.",
		Params: &agent.Schema{
			Type: "object",
			Properties: map[string]*agent.Schema{
				"url":           {Type: "string", Description: "Page to fetch."},
				"selector":      {Type: "string", Description: "Optional CSS selector to extract only matching elements."},
				"extract_links": {Type: "boolean", Description: "Return the page's links instead of its text."},
			},
			Required: []string{"url"},
		},
	}
}

func (t *httpTool) Call(ctx context.Context, args map[string]any) (string, error) {
	a := domain.Config(args)
	target := a.Str("url", "")
	if target == "" {
		return "", fmt.Errorf("scout: http_request needs url")
	}
	page, err := t.web.Get(ctx, target, a.Str("selector", ""))
	if err != nil {
		return "", err
	}
	if a.Bool("extract_links", false) {
		if len(page.Links) == 0 {
			return "No links found.", nil
		}
		return "Links:\n" + strings.Join(page.Links, "\n"), nil
	}
	if page.Title != "" {
		return page.Title + "\n\n" + page.Text, nil
	}
	return page.Text, nil
}

// browserTool is the simpler navigate-and-extract front for the same
// webpage adapter.
type browserTool struct {
	web *source.Webpage
}

func (t *browserTool) Decl() agent.ToolDecl {
	return agent.ToolDecl{
		Name:        "browser",
		Description: "Navigate to a URL and extract the page text.",
		Params: &agent.Schema{
			Type: "object",
			Properties: map[string]*agent.Schema{
				"url": {Type: "string", Description: "Page to open."},
			},
			Required: []string{"url"},
		},
	}
}

func (t *browserTool) Call(ctx context.Context, args map[string]any) (string, error) {
	target := domain.Config(args).Str("url", "")
	if target == "" {
		return "", fmt.Errorf("scout: browser needs url")
	}
	page, err := t.web.Get(ctx, target, "")
	if err != nil {
		return "", err
	}
	if page.Title != "" {
		return page.Title + "\n\n" + page.Text, nil
	}
	return page.Text, nil
}

// imageTool renders a prompt through the image provider and saves the result
// under the image directory. The model gets the saved path back so it can
// populate image_path on the matching item.
type imageTool struct {
	gen ImageGenerator
	dir string
}

func (t *imageTool) Decl() agent.ToolDecl {
	return agent.ToolDecl{
		Name:        "generate_image",
		Description: "Generate an image for the most interesting content found. Returns the saved file path.",
		Params: &agent.Schema{
			Type: "object",
			Properties: map[string]*agent.Schema{
				"prompt": {Type: "string", Description: "What the image should depict."},
			},
			Required: []string{"prompt"},
		},
	}
}

func (t *imageTool) Call(ctx context.Context, args map[string]any) (string, error) {
	prompt := domain.Config(args).Str("prompt", "")
	if prompt == "" {
		return "", fmt.Errorf("scout: generate_image needs prompt")
	}
	data, err := t.gen.GenerateImage(ctx, prompt)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return "", fmt.Errorf("scout: image dir: %w", err)
	}
	path := filepath.Join(t.dir, uuid.NewString()+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("scout: save image: %w", err)
	}
	return "Image saved to: " + path, nil
}

// scoutTool binds another scout as a tool for a meta scout. Calling it runs
// the child's fetch pipeline inline (limit 5, dedup included) and returns the
// surviving items as text. Failures come back as text too, so the model can
// keep orchestrating the remaining children.
type scoutTool struct {
	exec   *Executor
	target domain.Scout
}

func (t *scoutTool) Decl() agent.ToolDecl {
	desc := fmt.Sprintf("Runs the '%s' scout.", t.target.Name)
	cfg := t.target.Config
	switch t.target.Kind {
	case domain.KindSearch:
		desc += fmt.Sprintf(" Useful for finding information about: %s.", cfg.Str("query", "unknown topic"))
	case domain.KindRSS:
		desc += fmt.Sprintf(" Useful for fetching latest news from %d configured RSS feeds.", len(cfg.Strings("feeds")))
	case domain.KindReddit:
		desc += fmt.Sprintf(" Useful for finding discussions from subreddits: %s.", strings.Join(cfg.Strings("subreddits"), ", "))
	case domain.KindArxiv:
		desc += fmt.Sprintf(" Useful for finding research papers about: %s.", cfg.Str("query", "research"))
	case domain.KindHTTP:
		desc += fmt.Sprintf(" Useful for analyzing content from: %s.", cfg.Str("url", ""))
	}

	props := map[string]*agent.Schema{
		"query": {Type: "string", Description: "Optional query or instruction overriding the scout's default."},
	}
	switch t.target.Kind {
	case domain.KindHTTP:
		props["url"] = &agent.Schema{Type: "string", Description: "Override the target URL for this request."}
	case domain.KindArxiv:
		props["date_filter"] = &agent.Schema{
			Type:        "string",
			Description: "Filter papers by date.",
			Enum:        []string{"today", "week", "month"},
		}
	}

	return agent.ToolDecl{
		Name:        "scout_" + safeToolName(t.target.Name),
		Description: desc,
		Params:      &agent.Schema{Type: "object", Properties: props},
	}
}

func (t *scoutTool) Call(ctx context.Context, args map[string]any) (string, error) {
	a := domain.Config(args)
	opts := RunOpts{Limit: metaChildLimit, Query: a.Str("query", "")}
	overlay := domain.Config{}
	if u := a.Str("url", ""); u != "" && t.target.Kind == domain.KindHTTP {
		overlay["url"] = u
	}
	if df := a.Str("date_filter", ""); df != "" && t.target.Kind == domain.KindArxiv {
		overlay["date_filter"] = df
	}
	if len(overlay) > 0 {
		opts.Config = overlay
	}

	log, done := t.exec.openRunLog(t.target.Name)
	defer done()

	res, err := t.exec.fetch(ctx, t.target, opts, log)
	if err != nil {
		return fmt.Sprintf("Error running scout '%s': %v", t.target.Name, err), nil
	}
	if len(res.Items) == 0 {
		return fmt.Sprintf("Scout '%s' found no items.", t.target.Name), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results from %s:\n\n", t.target.Name)
	b.WriteString(itemsText(res.Items))
	return b.String(), nil
}

// safeToolName reduces a scout name to a provider-safe function name:
// lowercase, with every non-alphanumeric rune mapped to underscore.
func safeToolName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
