package scout

import (
	"fmt"
	"strings"

	"github.com/scoutline/scoutd/engine/domain"
)

// Goal synthesizes the natural-language goal for one agent attempt from the
// scout kind and its effective config. attempt 0 is the initial run; retries
// pass attempt >= 1 and get a kind-specific nudge appended so the model does
// not just reproduce the content it already found.
func Goal(kind domain.Kind, cfg domain.Config, attempt int) string {
	query := cfg.Str("query", "")

	switch kind {
	case domain.KindMeta:
		prompt := cfg.Str("orchestration_prompt", "Coordinate the available tools to find interesting content")
		goal := fmt.Sprintf("Orchestrate the available tools to: %s.", prompt)
		if query != "" {
			goal += fmt.Sprintf(" Focus on: '%s'.", query)
		}
		return goal

	case domain.KindHTTP:
		goal := fmt.Sprintf("Analyze the content at: %s. Use the 'browser' tool to navigate to the URL and extract the text.", cfg.Str("url", ""))
		if query != "" {
			goal += fmt.Sprintf(" Focus on: '%s'.", query)
		}
		return goal

	case domain.KindRSS:
		goal := "Find interesting content from ALL your subscribed RSS feeds. " +
			"Use the 'rss' tool to list available feeds, then read entries from EACH feed " +
			"to gather diverse content across all sources."
		if query != "" {
			goal += fmt.Sprintf(" Filter for content related to: '%s'.", query)
		}
		if attempt > 0 {
			goal += " Try exploring different feeds or looking further back in time to find new content."
		}
		return goal

	case domain.KindReddit:
		subs := strings.Join(cfg.Strings("subreddits"), ", ")
		goal := fmt.Sprintf("Find interesting content from the following subreddits: %s. Use the 'reddit' tool with sort='%s'.",
			subs, cfg.Str("reddit_sort", "hot"))
		if query != "" {
			goal += fmt.Sprintf(" Filter for content related to: '%s'.", query)
		}
		if attempt > 0 {
			if hint := cfg.Str("sort_hint", ""); hint != "" {
				goal += " " + hint + "."
			} else {
				goal += " Try exploring different topics or sorting methods to find new content."
			}
		}
		return goal

	case domain.KindArxiv:
		subject := query
		if subject == "" {
			subject = "latest research"
		}
		goal := fmt.Sprintf("Find research papers about: %q. Use the 'arxiv' tool.", subject)
		if days := arxivDays(cfg); days > 0 {
			goal += fmt.Sprintf(" Filter for papers from the last %d days.", days)
		}
		if attempt > 0 {
			goal += " Try different search terms or categories to find new papers."
		}
		return goal

	default:
		subject := query
		if subject == "" {
			subject = "latest news"
		}
		goal := fmt.Sprintf("Find interesting content about: %q", subject)
		if attempt > 0 {
			goal += " Try different search terms or angles to find new content."
		}
		return goal
	}
}

// arxivDays resolves the lookback window: an explicit days_back wins,
// otherwise a named date_filter maps to a day count. Zero means no window.
func arxivDays(cfg domain.Config) int {
	if d := cfg.Int("days_back", 0); d > 0 {
		return d
	}
	switch cfg.Str("date_filter", "") {
	case "today":
		return 1
	case "week":
		return 7
	case "month":
		return 30
	}
	return 0
}
