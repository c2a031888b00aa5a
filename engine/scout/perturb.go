package scout

import (
	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/source"
)

// maxArxivDays caps the lookback expansion on arxiv retries.
const maxArxivDays = 90

var redditSortHints = map[string]string{
	"hot":    "trending and popular",
	"new":    "most recent and fresh",
	"top":    "highest rated and best",
	"rising": "gaining momentum",
}

// Perturb derives the effective config for retry number attempt (1-based)
// from the scout's base config. It is pure: each attempt perturbs the base,
// not the previous attempt's output. The second return reports whether the
// kind supports retrying at all; http and meta runs cannot be usefully
// perturbed, so their retries are abandoned.
func Perturb(kind domain.Kind, cfg domain.Config, attempt int) (domain.Config, bool) {
	if attempt <= 0 {
		return cfg, true
	}

	switch kind {
	case domain.KindReddit:
		sorts := source.RedditSorts
		cur := cfg.Str("reddit_sort", "hot")
		idx := -1
		for i, s := range sorts {
			if s == cur {
				idx = i
				break
			}
		}
		var next string
		if idx < 0 {
			next = sorts[attempt%len(sorts)]
		} else {
			next = sorts[(idx+attempt)%len(sorts)]
		}
		out := cfg.Clone()
		out["reddit_sort"] = next
		out["sort_hint"] = "Focus on " + redditSortHints[next] + " content"
		return out, true

	case domain.KindRSS:
		out := cfg.Clone()
		if q := cfg.Str("query", ""); q != "" {
			out["query"] = q + " (try different feeds or older entries)"
		} else {
			out["query"] = "try different feeds or older entries"
		}
		return out, true

	case domain.KindSearch:
		q := cfg.Str("query", "")
		if q == "" {
			return cfg, true
		}
		variations := []string{
			q + " recent developments",
			q + " latest updates",
			q + " new findings",
			"alternative perspectives on " + q,
		}
		out := cfg.Clone()
		out["query"] = variations[(attempt-1)%len(variations)]
		return out, true

	case domain.KindArxiv:
		days := arxivDays(cfg)
		if days == 0 {
			return cfg, true
		}
		expanded := days << attempt
		if expanded > maxArxivDays || expanded <= 0 {
			expanded = maxArxivDays
		}
		out := cfg.Clone()
		out["days_back"] = expanded
		return out, true

	default:
		return cfg, false
	}
}
