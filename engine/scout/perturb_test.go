package scout

import (
	"testing"

	"github.com/scoutline/scoutd/engine/domain"
)

func TestPerturbReddit(t *testing.T) {
	cfg := domain.Config{"reddit_sort": "hot", "subreddits": []string{"golang"}}

	out, ok := Perturb(domain.KindReddit, cfg, 1)
	if !ok {
		t.Fatal("reddit retries should be supported")
	}
	if got := out.Str("reddit_sort", ""); got != "new" {
		t.Errorf("attempt 1 sort = %q, want new", got)
	}
	if got := out.Str("sort_hint", ""); got != "Focus on most recent and fresh content" {
		t.Errorf("sort_hint = %q", got)
	}

	out, _ = Perturb(domain.KindReddit, cfg, 2)
	if got := out.Str("reddit_sort", ""); got != "top" {
		t.Errorf("attempt 2 sort = %q, want top", got)
	}

	// Rotation wraps around the sort list.
	out, _ = Perturb(domain.KindReddit, cfg, 4)
	if got := out.Str("reddit_sort", ""); got != "hot" {
		t.Errorf("attempt 4 sort = %q, want hot", got)
	}

	// An unrecognized base sort still rotates deterministically.
	out, _ = Perturb(domain.KindReddit, domain.Config{"reddit_sort": "controversial"}, 1)
	if got := out.Str("reddit_sort", ""); got != "new" {
		t.Errorf("unknown base sort, attempt 1 = %q, want new", got)
	}
}

func TestPerturbRSS(t *testing.T) {
	out, ok := Perturb(domain.KindRSS, domain.Config{"query": "rust"}, 1)
	if !ok {
		t.Fatal("rss retries should be supported")
	}
	if got := out.Str("query", ""); got != "rust (try different feeds or older entries)" {
		t.Errorf("query = %q", got)
	}

	out, _ = Perturb(domain.KindRSS, domain.Config{}, 1)
	if got := out.Str("query", ""); got != "try different feeds or older entries" {
		t.Errorf("query without base = %q", got)
	}
}

func TestPerturbSearch(t *testing.T) {
	cfg := domain.Config{"query": "llm agents"}
	wants := []string{
		"llm agents recent developments",
		"llm agents latest updates",
		"llm agents new findings",
		"alternative perspectives on llm agents",
		"llm agents recent developments", // attempt 5 wraps
	}
	for i, want := range wants {
		out, ok := Perturb(domain.KindSearch, cfg, i+1)
		if !ok {
			t.Fatal("search retries should be supported")
		}
		if got := out.Str("query", ""); got != want {
			t.Errorf("attempt %d query = %q, want %q", i+1, got, want)
		}
	}

	// Without a query there is nothing to vary; the retry still proceeds.
	out, ok := Perturb(domain.KindSearch, domain.Config{}, 1)
	if !ok {
		t.Fatal("search retries should be supported")
	}
	if got := out.Str("query", ""); got != "" {
		t.Errorf("query = %q, want empty", got)
	}
}

func TestPerturbArxiv(t *testing.T) {
	cfg := domain.Config{"days_back": 7}

	out, ok := Perturb(domain.KindArxiv, cfg, 1)
	if !ok {
		t.Fatal("arxiv retries should be supported")
	}
	if got := out.Int("days_back", 0); got != 14 {
		t.Errorf("attempt 1 days_back = %d, want 14", got)
	}

	out, _ = Perturb(domain.KindArxiv, cfg, 2)
	if got := out.Int("days_back", 0); got != 28 {
		t.Errorf("attempt 2 days_back = %d, want 28", got)
	}

	out, _ = Perturb(domain.KindArxiv, cfg, 4)
	if got := out.Int("days_back", 0); got != maxArxivDays {
		t.Errorf("attempt 4 days_back = %d, want cap %d", got, maxArxivDays)
	}

	// date_filter resolves to a base window before doubling.
	out, _ = Perturb(domain.KindArxiv, domain.Config{"date_filter": "month"}, 1)
	if got := out.Int("days_back", 0); got != 60 {
		t.Errorf("month attempt 1 days_back = %d, want 60", got)
	}
}

func TestPerturbAbandonsHTTPAndMeta(t *testing.T) {
	for _, kind := range []domain.Kind{domain.KindHTTP, domain.KindMeta} {
		if _, ok := Perturb(kind, domain.Config{}, 1); ok {
			t.Errorf("%s retries should be abandoned", kind)
		}
	}
}

func TestPerturbDoesNotMutateBase(t *testing.T) {
	cfg := domain.Config{"reddit_sort": "hot", "query": "go"}
	Perturb(domain.KindReddit, cfg, 1)
	Perturb(domain.KindSearch, cfg, 2)
	Perturb(domain.KindRSS, cfg, 1)

	if got := cfg.Str("reddit_sort", ""); got != "hot" {
		t.Errorf("base reddit_sort mutated to %q", got)
	}
	if got := cfg.Str("query", ""); got != "go" {
		t.Errorf("base query mutated to %q", got)
	}
	if _, ok := cfg["sort_hint"]; ok {
		t.Error("base config gained sort_hint")
	}
}

func TestPerturbAttemptZeroPassesThrough(t *testing.T) {
	cfg := domain.Config{"query": "go"}
	out, ok := Perturb(domain.KindSearch, cfg, 0)
	if !ok {
		t.Fatal("attempt 0 should always be runnable")
	}
	if got := out.Str("query", ""); got != "go" {
		t.Errorf("attempt 0 should not perturb, got query %q", got)
	}
}
