package scout

import (
	"strings"
	"testing"

	"github.com/scoutline/scoutd/engine/domain"
)

func TestGoalSearch(t *testing.T) {
	cfg := domain.Config{"query": "AI safety"}

	got := Goal(domain.KindSearch, cfg, 0)
	want := `Find interesting content about: "AI safety"`
	if got != want {
		t.Errorf("goal = %q, want %q", got, want)
	}

	retry := Goal(domain.KindSearch, cfg, 1)
	if !strings.HasPrefix(retry, want) {
		t.Errorf("retry goal should extend the base goal, got %q", retry)
	}
	if !strings.Contains(retry, "Try different search terms or angles") {
		t.Errorf("retry goal missing nudge: %q", retry)
	}
}

func TestGoalSearchDefaultSubject(t *testing.T) {
	got := Goal(domain.KindSearch, domain.Config{}, 0)
	if !strings.Contains(got, `"latest news"`) {
		t.Errorf("goal without query should fall back to latest news, got %q", got)
	}
}

func TestGoalRSS(t *testing.T) {
	got := Goal(domain.KindRSS, domain.Config{}, 0)
	if !strings.Contains(got, "ALL your subscribed RSS feeds") {
		t.Errorf("goal = %q", got)
	}
	if !strings.Contains(got, "'rss' tool") {
		t.Errorf("goal should name the rss tool, got %q", got)
	}
	if strings.Contains(got, "Filter for content") {
		t.Errorf("goal without query should not filter, got %q", got)
	}

	got = Goal(domain.KindRSS, domain.Config{"query": "kubernetes"}, 1)
	if !strings.Contains(got, "Filter for content related to: 'kubernetes'.") {
		t.Errorf("goal missing filter clause: %q", got)
	}
	if !strings.Contains(got, "looking further back in time") {
		t.Errorf("retry goal missing nudge: %q", got)
	}
}

func TestGoalReddit(t *testing.T) {
	cfg := domain.Config{
		"subreddits":  []string{"golang", "programming"},
		"reddit_sort": "top",
	}
	got := Goal(domain.KindReddit, cfg, 0)
	if !strings.Contains(got, "golang, programming") {
		t.Errorf("goal missing subreddits: %q", got)
	}
	if !strings.Contains(got, "sort='top'") {
		t.Errorf("goal missing sort: %q", got)
	}
}

func TestGoalRedditRetryHint(t *testing.T) {
	cfg := domain.Config{"subreddits": []string{"golang"}}

	got := Goal(domain.KindReddit, cfg, 1)
	if !strings.Contains(got, "Try exploring different topics or sorting methods") {
		t.Errorf("retry without hint should use the generic nudge, got %q", got)
	}

	cfg["sort_hint"] = "Focus on most recent and fresh content"
	got = Goal(domain.KindReddit, cfg, 1)
	if !strings.Contains(got, "Focus on most recent and fresh content.") {
		t.Errorf("retry goal should carry the sort hint, got %q", got)
	}
}

func TestGoalArxiv(t *testing.T) {
	got := Goal(domain.KindArxiv, domain.Config{"query": "diffusion models", "date_filter": "week"}, 0)
	if !strings.Contains(got, `"diffusion models"`) {
		t.Errorf("goal missing query: %q", got)
	}
	if !strings.Contains(got, "last 7 days") {
		t.Errorf("goal should map week to 7 days, got %q", got)
	}

	got = Goal(domain.KindArxiv, domain.Config{"days_back": 3}, 0)
	if !strings.Contains(got, `"latest research"`) {
		t.Errorf("goal without query should fall back, got %q", got)
	}
	if !strings.Contains(got, "last 3 days") {
		t.Errorf("explicit days_back should win, got %q", got)
	}

	got = Goal(domain.KindArxiv, domain.Config{}, 0)
	if strings.Contains(got, "Filter for papers") {
		t.Errorf("goal without window should not filter by date, got %q", got)
	}
}

func TestGoalHTTP(t *testing.T) {
	cfg := domain.Config{"url": "https://example.com/post", "query": "pricing"}
	got := Goal(domain.KindHTTP, cfg, 0)
	if !strings.Contains(got, "https://example.com/post") {
		t.Errorf("goal missing url: %q", got)
	}
	if !strings.Contains(got, "'browser' tool") {
		t.Errorf("goal should name the browser tool, got %q", got)
	}
	if !strings.Contains(got, "Focus on: 'pricing'.") {
		t.Errorf("goal missing focus clause: %q", got)
	}
}

func TestGoalMeta(t *testing.T) {
	got := Goal(domain.KindMeta, domain.Config{}, 0)
	want := "Orchestrate the available tools to: Coordinate the available tools to find interesting content."
	if got != want {
		t.Errorf("goal = %q, want %q", got, want)
	}

	cfg := domain.Config{"orchestration_prompt": "compile a morning briefing", "query": "AI"}
	got = Goal(domain.KindMeta, cfg, 0)
	if !strings.Contains(got, "Orchestrate the available tools to: compile a morning briefing.") {
		t.Errorf("goal = %q", got)
	}
	if !strings.Contains(got, "Focus on: 'AI'.") {
		t.Errorf("goal missing focus clause: %q", got)
	}
}

func TestArxivDays(t *testing.T) {
	cases := []struct {
		cfg  domain.Config
		want int
	}{
		{domain.Config{}, 0},
		{domain.Config{"date_filter": "today"}, 1},
		{domain.Config{"date_filter": "week"}, 7},
		{domain.Config{"date_filter": "month"}, 30},
		{domain.Config{"days_back": 14}, 14},
		{domain.Config{"days_back": 14, "date_filter": "today"}, 14},
	}
	for _, tc := range cases {
		if got := arxivDays(tc.cfg); got != tc.want {
			t.Errorf("arxivDays(%v) = %d, want %d", tc.cfg, got, tc.want)
		}
	}
}
