package agent

import (
	"strings"
	"testing"
	"time"
)

func TestToolCatalogue(t *testing.T) {
	got := ToolCatalogue([]string{"rss", "reddit"})
	if !strings.HasPrefix(got, "AVAILABLE TOOLS:") {
		t.Errorf("catalogue header missing: %q", got)
	}
	if !strings.Contains(got, "TOOL: rss") || !strings.Contains(got, "TOOL: reddit") {
		t.Errorf("catalogue missing tool blocks: %q", got)
	}
	if strings.Contains(got, "TOOL: arxiv") {
		t.Error("catalogue includes an unbound tool")
	}
}

func TestToolCatalogueEmpty(t *testing.T) {
	if got := ToolCatalogue(nil); got != "" {
		t.Errorf("empty tool list should yield no catalogue, got %q", got)
	}
	// Unknown names alone yield nothing either.
	if got := ToolCatalogue([]string{"warp_drive"}); got != "" {
		t.Errorf("unknown tools should yield no catalogue, got %q", got)
	}
}

func TestPlatformRules(t *testing.T) {
	if got := PlatformRules("x"); !strings.Contains(got, "280 characters") {
		t.Errorf("x rules = %q", got)
	}
	if got := PlatformRules("linkedin"); !strings.Contains(got, "3000 characters") {
		t.Errorf("linkedin rules = %q", got)
	}
	if got := PlatformRules("notify-only"); got != "" {
		t.Errorf("notify-only should have no rules, got %q", got)
	}
}

func TestPromptBuild(t *testing.T) {
	p := Prompt{
		Guardrails: Guardrails,
		Tools:      ToolCatalogue([]string{"google_search"}),
		Goal:       "Find interesting content about: \"go generics\"",
		Date:       time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Limit:      5,
	}
	got := p.Build()

	sections := strings.Split(got, "\n\n")
	if len(sections) < 4 {
		t.Fatalf("expected at least 4 sections, got %d:\n%s", len(sections), got)
	}
	if !strings.HasPrefix(got, "You are a professional content scout") {
		t.Errorf("guardrails not first:\n%s", got)
	}
	if !strings.Contains(got, "YOUR GOAL: Find interesting content about: \"go generics\"") {
		t.Errorf("goal section missing:\n%s", got)
	}
	if !strings.HasSuffix(got, "CONTEXT:\ndate: 2026-03-14\nlimit: 5") {
		t.Errorf("context block wrong:\n%s", got)
	}
	if strings.Index(got, "AVAILABLE TOOLS:") > strings.Index(got, "YOUR GOAL:") {
		t.Error("tool catalogue should precede the goal")
	}
}

func TestPromptBuildPlatformSection(t *testing.T) {
	p := Prompt{
		Goal:     "write a post",
		Platform: PlatformRules("x"),
		Date:     time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	}
	got := p.Build()
	if !strings.Contains(got, "OUTPUT FORMAT FOR X (TWITTER):") {
		t.Errorf("platform rules missing:\n%s", got)
	}
	if strings.Index(got, "YOUR GOAL:") > strings.Index(got, "OUTPUT FORMAT FOR X") {
		t.Error("goal should precede platform rules")
	}
	if strings.Contains(got, "limit:") {
		t.Error("zero limit should not emit a limit line")
	}
}
