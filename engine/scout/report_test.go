package scout

import (
	"strings"
	"testing"

	"github.com/scoutline/scoutd/engine/domain"
)

func TestFormatReport(t *testing.T) {
	items := []domain.Item{
		{Title: "Go 1.26 released", URL: "https://go.dev/blog", Summary: "Release notes."},
		{
			Title:   "Postgres tricks",
			URL:     "https://example.com/pg",
			Summary: "Indexing deep dive.",
			Sources: []string{"https://a.example", "https://b.example", "https://c.example", "https://d.example"},
		},
	}
	got := FormatReport("Tech News", items)

	if !strings.HasPrefix(got, "# 📚 Tech News - Content Discovery\n") {
		t.Errorf("report header wrong:\n%s", got)
	}
	if !strings.Contains(got, "*Found 2 interesting items*") {
		t.Errorf("report missing count line:\n%s", got)
	}
	if !strings.Contains(got, "## 1. Go 1.26 released") {
		t.Errorf("report missing first item heading:\n%s", got)
	}
	if !strings.Contains(got, "## 2. Postgres tricks") {
		t.Errorf("report missing second item heading:\n%s", got)
	}
	if !strings.Contains(got, "🔗 **Source:** https://go.dev/blog") {
		t.Errorf("report missing source line:\n%s", got)
	}
	if !strings.Contains(got, "📎 **Related:** https://a.example, https://b.example, https://c.example") {
		t.Errorf("report missing related line:\n%s", got)
	}
	if strings.Contains(got, "https://d.example") {
		t.Errorf("related links should cap at three:\n%s", got)
	}
	if n := strings.Count(got, strings.Repeat("-", 50)); n != 2 {
		t.Errorf("separator count = %d, want 2", n)
	}
}

func TestFormatReportDropsSelfReference(t *testing.T) {
	got := FormatReport("Echo", []domain.Item{{
		Title:   "Echoed",
		URL:     "https://self.example",
		Sources: []string{"https://self.example", "https://other.example"},
	}})
	if !strings.Contains(got, "📎 **Related:** https://other.example") {
		t.Errorf("related line missing the other source:\n%s", got)
	}
	if strings.Count(got, "https://self.example") != 1 {
		t.Errorf("primary url should appear once:\n%s", got)
	}
}

func TestFormatReportSingular(t *testing.T) {
	got := FormatReport("Solo", []domain.Item{{Title: "One", URL: "https://one.example"}})
	if !strings.Contains(got, "*Found 1 interesting item*") {
		t.Errorf("singular count line wrong:\n%s", got)
	}
	if strings.Contains(got, "items*") {
		t.Errorf("singular report should not pluralize:\n%s", got)
	}
}
