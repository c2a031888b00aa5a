package scout

import (
	"fmt"
	"strings"

	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/pkg/fn"
)

// FormatReport renders a markdown digest of the kept items for
// notify-only delivery.
func FormatReport(name string, items []domain.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# 📚 %s - Content Discovery\n\n", name)
	plural := "s"
	if len(items) == 1 {
		plural = ""
	}
	fmt.Fprintf(&b, "*Found %d interesting item%s*\n", len(items), plural)

	for i, it := range items {
		fmt.Fprintf(&b, "\n\n## %d. %s\n", i+1, it.Title)
		fmt.Fprintf(&b, "\n%s\n\n", it.Summary)
		fmt.Fprintf(&b, "🔗 **Source:** %s", it.URL)
		related := fn.Filter(it.Sources, func(s string) bool { return s != it.URL })
		if len(related) > 0 {
			fmt.Fprintf(&b, "\n\n📎 **Related:** %s", strings.Join(fn.Truncate(related, 3), ", "))
		}
		b.WriteString("\n\n" + strings.Repeat("-", 50))
	}
	return b.String()
}
