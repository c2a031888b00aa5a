package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/scoutline/scoutd/engine/domain"
)

// maxPageChars caps the extracted text of a webpage so one long article
// cannot blow the model's context window.
const maxPageChars = 10000

// maxPageLinks caps how many outbound links a page report carries.
const maxPageLinks = 50

// Webpage serves the "http_request" and "browser" tools: it fetches a URL
// with a browser user agent and reduces the document to readable text plus
// its outbound links.
type Webpage struct {
	client *http.Client
	log    *slog.Logger
}

// NewWebpage returns a Webpage adapter.
func NewWebpage(log *slog.Logger) *Webpage {
	return &Webpage{
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Page is the readable reduction of one fetched document.
type Page struct {
	URL   string
	Title string
	Text  string
	Links []string
}

// Fetch implements Fetcher for cfg["url"], optionally scoped by
// cfg["selector"]. A webpage is a single candidate, so the result is one
// item carrying the page text and links.
func (w *Webpage) Fetch(ctx context.Context, cfg domain.Config, limit int) ([]domain.Item, error) {
	target := cfg.Str("url", "")
	if target == "" {
		return nil, domain.MissingConfig("url")
	}
	page, err := w.Get(ctx, target, cfg.Str("selector", ""))
	if err != nil {
		return nil, err
	}

	title := page.Title
	if title == "" {
		title = page.URL
	}
	return []domain.Item{{
		SourceID: page.URL,
		Title:    title,
		URL:      page.URL,
		Summary:  page.Text,
		Sources:  page.Links,
	}}, nil
}

// Get fetches and reduces one document. With a selector, only the matched
// elements contribute text; without one, the whole document is used with
// script and style content stripped. Text is whitespace-collapsed and
// truncated at maxPageChars with a note carrying the original length.
func (w *Webpage) Get(ctx context.Context, target, selector string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("source: webpage request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, domain.Transient("webpage "+target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("webpage "+target, resp)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("source: parse webpage %s: %w", target, err)
	}

	page := &Page{
		URL:   target,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Links: pageLinks(doc, resp.Request.URL),
	}

	var text string
	if selector != "" {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			page.Text = fmt.Sprintf("No elements found matching selector '%s'", selector)
			return page, nil
		}
		parts := make([]string, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			if t := collapseSpace(s.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		text = strings.Join(parts, "\n\n")
	} else {
		doc.Find("script, style, noscript").Remove()
		text = collapseSpace(doc.Text())
	}

	if runes := []rune(text); len(runes) > maxPageChars {
		text = string(runes[:maxPageChars]) +
			fmt.Sprintf("\n\n[Content truncated - original length: %d characters]", len(runes))
	}
	page.Text = text
	return page, nil
}

// pageLinks collects up to maxPageLinks absolute http(s) links from the
// document, resolving relative hrefs against the final request URL so
// redirects do not skew them.
func pageLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return true
		}
		abs, err := base.Parse(href)
		if err != nil {
			return true
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}
		links = append(links, abs.String())
		return len(links) < maxPageLinks
	})
	return links
}
