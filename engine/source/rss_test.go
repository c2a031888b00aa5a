package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "scout.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func rssDocument(title string, entries ...string) string {
	body := fmt.Sprintf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<rss version=\"2.0\"><channel><title>%s</title>", title)
	for _, e := range entries {
		body += e
	}
	return body + "</channel></rss>"
}

func rssEntry(guid, title, date string) string {
	return fmt.Sprintf(`<item><guid>%s</guid><title>%s</title><link>http://example.com/%s</link><pubDate>%s</pubDate><description>summary of %s</description></item>`,
		guid, title, guid, date, title)
}

func TestRSSSubscribeAndFetch(t *testing.T) {
	doc := rssDocument("Engine Blog",
		rssEntry("e1", "Older news", "Mon, 02 Jan 2023 10:00:00 GMT"),
		rssEntry("e2", "Newer news", "Tue, 03 Jan 2023 10:00:00 GMT"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, doc)
	}))
	defer srv.Close()

	st := testStore(t)
	rss := NewRSS(st, discardLogger())
	ctx := context.Background()

	feeds, err := rss.Subscribe(ctx, 1, []string{srv.URL}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if len(feeds) != 1 {
		t.Fatalf("expected 1 feed, got %d", len(feeds))
	}
	if feeds[0].Title != "Engine Blog" {
		t.Errorf("expected remote title, got %q", feeds[0].Title)
	}

	items, err := rss.Fetch(ctx, domain.Config{"feeds": []string{srv.URL}}, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Title != "Newer news" {
		t.Errorf("expected newest first, got %q", items[0].Title)
	}
	if items[0].Summary != "summary of Newer news" {
		t.Errorf("unexpected summary %q", items[0].Summary)
	}
	if items[0].Meta["feed_id"] == "" || items[0].Meta["id"] == "" {
		t.Errorf("expected feed_id and id meta, got %v", items[0].Meta)
	}
}

func TestRSSSubscribeInvalidFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "this is not a feed")
	}))
	defer srv.Close()

	rss := NewRSS(testStore(t), discardLogger())
	if _, err := rss.Subscribe(context.Background(), 1, []string{srv.URL}, nil); err == nil {
		t.Fatal("expected subscribe to fail on a non-feed document")
	}
}

func TestRSSPollIsIdempotent(t *testing.T) {
	doc := rssDocument("Blog", rssEntry("only", "Same entry", "Mon, 02 Jan 2023 10:00:00 GMT"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, doc)
	}))
	defer srv.Close()

	st := testStore(t)
	rss := NewRSS(st, discardLogger())
	ctx := context.Background()

	feeds, err := rss.Subscribe(ctx, 1, []string{srv.URL}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	n, err := rss.Poll(ctx, feeds[0])
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 new entries on re-poll, got %d", n)
	}
	total, _, err := st.CountEntries(ctx, feeds[0].ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 stored entry, got %d", total)
	}
}

func TestRSSFetchSkipsUnsubscribed(t *testing.T) {
	rss := NewRSS(testStore(t), discardLogger())
	items, err := rss.Fetch(context.Background(), domain.Config{"feeds": []string{"http://never-subscribed.example/feed"}}, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items for unsubscribed feed, got %d", len(items))
	}
}

func TestRSSFetchMissingConfig(t *testing.T) {
	rss := NewRSS(testStore(t), discardLogger())
	_, err := rss.Fetch(context.Background(), domain.Config{}, 5)
	if !errors.Is(err, domain.ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
}

func TestRSSFetchHidesProcessedEntries(t *testing.T) {
	doc := rssDocument("Blog",
		rssEntry("a", "Entry A", "Mon, 02 Jan 2023 10:00:00 GMT"),
		rssEntry("b", "Entry B", "Tue, 03 Jan 2023 10:00:00 GMT"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, doc)
	}))
	defer srv.Close()

	st := testStore(t)
	rss := NewRSS(st, discardLogger())
	ctx := context.Background()

	feeds, err := rss.Subscribe(ctx, 1, []string{srv.URL}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	entries, err := rss.Read(ctx, feeds[0].ID, 10, false)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if err := rss.MarkProcessed(ctx, []int64{entries[0].ID}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	items, err := rss.Fetch(ctx, domain.Config{"feeds": []string{srv.URL}}, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 unprocessed item, got %d", len(items))
	}
	if items[0].Title == entries[0].Title {
		t.Errorf("processed entry %q still served", entries[0].Title)
	}

	if err := rss.ResetProcessed(ctx, feeds[0].ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	items, err = rss.Fetch(ctx, domain.Config{"feeds": []string{srv.URL}}, 10)
	if err != nil {
		t.Fatalf("fetch after reset: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items after reset, got %d", len(items))
	}
}

func TestRSSAuthHeaders(t *testing.T) {
	doc := rssDocument("Private", rssEntry("p1", "Secret", "Mon, 02 Jan 2023 10:00:00 GMT"))
	var gotAuth, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotHeader = r.Header.Get("X-Api-Key")
		io.WriteString(w, doc)
	}))
	defer srv.Close()

	rss := NewRSS(testStore(t), discardLogger())
	auth := map[string]string{"username": "alice", "password": "s3cret", "X-Api-Key": "k-123"}
	if _, err := rss.Subscribe(context.Background(), 1, []string{srv.URL}, auth); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if gotAuth == "" {
		t.Error("expected basic auth header to be sent")
	}
	if gotHeader != "k-123" {
		t.Errorf("expected X-Api-Key header, got %q", gotHeader)
	}
}

func TestRSSPollAll(t *testing.T) {
	doc := rssDocument("Blog", rssEntry("x", "Entry X", "Mon, 02 Jan 2023 10:00:00 GMT"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, doc)
	}))
	defer srv.Close()

	st := testStore(t)
	rss := NewRSS(st, discardLogger())
	ctx := context.Background()

	if _, err := rss.Subscribe(ctx, 1, []string{srv.URL}, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	n, err := rss.PollAll(ctx, 0)
	if err != nil {
		t.Fatalf("poll all: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no new entries on immediate re-poll, got %d", n)
	}
}
