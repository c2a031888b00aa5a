package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scoutline/scoutd/engine/domain"
)

// UpsertFeed registers a feed URL. Subscribing twice to the same URL returns
// the existing row; a zero ScoutID on the incoming feed never detaches an
// owned one.
func (s *Store) UpsertFeed(ctx context.Context, f domain.Feed) (domain.Feed, error) {
	auth := "{}"
	if len(f.Auth) > 0 {
		b, err := json.Marshal(f.Auth)
		if err != nil {
			return domain.Feed{}, fmt.Errorf("store: encode feed auth: %w", err)
		}
		auth = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feeds (url, title, scout_id, poll_interval, last_polled, auth)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE feeds.title END,
			scout_id = CASE WHEN excluded.scout_id != 0 THEN excluded.scout_id ELSE feeds.scout_id END,
			auth = CASE WHEN excluded.auth != '{}' THEN excluded.auth ELSE feeds.auth END`,
		f.URL, f.Title, f.ScoutID, int64(f.PollInterval/time.Second),
		unixOrZero(f.LastPolled), auth)
	if err != nil {
		return domain.Feed{}, fmt.Errorf("store: upsert feed: %w", err)
	}

	return s.GetFeedByURL(ctx, f.URL)
}

// GetFeed fetches a feed by id.
func (s *Store) GetFeed(ctx context.Context, id int64) (domain.Feed, error) {
	row := s.db.QueryRowContext(ctx, feedSelect+" WHERE id = ?", id)
	f, err := scanFeedRow(row)
	if err == sql.ErrNoRows {
		return domain.Feed{}, fmt.Errorf("store: feed %d: %w", id, domain.ErrNotFound)
	}
	return f, err
}

// GetFeedByURL fetches a feed by its unique URL.
func (s *Store) GetFeedByURL(ctx context.Context, url string) (domain.Feed, error) {
	row := s.db.QueryRowContext(ctx, feedSelect+" WHERE url = ?", url)
	f, err := scanFeedRow(row)
	if err == sql.ErrNoRows {
		return domain.Feed{}, fmt.Errorf("store: feed %q: %w", url, domain.ErrNotFound)
	}
	return f, err
}

// ListFeeds returns feeds owned by scoutID, or every feed when scoutID is 0.
func (s *Store) ListFeeds(ctx context.Context, scoutID int64) ([]domain.Feed, error) {
	q, args := feedSelect+" ORDER BY id", []any{}
	if scoutID != 0 {
		q, args = feedSelect+" WHERE scout_id = ? ORDER BY id", []any{scoutID}
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list feeds: %w", err)
	}
	defer rows.Close()

	var out []domain.Feed
	for rows.Next() {
		f, err := scanFeedRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// TouchFeedPolled stamps last_polled and, when non-empty, the remote title.
func (s *Store) TouchFeedPolled(ctx context.Context, id int64, title string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET last_polled=?,
			title = CASE WHEN ? != '' THEN ? ELSE title END
		WHERE id=?`,
		at.UTC().Unix(), title, title, id)
	if err != nil {
		return fmt.Errorf("store: touch feed: %w", err)
	}
	return requireRow(res, fmt.Sprintf("feed %d", id))
}

// DeleteFeed removes a feed; its entries go with it.
func (s *Store) DeleteFeed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("store: delete feed: %w", err)
	}
	return requireRow(res, fmt.Sprintf("feed %d", id))
}

// InsertEntry inserts a feed entry if its (feed_id, entry_id) pair is new.
// Returns true when a row was inserted; re-polling the same document is a
// no-op.
func (s *Store) InsertEntry(ctx context.Context, e domain.Entry) (bool, error) {
	cats := "[]"
	if len(e.Categories) > 0 {
		b, err := json.Marshal(e.Categories)
		if err != nil {
			return false, fmt.Errorf("store: encode categories: %w", err)
		}
		cats = string(b)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO entries
			(feed_id, entry_id, title, link, published, author, summary, content,
			 categories, is_processed, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0)`,
		e.FeedID, e.EntryID, e.Title, e.Link, unixOrZero(e.Published),
		e.Author, e.Summary, e.Content, cats)
	if err != nil {
		return false, fmt.Errorf("store: insert entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}

// ReadEntries returns up to limit entries of a feed, newest publish time
// first. With onlyUnprocessed, rows already marked processed are skipped.
func (s *Store) ReadEntries(ctx context.Context, feedID int64, limit int, onlyUnprocessed bool) ([]domain.Entry, error) {
	q := entrySelect + " WHERE feed_id = ?"
	if onlyUnprocessed {
		q += " AND is_processed = 0"
	}
	q += " ORDER BY published DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, q, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: read entries: %w", err)
	}
	defer rows.Close()

	var out []domain.Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEntriesProcessed flips is_processed on the given entries. The flag is
// monotonic: rows already processed keep their original processed_at.
func (s *Store) MarkEntriesProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC().Unix()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE entries SET is_processed=1, processed_at=?
				WHERE id=? AND is_processed=0`, now, id); err != nil {
				return fmt.Errorf("store: mark entry %d: %w", id, err)
			}
		}
		return nil
	})
}

// ResetProcessed clears the processed flag for one feed, or for every feed
// when feedID is 0.
func (s *Store) ResetProcessed(ctx context.Context, feedID int64) error {
	q, args := `UPDATE entries SET is_processed=0, processed_at=0`, []any{}
	if feedID != 0 {
		q, args = q+` WHERE feed_id=?`, []any{feedID}
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("store: reset processed: %w", err)
	}
	return nil
}

// CountEntries returns (total, unprocessed) for a feed.
func (s *Store) CountEntries(ctx context.Context, feedID int64) (total, unprocessed int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_processed=0 THEN 1 ELSE 0 END), 0)
		FROM entries WHERE feed_id=?`, feedID).Scan(&total, &unprocessed)
	if err != nil {
		return 0, 0, fmt.Errorf("store: count entries: %w", err)
	}
	return total, unprocessed, nil
}

const feedSelect = `SELECT id, url, title, scout_id, poll_interval, last_polled, auth FROM feeds`

func scanFeedRow(r rowScanner) (domain.Feed, error) {
	var (
		f                      domain.Feed
		pollSec, lastPolled    int64
		auth                   string
	)
	err := r.Scan(&f.ID, &f.URL, &f.Title, &f.ScoutID, &pollSec, &lastPolled, &auth)
	if err != nil {
		return domain.Feed{}, err
	}
	f.PollInterval = time.Duration(pollSec) * time.Second
	f.LastPolled = timeOrZero(lastPolled)
	if auth != "" && auth != "{}" {
		if err := json.Unmarshal([]byte(auth), &f.Auth); err != nil {
			return domain.Feed{}, fmt.Errorf("store: decode feed auth: %w", err)
		}
	}
	return f, nil
}

const entrySelect = `SELECT id, feed_id, entry_id, title, link, published,
	author, summary, content, categories, is_processed, processed_at FROM entries`

func scanEntryRow(r rowScanner) (domain.Entry, error) {
	var (
		e                       domain.Entry
		published, processedAt  int64
		cats                    string
		isProcessed             int
	)
	err := r.Scan(&e.ID, &e.FeedID, &e.EntryID, &e.Title, &e.Link, &published,
		&e.Author, &e.Summary, &e.Content, &cats, &isProcessed, &processedAt)
	if err != nil {
		return domain.Entry{}, err
	}
	e.Published = timeOrZero(published)
	e.ProcessedAt = timeOrZero(processedAt)
	e.IsProcessed = isProcessed != 0
	if cats != "" && cats != "[]" {
		if err := json.Unmarshal([]byte(cats), &e.Categories); err != nil {
			return domain.Entry{}, fmt.Errorf("store: decode categories: %w", err)
		}
	}
	return e, nil
}
