package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scoutline/scoutd/engine/domain"
)

// CreateDraft inserts a draft in pending_review.
func (s *Store) CreateDraft(ctx context.Context, d domain.Draft) (domain.Draft, error) {
	if d.Status == "" {
		d.Status = domain.StatusPendingReview
	}
	if d.Platform == "" {
		d.Platform = domain.PlatformNotifyOnly
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (scout_id, content, platform, status, external_id, created_at, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ScoutID, d.Content, d.Platform, string(d.Status), d.ExternalID,
		now.Unix(), unixOrZero(d.PostedAt))
	if err != nil {
		return domain.Draft{}, fmt.Errorf("store: create draft: %w", err)
	}
	d.ID, _ = res.LastInsertId()
	d.CreatedAt = now
	return d, nil
}

// GetDraft fetches a draft by id.
func (s *Store) GetDraft(ctx context.Context, id int64) (domain.Draft, error) {
	row := s.db.QueryRowContext(ctx, draftSelect+" WHERE id = ?", id)
	d, err := scanDraftRow(row)
	if err == sql.ErrNoRows {
		return domain.Draft{}, fmt.Errorf("store: draft %d: %w", id, domain.ErrNotFound)
	}
	return d, err
}

// ListDraftsByStatus returns drafts in the given status, oldest first
// (primary key order, which is the order the review bus processes them in).
func (s *Store) ListDraftsByStatus(ctx context.Context, status domain.DraftStatus) ([]domain.Draft, error) {
	rows, err := s.db.QueryContext(ctx, draftSelect+" WHERE status = ? ORDER BY id", string(status))
	if err != nil {
		return nil, fmt.Errorf("store: list drafts: %w", err)
	}
	defer rows.Close()

	var out []domain.Draft
	for rows.Next() {
		d, err := scanDraftRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountDraftsByStatus returns the number of drafts in the given status.
func (s *Store) CountDraftsByStatus(ctx context.Context, status domain.DraftStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM drafts WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count drafts: %w", err)
	}
	return n, nil
}

// MarkReviewing flips a draft from pending_review to reviewing. The status
// guard makes the flip atomic and idempotent: it returns false when the
// draft was not in pending_review, so a draft is surfaced at most once.
func (s *Store) MarkReviewing(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status=? WHERE id=? AND status=?`,
		string(domain.StatusReviewing), id, string(domain.StatusPendingReview))
	if err != nil {
		return false, fmt.Errorf("store: mark reviewing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkPosted transitions a reviewing draft to posted with its publish
// metadata. The status guard keeps terminal transitions at-most-once.
func (s *Store) MarkPosted(ctx context.Context, id int64, externalID string, postedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status=?, external_id=?, posted_at=? WHERE id=? AND status=?`,
		string(domain.StatusPosted), externalID, postedAt.UTC().Unix(),
		id, string(domain.StatusReviewing))
	if err != nil {
		return fmt.Errorf("store: mark posted: %w", err)
	}
	return requireRow(res, fmt.Sprintf("reviewing draft %d", id))
}

// MarkRejected transitions a reviewing draft to rejected.
func (s *Store) MarkRejected(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status=? WHERE id=? AND status=?`,
		string(domain.StatusRejected), id, string(domain.StatusReviewing))
	if err != nil {
		return fmt.Errorf("store: mark rejected: %w", err)
	}
	return requireRow(res, fmt.Sprintf("reviewing draft %d", id))
}

// UpdateDraftContent replaces the content of a draft under refinement.
func (s *Store) UpdateDraftContent(ctx context.Context, id int64, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET content=? WHERE id=?`, content, id)
	if err != nil {
		return fmt.Errorf("store: update draft content: %w", err)
	}
	return requireRow(res, fmt.Sprintf("draft %d", id))
}

const draftSelect = `SELECT id, scout_id, content, platform, status,
	external_id, created_at, posted_at FROM drafts`

func scanDraftRow(r rowScanner) (domain.Draft, error) {
	var (
		d                   domain.Draft
		status              string
		createdAt, postedAt int64
	)
	err := r.Scan(&d.ID, &d.ScoutID, &d.Content, &d.Platform, &status,
		&d.ExternalID, &createdAt, &postedAt)
	if err != nil {
		return domain.Draft{}, err
	}
	d.Status = domain.DraftStatus(status)
	d.CreatedAt = timeOrZero(createdAt)
	d.PostedAt = timeOrZero(postedAt)
	return d, nil
}
