package store

import (
	"context"
	"fmt"
	"time"

	"github.com/scoutline/scoutd/engine/domain"
)

// AddFeedback appends a feedback row. The journal is append-only; there are
// no update or delete operations.
func (s *Store) AddFeedback(ctx context.Context, f domain.Feedback) (domain.Feedback, error) {
	if err := domain.ValidateFeedback(f); err != nil {
		return domain.Feedback{}, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (scout_id, item_url, action, comment, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.ScoutID, f.ItemURL, string(f.Action), f.Comment, now.Unix())
	if err != nil {
		return domain.Feedback{}, fmt.Errorf("store: add feedback: %w", err)
	}
	f.ID, _ = res.LastInsertId()
	f.CreatedAt = now
	return f, nil
}

// ListFeedback returns a scout's feedback, oldest first.
func (s *Store) ListFeedback(ctx context.Context, scoutID int64) ([]domain.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scout_id, item_url, action, comment, created_at
		FROM feedback WHERE scout_id=? ORDER BY id`, scoutID)
	if err != nil {
		return nil, fmt.Errorf("store: list feedback: %w", err)
	}
	defer rows.Close()

	var out []domain.Feedback
	for rows.Next() {
		var (
			f         domain.Feedback
			action    string
			createdAt int64
		)
		if err := rows.Scan(&f.ID, &f.ScoutID, &f.ItemURL, &action, &f.Comment, &createdAt); err != nil {
			return nil, err
		}
		f.Action = domain.FeedbackAction(action)
		f.CreatedAt = timeOrZero(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// AddCalibration appends a calibration row.
func (s *Store) AddCalibration(ctx context.Context, c domain.Calibration) (domain.Calibration, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO calibrations (scout_id, source_url, draft, feedback, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ScoutID, c.SourceURL, c.Draft, c.Feedback, now.Unix())
	if err != nil {
		return domain.Calibration{}, fmt.Errorf("store: add calibration: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	c.CreatedAt = now
	return c, nil
}

// ListCalibrations returns a scout's calibrations, oldest first.
func (s *Store) ListCalibrations(ctx context.Context, scoutID int64) ([]domain.Calibration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scout_id, source_url, draft, feedback, created_at
		FROM calibrations WHERE scout_id=? ORDER BY id`, scoutID)
	if err != nil {
		return nil, fmt.Errorf("store: list calibrations: %w", err)
	}
	defer rows.Close()

	var out []domain.Calibration
	for rows.Next() {
		var (
			c         domain.Calibration
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.ScoutID, &c.SourceURL, &c.Draft, &c.Feedback, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = timeOrZero(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCalibrations returns how many calibration rows a scout has collected.
func (s *Store) CountCalibrations(ctx context.Context, scoutID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM calibrations WHERE scout_id=?`, scoutID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count calibrations: %w", err)
	}
	return n, nil
}
