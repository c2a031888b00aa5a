package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scoutline/scoutd/engine/domain"
)

// CreateScout validates and inserts a scout, returning it with ID and
// CreatedAt set. A duplicate name fails with ErrExists; the first row
// survives untouched.
func (s *Store) CreateScout(ctx context.Context, sc domain.Scout) (domain.Scout, error) {
	if err := domain.ValidateScout(sc); err != nil {
		return domain.Scout{}, err
	}
	cfg, platforms, err := encodeScout(sc)
	if err != nil {
		return domain.Scout{}, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scouts (name, kind, config, intent, instruction, platforms,
			review_required, cron, last_fired, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.Name, string(sc.Kind), cfg, string(sc.Intent), sc.Instruction, platforms,
		boolToInt(sc.ReviewRequired), sc.Cron, unixOrZero(sc.LastFired), now.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Scout{}, fmt.Errorf("store: scout %q: %w", sc.Name, ErrExists)
		}
		return domain.Scout{}, fmt.Errorf("store: create scout: %w", err)
	}

	sc.ID, _ = res.LastInsertId()
	sc.CreatedAt = now
	return sc, nil
}

// GetScout fetches a scout by id.
func (s *Store) GetScout(ctx context.Context, id int64) (domain.Scout, error) {
	return s.scanScout(s.db.QueryRowContext(ctx, scoutSelect+" WHERE id = ?", id), fmt.Sprintf("scout %d", id))
}

// GetScoutByName fetches a scout by its unique name.
func (s *Store) GetScoutByName(ctx context.Context, name string) (domain.Scout, error) {
	return s.scanScout(s.db.QueryRowContext(ctx, scoutSelect+" WHERE name = ?", name), fmt.Sprintf("scout %q", name))
}

// ListScouts returns all scouts ordered by name.
func (s *Store) ListScouts(ctx context.Context) ([]domain.Scout, error) {
	return s.queryScouts(ctx, scoutSelect+" ORDER BY name")
}

// ListScheduledScouts returns scouts with a non-empty cron expression.
func (s *Store) ListScheduledScouts(ctx context.Context) ([]domain.Scout, error) {
	return s.queryScouts(ctx, scoutSelect+" WHERE cron != '' ORDER BY id")
}

// UpdateScout rewrites every user-editable field of the scout.
func (s *Store) UpdateScout(ctx context.Context, sc domain.Scout) error {
	if err := domain.ValidateScout(sc); err != nil {
		return err
	}
	cfg, platforms, err := encodeScout(sc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scouts SET name=?, kind=?, config=?, intent=?, instruction=?,
			platforms=?, review_required=?, cron=? WHERE id=?`,
		sc.Name, string(sc.Kind), cfg, string(sc.Intent), sc.Instruction,
		platforms, boolToInt(sc.ReviewRequired), sc.Cron, sc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: scout %q: %w", sc.Name, ErrExists)
		}
		return fmt.Errorf("store: update scout: %w", err)
	}
	return requireRow(res, fmt.Sprintf("scout %d", sc.ID))
}

// UpdateInstruction replaces only the instruction text (calibration rewrite).
func (s *Store) UpdateInstruction(ctx context.Context, id int64, instruction string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scouts SET instruction=? WHERE id=?`, instruction, id)
	if err != nil {
		return fmt.Errorf("store: update instruction: %w", err)
	}
	return requireRow(res, fmt.Sprintf("scout %d", id))
}

// TouchLastFired stamps the scout's last-fired time.
func (s *Store) TouchLastFired(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scouts SET last_fired=? WHERE id=?`, at.UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: touch last_fired: %w", err)
	}
	return requireRow(res, fmt.Sprintf("scout %d", id))
}

// DeleteScout removes the scout. Drafts, feedback, and calibrations cascade;
// owned feeds are detached, not deleted.
func (s *Store) DeleteScout(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE feeds SET scout_id=0 WHERE scout_id=?`, id); err != nil {
			return fmt.Errorf("store: detach feeds: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM scouts WHERE id=?`, id)
		if err != nil {
			return fmt.Errorf("store: delete scout: %w", err)
		}
		return requireRow(res, fmt.Sprintf("scout %d", id))
	})
}

const scoutSelect = `SELECT id, name, kind, config, intent, instruction,
	platforms, review_required, cron, last_fired, created_at FROM scouts`

func (s *Store) queryScouts(ctx context.Context, q string, args ...any) ([]domain.Scout, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list scouts: %w", err)
	}
	defer rows.Close()

	var out []domain.Scout
	for rows.Next() {
		sc, err := scanScoutRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanScout(row *sql.Row, what string) (domain.Scout, error) {
	sc, err := scanScoutRow(row)
	if err == sql.ErrNoRows {
		return domain.Scout{}, fmt.Errorf("store: %s: %w", what, domain.ErrNotFound)
	}
	return sc, err
}

func scanScoutRow(r rowScanner) (domain.Scout, error) {
	var (
		sc                  domain.Scout
		kind, intent        string
		cfgJSON, platsJSON  string
		reviewRequired      int
		lastFired, createdAt int64
	)
	err := r.Scan(&sc.ID, &sc.Name, &kind, &cfgJSON, &intent, &sc.Instruction,
		&platsJSON, &reviewRequired, &sc.Cron, &lastFired, &createdAt)
	if err != nil {
		return domain.Scout{}, err
	}
	sc.Kind = domain.Kind(kind)
	sc.Intent = domain.Intent(intent)
	sc.ReviewRequired = reviewRequired != 0
	sc.LastFired = timeOrZero(lastFired)
	sc.CreatedAt = timeOrZero(createdAt)
	if err := json.Unmarshal([]byte(cfgJSON), &sc.Config); err != nil {
		return domain.Scout{}, fmt.Errorf("store: decode config: %w", err)
	}
	if err := json.Unmarshal([]byte(platsJSON), &sc.Platforms); err != nil {
		return domain.Scout{}, fmt.Errorf("store: decode platforms: %w", err)
	}
	return sc, nil
}

func encodeScout(sc domain.Scout) (cfg, platforms string, err error) {
	c := sc.Config
	if c == nil {
		c = domain.Config{}
	}
	cb, err := json.Marshal(c)
	if err != nil {
		return "", "", fmt.Errorf("store: encode config: %w", err)
	}
	p := sc.Platforms
	if p == nil {
		p = []string{}
	}
	pb, err := json.Marshal(p)
	if err != nil {
		return "", "", fmt.Errorf("store: encode platforms: %w", err)
	}
	return string(cb), string(pb), nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s: %w", what, domain.ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
