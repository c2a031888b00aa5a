// Package schedule fires scouts on their cron cadence. One cron entry per
// scout with a non-empty expression; a fired job re-reads the scout, takes
// its run lock, and hands it to the executor. A PID lock file makes the
// scheduler a singleton per state directory.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/scout"
	"github.com/scoutline/scoutd/engine/store"
)

// drainTimeout bounds how long Stop waits for in-flight runs before
// cancelling their context.
const drainTimeout = 30 * time.Second

// parser accepts the engine's cron grammar: five fields, minute through
// day-of-week, 0 = Sunday. No seconds field, no descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron checks expr against the five-field cron grammar. The empty
// expression is valid and means manual runs only.
func ValidateCron(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("schedule: invalid cron %q: %w", expr, err)
	}
	return nil
}

// Runner executes one scout. The executor implements it.
type Runner interface {
	Run(ctx context.Context, sc domain.Scout, opts scout.RunOpts) (scout.RunResult, error)
}

// Scheduler owns the cron table. Jobs run on the cron goroutine pool; the
// keyed locks keep at most one run per scout in flight, so an overdue run
// is skipped rather than stacked.
type Scheduler struct {
	store  *store.Store
	runner Runner
	log    *slog.Logger

	// Poke, when set, nudges the review bus after a run parks a draft so
	// the notification goes out before the next poll tick.
	Poke func()

	cron  *cron.Cron
	locks *Locks

	mu      sync.Mutex
	entries map[int64]cron.EntryID
	names   map[int64]string

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a scheduler over st and runner. Call Start to load the cron
// table and begin firing.
func New(st *store.Store, runner Runner, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	clog := cronLogger{log: log}
	return &Scheduler{
		store:  st,
		runner: runner,
		log:    log,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog)),
		),
		locks:   NewLocks(),
		entries: make(map[int64]cron.EntryID),
		names:   make(map[int64]string),
	}
}

// Start loads every scheduled scout into the cron table and begins firing.
// Jobs derive from ctx, so cancelling it aborts runs at their next step
// boundary.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started", "scouts", len(s.entries))
	return nil
}

// Reload replaces the cron table with the scheduled scouts currently in the
// store. Call it after scout edits so cadence changes take effect without a
// restart.
func (s *Scheduler) Reload(ctx context.Context) error {
	scouts, err := s.store.ListScheduledScouts(ctx)
	if err != nil {
		return fmt.Errorf("schedule: load scouts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
		delete(s.names, id)
	}
	for _, sc := range scouts {
		id := sc.ID
		entry, err := s.cron.AddFunc(sc.Cron, func() { s.fire(id) })
		if err != nil {
			s.log.Error("skipping scout with invalid cron", "scout", sc.Name, "cron", sc.Cron, "error", err)
			continue
		}
		s.entries[id] = entry
		s.names[id] = sc.Name
		s.log.Info("scout scheduled", "scout", sc.Name, "cron", sc.Cron)
	}
	return nil
}

// Stop halts firing and waits for in-flight runs to drain, bounded by
// drainTimeout; past that the run context is cancelled.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(drainTimeout):
		s.log.Warn("runs still in flight after drain timeout, cancelling")
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.log.Info("scheduler stopped")
}

// Firing describes one scheduled scout and when it fires next.
type Firing struct {
	ScoutID int64     `json:"scout_id"`
	Scout   string    `json:"scout"`
	Next    time.Time `json:"next"`
}

// Firings snapshots the cron table for the status surface, ordered by next
// fire time.
func (s *Scheduler) Firings() []Firing {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Firing, 0, len(s.entries))
	for id, entry := range s.entries {
		out = append(out, Firing{
			ScoutID: id,
			Scout:   s.names[id],
			Next:    s.cron.Entry(entry).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// fire runs one scheduled scout. The scout is re-read so edits between
// fires apply; a scout deleted since scheduling is dropped from the table.
func (s *Scheduler) fire(id int64) {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}

	sc, err := s.store.GetScout(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("scheduled scout no longer exists, unscheduling", "scout_id", id)
		s.remove(id)
		return
	}
	if err != nil {
		s.log.Error("could not load scheduled scout", "scout_id", id, "error", err)
		return
	}
	if sc.Cron == "" {
		s.log.Info("scout no longer scheduled, unscheduling", "scout", sc.Name)
		s.remove(id)
		return
	}

	release, ok := s.locks.TryLock(id)
	if !ok {
		s.log.Warn("previous run still in progress, skipping this fire", "scout", sc.Name)
		return
	}
	defer release()

	s.log.Info("cron fired", "scout", sc.Name, "cron", sc.Cron)
	res, err := s.runner.Run(ctx, sc, scout.RunOpts{})
	if err != nil {
		s.log.Error("scheduled run failed", "scout", sc.Name, "error", err)
		return
	}
	if res.Draft != nil && s.Poke != nil {
		s.Poke()
	}
}

func (s *Scheduler) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
		delete(s.names, id)
	}
}

// cronLogger adapts slog to the cron logger interface. Routine messages go
// to debug; only panics and bad entries surface as errors.
type cronLogger struct {
	log *slog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.log.Debug(msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Error(msg, append(kv, "error", err)...)
}
