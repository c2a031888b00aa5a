// Package runlog builds the engine's loggers: a daemon logger that tees JSON
// lines to stdout and a size-rotated application log, and a per-run scout
// logger that copies everything the run emits into its own timestamped file
// for later inspection.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation bounds for the application log.
const (
	appLogName    = "scoutd.log"
	appLogMaxMB   = 20
	appLogKeep    = 5
	appLogMaxDays = 28
)

// App returns the daemon logger: JSON at level to stdout and to
// <dir>/scoutd.log, rotated by size. dir is created if absent.
func App(dir string, level slog.Level) (*slog.Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runlog: create log dir: %w", err)
	}
	rotated := &lumberjack.Logger{
		Filename:   filepath.Join(dir, appLogName),
		MaxSize:    appLogMaxMB,
		MaxBackups: appLogKeep,
		MaxAge:     appLogMaxDays,
	}
	w := io.MultiWriter(os.Stdout, rotated)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// Run is one scout run's dedicated log file. Records written through Logger
// land both in the run file and in the logger the run was opened with.
type Run struct {
	path string
	file *os.File
	log  *slog.Logger
}

// Open creates <dir>/scouts/<scout>/<YYYYMMDD_HHMMSS>.log and returns a Run
// whose logger fans out to that file and to base. The scout name is reduced
// to a filesystem-safe form; two runs landing in the same second share the
// file in append order.
func Open(dir, scout string, base *slog.Logger) (*Run, error) {
	scoutDir := filepath.Join(dir, "scouts", safeName(scout))
	if err := os.MkdirAll(scoutDir, 0o755); err != nil {
		return nil, fmt.Errorf("runlog: create run dir: %w", err)
	}

	path := filepath.Join(scoutDir, time.Now().UTC().Format("20060102_150405")+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runlog: open %s: %w", path, err)
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := slog.Handler(fileHandler)
	if base != nil {
		handler = tee{fileHandler, base.Handler()}
	}
	return &Run{path: path, file: file, log: slog.New(handler)}, nil
}

// Logger returns the fan-out logger for the run.
func (r *Run) Logger() *slog.Logger { return r.log }

// Path returns the run file's location.
func (r *Run) Path() string { return r.path }

// Close flushes and closes the run file. The logger must not be used after.
func (r *Run) Close() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("runlog: close %s: %w", r.path, err)
	}
	return nil
}

// safeName reduces a scout name to [A-Za-z0-9_-], mapping spaces to
// underscores and dropping everything else.
func safeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "scout"
	}
	return b.String()
}

// tee forwards each record to every handler that accepts its level.
type tee []slog.Handler

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, rec slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t tee) WithGroup(name string) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
