package feedback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/scoutline/scoutd/engine/agent"
	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/store"
	"github.com/scoutline/scoutd/pkg/resilience"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "scoutd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// scriptedProvider replays fixed completions as the default provider.
type scriptedProvider struct {
	mu    sync.Mutex
	texts []string
	err   error
	reqs  []agent.Request
}

func (p *scriptedProvider) Name() string { return "gemini" }

func (p *scriptedProvider) Complete(_ context.Context, req agent.Request) (agent.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if p.err != nil {
		return agent.Response{}, p.err
	}
	if len(p.texts) == 0 {
		return agent.Response{}, fmt.Errorf("scripted provider: no turns left")
	}
	text := p.texts[0]
	p.texts = p.texts[1:]
	return agent.Response{Text: text}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

func (p *scriptedProvider) lastPrompt(t *testing.T) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reqs) == 0 {
		t.Fatal("provider was never called")
	}
	msgs := p.reqs[len(p.reqs)-1].Messages
	return msgs[len(msgs)-1].Text
}

func newTestService(t *testing.T, provider agent.Provider) (*Service, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	opts := agent.DefaultOptions()
	opts.Limiter = resilience.LimiterOpts{Rate: 1e6, Burst: 1000}
	rt := agent.New(testLogger(), opts)
	if provider != nil {
		rt.Register(provider)
	}
	return New(st, rt, testLogger()), st
}

func mkScout(t *testing.T, st *store.Store, instruction, query string) domain.Scout {
	t.Helper()
	sc, err := st.CreateScout(context.Background(), domain.Scout{
		Name:        "go-news",
		Kind:        domain.KindSearch,
		Intent:      domain.IntentScouting,
		Instruction: instruction,
		Config:      domain.Config{"query": query},
	})
	if err != nil {
		t.Fatalf("create scout: %v", err)
	}
	return sc
}

func seedCalibrations(t *testing.T, st *store.Store, scoutID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := st.AddCalibration(context.Background(), domain.Calibration{
			ScoutID:  scoutID,
			Draft:    fmt.Sprintf("draft %d", i),
			Feedback: "too dry",
		})
		if err != nil {
			t.Fatalf("seed calibration: %v", err)
		}
	}
}

func TestRecordJournals(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t, nil)
	sc := mkScout(t, st, "", "golang")

	if err := svc.Record(ctx, sc.ID, "https://example.com/a", domain.ActionApproved, ""); err != nil {
		t.Fatalf("record approved: %v", err)
	}
	if err := svc.Record(ctx, sc.ID, "https://example.com/b", domain.ActionRejected, "clickbait"); err != nil {
		t.Fatalf("record rejected: %v", err)
	}

	fb, err := st.ListFeedback(ctx, sc.ID)
	if err != nil {
		t.Fatalf("list feedback: %v", err)
	}
	if len(fb) != 2 {
		t.Fatalf("journal rows = %d, want 2", len(fb))
	}
	if fb[1].Action != domain.ActionRejected || fb[1].Comment != "clickbait" {
		t.Errorf("second row %+v", fb[1])
	}
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	svc, st := newTestService(t, nil)
	sc := mkScout(t, st, "", "golang")

	if err := svc.Record(context.Background(), sc.ID, "", "shrugged", ""); err == nil {
		t.Fatal("unknown action accepted")
	}
}

func TestCalibrateRewritesInstruction(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{texts: []string{
		"\"Summarize for engineers. Lead with the benchmark numbers.\"\n",
	}}
	svc, st := newTestService(t, provider)
	sc := mkScout(t, st, "Summarize for engineers.", "golang")

	got, changed, err := svc.Calibrate(ctx, sc, "https://example.com/post", "A fine draft.", "lead with the numbers")
	if err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if !changed {
		t.Fatal("instruction not changed")
	}
	if got != "Summarize for engineers. Lead with the benchmark numbers." {
		t.Errorf("instruction %q, want the rewrite without wrapping quotes", got)
	}

	stored, err := st.GetScout(ctx, sc.ID)
	if err != nil {
		t.Fatalf("get scout: %v", err)
	}
	if stored.Instruction != got {
		t.Errorf("persisted instruction %q, want %q", stored.Instruction, got)
	}

	cals, err := st.ListCalibrations(ctx, sc.ID)
	if err != nil {
		t.Fatalf("list calibrations: %v", err)
	}
	if len(cals) != 1 {
		t.Fatalf("calibration rows = %d, want 1", len(cals))
	}
	if cals[0].SourceURL != "https://example.com/post" ||
		cals[0].Draft != "A fine draft." || cals[0].Feedback != "lead with the numbers" {
		t.Errorf("calibration row %+v", cals[0])
	}

	prompt := provider.lastPrompt(t)
	if !strings.Contains(prompt, "Summarize for engineers.") {
		t.Error("rewrite prompt misses the current instruction")
	}
	if !strings.Contains(prompt, "lead with the numbers") {
		t.Error("rewrite prompt misses the critique")
	}
}

func TestCalibrateFallsBackWhenInstructionEmpty(t *testing.T) {
	provider := &scriptedProvider{texts: []string{"Be more direct."}}
	svc, st := newTestService(t, provider)
	sc := mkScout(t, st, "", "golang")

	if _, _, err := svc.Calibrate(context.Background(), sc, "", "draft", "be direct"); err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	if prompt := provider.lastPrompt(t); !strings.Contains(prompt, fallbackInstruction) {
		t.Errorf("rewrite prompt should show the fallback instruction, got %q", prompt)
	}
}

func TestCalibrateKeepsInstructionOnModelFailure(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{err: errors.New("model down")}
	svc, st := newTestService(t, provider)
	sc := mkScout(t, st, "Summarize for engineers.", "golang")

	got, changed, err := svc.Calibrate(ctx, sc, "", "draft", "sharper")
	if err != nil {
		t.Fatalf("calibrate should swallow rewrite failures: %v", err)
	}
	if changed || got != "Summarize for engineers." {
		t.Errorf("got (%q, %v), want the old instruction unchanged", got, changed)
	}

	stored, _ := st.GetScout(ctx, sc.ID)
	if stored.Instruction != "Summarize for engineers." {
		t.Errorf("persisted instruction %q changed despite failure", stored.Instruction)
	}

	// The critique is still journalled for later optimization.
	if n, _ := st.CountCalibrations(ctx, sc.ID); n != 1 {
		t.Errorf("calibration rows = %d, want 1", n)
	}
}

func TestCalibrateNeedsCritique(t *testing.T) {
	svc, st := newTestService(t, nil)
	sc := mkScout(t, st, "", "golang")

	if _, _, err := svc.Calibrate(context.Background(), sc, "", "draft", "  "); err == nil {
		t.Fatal("empty critique accepted")
	}
	if n, _ := st.CountCalibrations(context.Background(), sc.ID); n != 0 {
		t.Errorf("calibration rows = %d, want 0", n)
	}
}

func TestOptimizeGatedOnCalibrations(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{texts: []string{"never used"}}
	svc, st := newTestService(t, provider)
	sc := mkScout(t, st, "", "golang news")
	seedCalibrations(t, st, sc.ID, CalibrationFloor-1)

	query, changed, err := svc.Optimize(ctx, sc)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if changed || query != "golang news" {
		t.Errorf("got (%q, %v), want the query untouched below the floor", query, changed)
	}
	if provider.calls() != 0 {
		t.Errorf("provider called %d times below the floor", provider.calls())
	}
}

func TestOptimizeRewritesQuery(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{texts: []string{"golang concurrency -tutorial\n"}}
	svc, st := newTestService(t, provider)
	sc := mkScout(t, st, "", "golang news")
	seedCalibrations(t, st, sc.ID, CalibrationFloor)

	for _, f := range []domain.Feedback{
		{ScoutID: sc.ID, ItemURL: "https://example.com/good", Action: domain.ActionApproved},
		{ScoutID: sc.ID, ItemURL: "https://example.com/spam", Action: domain.ActionRejected, Comment: "beginner tutorial"},
		{ScoutID: sc.ID, ItemURL: "https://example.com/meh", Action: domain.ActionRejected, Comment: "old news"},
	} {
		if _, err := st.AddFeedback(ctx, f); err != nil {
			t.Fatalf("seed feedback: %v", err)
		}
	}

	query, changed, err := svc.Optimize(ctx, sc)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if !changed || query != "golang concurrency -tutorial" {
		t.Errorf("got (%q, %v), want the proposed query", query, changed)
	}

	stored, err := st.GetScout(ctx, sc.ID)
	if err != nil {
		t.Fatalf("get scout: %v", err)
	}
	if stored.Config.Str("query", "") != "golang concurrency -tutorial" {
		t.Errorf("persisted query %q", stored.Config.Str("query", ""))
	}

	prompt := provider.lastPrompt(t)
	for _, want := range []string{
		`Current Query: "golang news"`,
		"Approved Items (Good): 1 items",
		"Rejected Items (Bad): 2 items",
		"https://example.com/spam (Reason: beginner tutorial)",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("optimizer prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestOptimizeWithoutFeedbackKeepsQuery(t *testing.T) {
	provider := &scriptedProvider{texts: []string{"never used"}}
	svc, st := newTestService(t, provider)
	sc := mkScout(t, st, "", "golang news")
	seedCalibrations(t, st, sc.ID, CalibrationFloor)

	query, changed, err := svc.Optimize(context.Background(), sc)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if changed || query != "golang news" {
		t.Errorf("got (%q, %v), want the query untouched without feedback", query, changed)
	}
	if provider.calls() != 0 {
		t.Errorf("provider called %d times without feedback", provider.calls())
	}
}

func TestOptimizeModelFailureKeepsQuery(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{err: errors.New("model down")}
	svc, st := newTestService(t, provider)
	sc := mkScout(t, st, "", "golang news")
	seedCalibrations(t, st, sc.ID, CalibrationFloor)
	if _, err := st.AddFeedback(ctx, domain.Feedback{
		ScoutID: sc.ID, ItemURL: "https://example.com/x", Action: domain.ActionRejected, Comment: "noise",
	}); err != nil {
		t.Fatalf("seed feedback: %v", err)
	}

	if _, _, err := svc.Optimize(ctx, sc); err == nil {
		t.Fatal("expected error from failed optimization")
	}
	stored, _ := st.GetScout(ctx, sc.ID)
	if stored.Config.Str("query", "") != "golang news" {
		t.Errorf("persisted query %q changed despite failure", stored.Config.Str("query", ""))
	}
}

func TestStripQuotes(t *testing.T) {
	cases := []struct{ in, want string }{
		{`"quoted"`, "quoted"},
		{"plain", "plain"},
		{`"`, `"`},
		{`""`, ""},
		{`"half`, `"half`},
		{`say "this" often`, `say "this" often`},
	}
	for _, c := range cases {
		if got := stripQuotes(c.in); got != c.want {
			t.Errorf("stripQuotes(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
