// Package scout runs scouts end to end: it binds the scout's tools, drives
// the agent runtime toward the synthesized goal, drops content the engine has
// seen before, retries with perturbed parameters when everything was a
// duplicate, and parks the result as a draft for human review.
package scout

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/scoutline/scoutd/engine/agent"
	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/memory"
	"github.com/scoutline/scoutd/engine/store"
	"github.com/scoutline/scoutd/pkg/fn"
	"github.com/scoutline/scoutd/pkg/metrics"
	"github.com/scoutline/scoutd/pkg/runlog"
)

const tracerName = "engine/scout"

const (
	// DefaultLimit is the item cap when a run does not specify one.
	DefaultLimit = 10

	// metaChildLimit caps what a child scout returns into a meta run.
	metaChildLimit = 5

	// defaultRetries is the retry budget when max_retries is not configured.
	defaultRetries = 2
)

const (
	selectGoalDefault = "Select the best content for social media audience engagement."
	draftGoalDefault  = "Summarize this content and highlight key takeaways for a social media audience."
)

const selectCriteria = `Analyze each option based on:
1. Relevance to the scout's goal
2. Engagement potential (interesting, timely, shareable)
3. Content quality and credibility

Respond with ONLY the number of the best option (e.g., "1" or "2" or "3").`

const postPrompt = `Content Title: %s
Content URL: %s
Content Summary: %s

Generate a social media post based on the above.

CRITICAL OUTPUT INSTRUCTIONS:
1. Output ONLY the raw text of the social media post.
2. Do NOT include any conversational filler like "Here is the post" or "Sure!".
3. Do NOT use markdown code blocks (no ` + "```" + `).
4. Do NOT include the title or URL again unless it's naturally part of the post.
5. Start directly with the first word of the post.`

var numberRe = regexp.MustCompile(`\d+`)

// Executor owns one scout run at a time per caller. It is safe for
// concurrent use across scouts; per-scout serialization is the scheduler's
// job.
type Executor struct {
	store    *store.Store
	memory   *memory.Index
	runtime  *agent.Runtime
	tools    Toolbox
	metrics  *metrics.Registry
	logDir   string
	imageDir string
	log      *slog.Logger
}

// Options carries the optional executor knobs.
type Options struct {
	// LogDir is the root for per-run log files. Empty disables them.
	LogDir string
	// ImageDir is where generated images are written.
	ImageDir string
	// Metrics receives run counters. Nil gets a private registry.
	Metrics *metrics.Registry
}

func New(st *store.Store, mem *memory.Index, rt *agent.Runtime, tb Toolbox, opts Options, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	return &Executor{
		store:    st,
		memory:   mem,
		runtime:  rt,
		tools:    tb,
		metrics:  reg,
		logDir:   opts.LogDir,
		imageDir: opts.ImageDir,
		log:      log,
	}
}

// RunOpts adjusts a single run without touching the persisted scout.
type RunOpts struct {
	// Limit caps the items per run; DefaultLimit when zero.
	Limit int
	// Query overrides the configured query and steers the goal subject.
	Query string
	// Config is a shallow overlay whose keys win over the persisted config.
	Config domain.Config
}

// RunResult reports what one run produced.
type RunResult struct {
	Items    []domain.Item
	Draft    *domain.Draft
	Attempts int
}

// Run executes the full pipeline for one scout: fetch and dedup with
// retries, then a report draft (scouting intent) or a generated post
// (generation intent). A run that ends with zero new items is a normal
// outcome, not an error.
func (e *Executor) Run(ctx context.Context, sc domain.Scout, opts RunOpts) (RunResult, error) {
	log, done := e.openRunLog(sc.Name)
	defer done()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scout.run", trace.WithAttributes(
		attribute.String("scout", sc.Name),
		attribute.String("kind", string(sc.Kind)),
		attribute.String("intent", string(sc.Intent)),
	))
	defer span.End()

	started := time.Now()
	e.metrics.Counter(metrics.WithLabels("scoutd_runs_total", "scout", sc.Name),
		"Scout runs started.").Inc()

	res, err := e.fetch(ctx, sc, opts, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		e.metrics.Counter("scoutd_run_failures_total", "Scout runs that ended in an error.").Inc()
		return res, err
	}
	span.SetAttributes(attribute.Int("items", len(res.Items)), attribute.Int("attempts", res.Attempts))

	if len(res.Items) == 0 {
		log.Info("run finished without new items", "scout", sc.Name, "attempts", res.Attempts)
		e.metrics.Histogram("scoutd_run_seconds", "Scout run duration.", nil).Since(started)
		return res, nil
	}

	var draft domain.Draft
	if sc.Intent == domain.IntentGeneration {
		draft, err = e.generateDraft(ctx, sc, effectiveConfig(sc, opts).Sub("generation_config"), res.Items, log)
	} else {
		draft, err = e.reportDraft(ctx, sc, res.Items, log)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "draft failed")
		e.metrics.Counter("scoutd_run_failures_total", "Scout runs that ended in an error.").Inc()
		return res, err
	}
	res.Draft = &draft

	e.metrics.Counter("scoutd_drafts_total", "Drafts parked for review.").Inc()
	e.metrics.Histogram("scoutd_run_seconds", "Scout run duration.", nil).Since(started)
	log.Info("run finished", "scout", sc.Name,
		"items", len(res.Items), "draft", draft.ID, "attempts", res.Attempts)
	return res, nil
}

// effectiveConfig merges the run overlay over the persisted config. An
// overlay query also replaces the configured one so the goal follows it.
func effectiveConfig(sc domain.Scout, opts RunOpts) domain.Config {
	cfg := sc.Config.Merge(opts.Config)
	if opts.Query != "" {
		cfg["query"] = opts.Query
	}
	return cfg
}

// fetch runs the agent loop and dedup and updates last_fired. It returns
// the surviving items; meta scouts reach it directly through their child
// tools.
func (e *Executor) fetch(ctx context.Context, sc domain.Scout, opts RunOpts, log *slog.Logger) (RunResult, error) {
	cfg := effectiveConfig(sc, opts)
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	tools, err := e.bind(ctx, sc, cfg, log)
	if err != nil {
		return RunResult{}, fmt.Errorf("scout: bind tools for %q: %w", sc.Name, err)
	}

	kept, attempts, lastErr := e.attempts(ctx, sc, cfg, tools, limit, log)
	res := RunResult{Attempts: attempts}

	if ctx.Err() == nil {
		if terr := e.store.TouchLastFired(ctx, sc.ID, time.Now()); terr != nil {
			log.Warn("could not update last_fired", "scout", sc.Name, "error", terr)
		}
	}
	if lastErr != nil && len(kept) == 0 {
		return res, lastErr
	}

	e.metrics.Counter("scoutd_items_kept_total", "Items that survived dedup.").Add(int64(len(kept)))
	res.Items = kept
	return res, nil
}

// attempts drives the agent until an attempt yields new content, the retry
// budget is spent, or the kind cannot be perturbed further. Attempt errors
// are retried like duplicate-only attempts, except schema failures, which
// never improve on retry.
func (e *Executor) attempts(ctx context.Context, sc domain.Scout, cfg domain.Config, tools []agent.Tool, limit int, log *slog.Logger) ([]domain.Item, int, error) {
	maxRetries := cfg.Int("max_retries", defaultRetries)
	gen := cfg.Sub("generation_config")

	var lastErr error
	attempts := 0
	for attempt := 0; ; attempt++ {
		attempts = attempt + 1
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		effective, _ := Perturb(sc.Kind, cfg, attempt)
		goal := Goal(sc.Kind, effective, attempt)
		if sc.Instruction != "" {
			goal += " " + sc.Instruction
		}
		system := agent.Prompt{
			Guardrails: agent.Guardrails,
			Tools:      agent.ToolCatalogue(cfg.Strings("tools")),
			Goal:       goal,
			Limit:      limit,
		}.Build()
		if cfg.Bool("image_generation", false) && e.tools.Images != nil {
			system += "\n\n" + agent.ImageInstructions
		}

		log.Info("executing agent", "scout", sc.Name, "kind", sc.Kind, "attempt", attempt, "goal", goal)
		items, err := e.runtime.GenerateItems(ctx, agent.Invocation{
			Scout:       sc.Name,
			Kind:        string(sc.Kind),
			Provider:    gen.Str("provider", ""),
			Model:       gen.Str("model_id", ""),
			Temperature: gen.Float("temperature", 0),
			System:      system,
			Tools:       tools,
		})
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, attempts, ctx.Err()

		case domain.IsStructuredOutputFailure(err):
			log.Error("model output did not match the item schema", "scout", sc.Name, "error", err)
			return nil, attempts, err

		case err != nil:
			lastErr = err
			log.Error("attempt failed", "scout", sc.Name, "attempt", attempt, "error", err)

		default:
			lastErr = nil
			kept, derr := e.dedup(ctx, fn.Truncate(items, limit), log)
			switch {
			case derr != nil && ctx.Err() != nil:
				return nil, attempts, ctx.Err()
			case derr != nil:
				lastErr = derr
				log.Error("dedup failed", "scout", sc.Name, "attempt", attempt, "error", derr)
			case len(kept) > 0:
				if attempt > 0 {
					log.Info("retry produced new content", "scout", sc.Name, "attempt", attempt, "items", len(kept))
				}
				return kept, attempts, nil
			case len(items) > 0:
				log.Info("all items were duplicates", "scout", sc.Name, "attempt", attempt, "fetched", len(items))
			default:
				log.Info("agent returned no items", "scout", sc.Name, "attempt", attempt)
			}
		}

		if attempt >= maxRetries {
			log.Warn("no new content after final attempt", "scout", sc.Name, "attempts", attempts)
			return nil, attempts, lastErr
		}
		if _, ok := Perturb(sc.Kind, cfg, attempt+1); !ok {
			log.Info("kind does not support perturbed retries, stopping", "scout", sc.Name, "kind", sc.Kind)
			return nil, attempts, lastErr
		}
		log.Info("retrying with adjusted parameters", "scout", sc.Name, "next_attempt", attempt+1, "max_retries", maxRetries)
	}
}

// dedup drops items whose title+summary the engine has already indexed and
// registers the survivors so later runs skip them.
func (e *Executor) dedup(ctx context.Context, items []domain.Item, log *slog.Logger) ([]domain.Item, error) {
	kept := make([]domain.Item, 0, len(items))
	for _, it := range items {
		dup, err := e.memory.IsSimilar(ctx, it.DedupText(), memory.RetrievedThreshold)
		if err != nil {
			return nil, err
		}
		if dup {
			log.Info("skipping duplicate content", "title", it.Title)
			e.metrics.Counter("scoutd_duplicates_total", "Items dropped as already seen.").Inc()
			continue
		}
		if err := e.memory.Add(ctx, it.DedupText(), domain.ProvenanceRetrieved); err != nil {
			return nil, err
		}
		kept = append(kept, it)
	}
	return kept, nil
}

// generateDraft turns the best kept item into a platform-shaped post and
// parks it as a pending draft. The post text is indexed as generated content
// so near-identical future drafts get caught.
func (e *Executor) generateDraft(ctx context.Context, sc domain.Scout, gen domain.Config, items []domain.Item, log *slog.Logger) (domain.Draft, error) {
	best := items[0]
	if len(items) > 1 {
		best = items[e.selectBest(ctx, sc, gen, items, log)]
	}
	log.Info("drafting post", "scout", sc.Name, "title", best.Title)

	post, err := e.writePost(ctx, sc, gen, best)
	if err != nil {
		return domain.Draft{}, err
	}
	if err := e.memory.Add(ctx, post, domain.ProvenanceGenerated); err != nil {
		return domain.Draft{}, err
	}

	draft, err := e.store.CreateDraft(ctx, domain.Draft{
		ScoutID:  sc.ID,
		Content:  post,
		Platform: sc.TargetPlatform(),
	})
	if err != nil {
		return domain.Draft{}, err
	}
	log.Info("draft created", "scout", sc.Name, "draft", draft.ID, "platform", draft.Platform)
	return draft, nil
}

// selectBest asks the model to pick among the kept items and returns the
// chosen index. Any failure falls back to the first item.
func (e *Executor) selectBest(ctx context.Context, sc domain.Scout, gen domain.Config, items []domain.Item, log *slog.Logger) int {
	goal := sc.Instruction
	if goal == "" {
		goal = selectGoalDefault
	}

	options := make([]string, 0, len(items))
	for i, it := range items {
		summary := it.Summary
		if summary == "" {
			summary = "N/A"
		}
		options = append(options, fmt.Sprintf("Option %d:\nTitle: %s\nURL: %s\nSummary: %s", i+1, it.Title, it.URL, summary))
	}
	prompt := "Here are the available content options:\n\n" +
		strings.Join(options, "\n\n") + "\n\n" + selectCriteria

	resp, err := e.runtime.Generate(ctx, agent.Invocation{
		Scout:       sc.Name,
		Kind:        string(sc.Kind),
		Provider:    gen.Str("provider", ""),
		Model:       gen.Str("model_id", ""),
		Temperature: gen.Float("temperature", 0),
		System:      agent.Prompt{Guardrails: agent.Guardrails, Goal: goal}.Build(),
		Prompt:      prompt,
	})
	if err != nil {
		log.Warn("best-option selection failed, using the first item", "scout", sc.Name, "error", err)
		return 0
	}
	if m := numberRe.FindString(resp); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n >= 1 && n <= len(items) {
			return n - 1
		}
	}
	log.Warn("could not parse option selection, using the first item", "scout", sc.Name, "response", resp)
	return 0
}

// writePost generates the raw post text for one item, shaped by the target
// platform's rules.
func (e *Executor) writePost(ctx context.Context, sc domain.Scout, gen domain.Config, item domain.Item) (string, error) {
	goal := sc.Instruction
	if goal == "" {
		goal = draftGoalDefault
	}
	summary := item.Summary
	if summary == "" {
		summary = "N/A"
	}

	post, err := e.runtime.Generate(ctx, agent.Invocation{
		Scout:       sc.Name,
		Kind:        string(sc.Kind),
		Provider:    gen.Str("provider", ""),
		Model:       gen.Str("model_id", ""),
		Temperature: gen.Float("temperature", 0),
		System: agent.Prompt{
			Guardrails: agent.Guardrails,
			Platform:   agent.PlatformRules(sc.TargetPlatform()),
			Goal:       goal,
		}.Build(),
		Prompt: fmt.Sprintf(postPrompt, item.Title, item.URL, summary),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(post), nil
}

// reportDraft parks the markdown digest of the kept items as a notify-only
// draft.
func (e *Executor) reportDraft(ctx context.Context, sc domain.Scout, items []domain.Item, log *slog.Logger) (domain.Draft, error) {
	draft, err := e.store.CreateDraft(ctx, domain.Draft{
		ScoutID:  sc.ID,
		Content:  FormatReport(sc.Name, items),
		Platform: domain.PlatformNotifyOnly,
	})
	if err != nil {
		return domain.Draft{}, err
	}
	log.Info("report drafted", "scout", sc.Name, "draft", draft.ID, "items", len(items))
	return draft, nil
}

// openRunLog opens the per-run log file for a scout, falling back to the
// engine logger when run files are disabled or unavailable.
func (e *Executor) openRunLog(name string) (*slog.Logger, func()) {
	if e.logDir == "" {
		return e.log, func() {}
	}
	run, err := runlog.Open(e.logDir, name, e.log)
	if err != nil {
		e.log.Warn("run log unavailable", "scout", name, "error", err)
		return e.log, func() {}
	}
	return run.Logger(), func() {
		if err := run.Close(); err != nil {
			e.log.Warn("run log close failed", "scout", name, "error", err)
		}
	}
}
