// Package review drives drafts through the human review state machine. The
// bus polls for pending drafts, surfaces each one to the review channel
// exactly once, and applies the reviewer's verdict: approve publishes and
// closes the draft, reject closes it, refine rewrites it and keeps it on the
// reviewer's desk. The bus and the scheduler share nothing but the store.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scoutline/scoutd/engine/agent"
	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/engine/memory"
	"github.com/scoutline/scoutd/engine/store"
	"github.com/scoutline/scoutd/pkg/metrics"
)

// DefaultPoll is the sweep cadence when Options does not set one.
const DefaultPoll = 60 * time.Second

const refineGoal = "Refine the social media post based on user feedback."

const refinePrompt = `Original Draft:
"%s"

User Feedback:
"%s"

Task:
Rewrite the draft to incorporate the feedback.
Keep the same core message unless the feedback says otherwise.

CRITICAL OUTPUT INSTRUCTIONS:
1. Output ONLY the raw text of the new post.
2. Do NOT use markdown code blocks.
3. Start directly with the first word.`

// Bus owns the review side of the draft lifecycle. Safe for concurrent use;
// the status-guarded store transitions keep every draft action at-most-once
// even when the CLI and the daemon act on the same row.
type Bus struct {
	store    *store.Store
	runtime  *agent.Runtime
	memory   *memory.Index
	notifier Notifier
	pubs     *Publishers
	metrics  *metrics.Registry
	poll     time.Duration
	log      *slog.Logger
	wake     chan struct{}
}

// Options carries the optional bus knobs.
type Options struct {
	// Notifier surfaces drafts to the review channel. Nil logs them instead.
	Notifier Notifier
	// Publishers resolves platforms on approve. Nil serves notify-only
	// drafts but fails approval of publishable ones.
	Publishers *Publishers
	// Poll is the sweep cadence; DefaultPoll when zero.
	Poll time.Duration
	// Metrics receives bus counters. Nil gets a private registry.
	Metrics *metrics.Registry
}

func New(st *store.Store, rt *agent.Runtime, mem *memory.Index, opts Options, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	if opts.Publishers == nil {
		opts.Publishers = NewPublishers()
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.New()
	}
	return &Bus{
		store:    st,
		runtime:  rt,
		memory:   mem,
		notifier: opts.Notifier,
		pubs:     opts.Publishers,
		metrics:  reg,
		poll:     opts.Poll,
		log:      log,
		wake:     make(chan struct{}, 1),
	}
}

// Run polls until ctx is cancelled. A sweep runs immediately on start so
// drafts parked while the daemon was down surface without waiting a full
// tick; Wake forces the next sweep early.
func (b *Bus) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	b.log.Info("review bus started", "poll", b.poll)
	for {
		if n, err := b.Poll(ctx); err != nil && ctx.Err() == nil {
			b.log.Error("review sweep failed", "error", err)
		} else if n > 0 {
			b.log.Info("drafts surfaced for review", "count", n)
		}

		select {
		case <-ctx.Done():
			b.log.Info("review bus stopped")
			return nil
		case <-ticker.C:
		case <-b.wake:
		}
	}
}

// Wake schedules an immediate sweep. Non-blocking; extra wakes while one is
// pending collapse into it.
func (b *Bus) Wake() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Poll surfaces every pending draft once, in primary key order: notify
// first, then flip to reviewing. A failed notification leaves the draft
// pending for the next sweep; a lost flip race means another process
// surfaced it and is skipped quietly.
func (b *Bus) Poll(ctx context.Context) (int, error) {
	drafts, err := b.store.ListDraftsByStatus(ctx, domain.StatusPendingReview)
	if err != nil {
		return 0, err
	}

	surfaced := 0
	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			return surfaced, err
		}

		sc, err := b.store.GetScout(ctx, d.ScoutID)
		if err != nil {
			b.log.Warn("draft without a scout, skipping", "draft_id", d.ID, "error", err)
			continue
		}
		if err := b.notify(ctx, d, sc); err != nil {
			b.log.Warn("review notification failed, draft stays pending",
				"draft_id", d.ID, "scout", sc.Name, "error", err)
			continue
		}

		flipped, err := b.store.MarkReviewing(ctx, d.ID)
		if err != nil {
			return surfaced, err
		}
		if !flipped {
			continue
		}
		surfaced++
		b.metrics.Counter("scoutd_reviews_surfaced_total", "Drafts surfaced to the review channel.").Inc()
	}
	return surfaced, nil
}

func (b *Bus) notify(ctx context.Context, d domain.Draft, sc domain.Scout) error {
	if b.notifier == nil {
		b.log.Info("draft awaiting review",
			"draft_id", d.ID, "scout", sc.Name, "platform", d.Platform)
		return nil
	}
	return b.notifier.NotifyPending(ctx, d, sc)
}

// Approve closes a reviewing draft as posted. Publishable platforms go
// through their publisher first: authenticate, publish, then record the
// external id. A publish failure leaves the draft reviewing so the reviewer
// can retry or reject.
func (b *Bus) Approve(ctx context.Context, id int64) (domain.Draft, error) {
	d, err := b.reviewing(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}

	externalID := ""
	if d.Platform != domain.PlatformNotifyOnly {
		pub, ok := b.pubs.Get(d.Platform)
		if !ok {
			return domain.Draft{}, fmt.Errorf("review: no publisher for platform %q", d.Platform)
		}
		if err := pub.Authenticate(ctx); err != nil {
			return domain.Draft{}, fmt.Errorf("review: authenticate %s: %w", d.Platform, err)
		}
		externalID, err = pub.Publish(ctx, d.Content)
		if err != nil {
			return domain.Draft{}, fmt.Errorf("review: publish to %s: %w", d.Platform, err)
		}
	}

	postedAt := time.Now().UTC()
	if err := b.store.MarkPosted(ctx, id, externalID, postedAt); err != nil {
		return domain.Draft{}, err
	}
	b.journal(ctx, d.ScoutID, domain.ActionApproved, "")
	b.metrics.Counter("scoutd_drafts_posted_total", "Drafts approved and posted.").Inc()
	b.log.Info("draft posted",
		"draft_id", d.ID, "platform", d.Platform, "external_id", externalID)

	d.Status = domain.StatusPosted
	d.ExternalID = externalID
	d.PostedAt = postedAt
	return d, nil
}

// Reject closes a reviewing draft as rejected and journals the verdict with
// the reviewer's optional reason.
func (b *Bus) Reject(ctx context.Context, id int64, reason string) error {
	d, err := b.reviewing(ctx, id)
	if err != nil {
		return err
	}
	if err := b.store.MarkRejected(ctx, id); err != nil {
		return err
	}
	b.journal(ctx, d.ScoutID, domain.ActionRejected, reason)
	b.metrics.Counter("scoutd_drafts_rejected_total", "Drafts rejected in review.").Inc()
	b.log.Info("draft rejected", "draft_id", d.ID, "reason", reason)
	return nil
}

// Refine rewrites a reviewing draft to incorporate the reviewer's feedback.
// The draft stays in reviewing with its new content; the exchange is
// journalled and stored as a calibration pair, and the new text is
// fingerprinted so the engine cannot regenerate it later.
func (b *Bus) Refine(ctx context.Context, id int64, feedback string) (domain.Draft, error) {
	if strings.TrimSpace(feedback) == "" {
		return domain.Draft{}, fmt.Errorf("review: refine needs feedback")
	}
	d, err := b.reviewing(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}
	sc, err := b.store.GetScout(ctx, d.ScoutID)
	if err != nil {
		return domain.Draft{}, err
	}

	gen := sc.Config.Sub("generation_config")
	rewritten, err := b.runtime.Generate(ctx, agent.Invocation{
		Scout:       sc.Name,
		Kind:        string(sc.Kind),
		Provider:    gen.Str("provider", ""),
		Model:       gen.Str("model_id", ""),
		Temperature: gen.Float("temperature", 0),
		System: agent.Prompt{
			Guardrails: agent.Guardrails,
			Platform:   agent.PlatformRules(d.Platform),
			Goal:       refineGoal,
		}.Build(),
		Prompt: fmt.Sprintf(refinePrompt, d.Content, feedback),
	})
	if err != nil {
		return domain.Draft{}, fmt.Errorf("review: refine draft %d: %w", id, err)
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return domain.Draft{}, fmt.Errorf("review: refine draft %d: model returned nothing", id)
	}

	if err := b.store.UpdateDraftContent(ctx, id, rewritten); err != nil {
		return domain.Draft{}, err
	}
	if err := b.memory.Add(ctx, rewritten, domain.ProvenanceGenerated); err != nil {
		b.log.Warn("could not fingerprint refined draft", "draft_id", id, "error", err)
	}
	b.journal(ctx, d.ScoutID, domain.ActionRefinement, feedback)
	if _, err := b.store.AddCalibration(ctx, domain.Calibration{
		ScoutID:  d.ScoutID,
		Draft:    d.Content,
		Feedback: feedback,
	}); err != nil {
		b.log.Warn("could not store calibration", "draft_id", id, "error", err)
	}
	b.metrics.Counter("scoutd_drafts_refined_total", "Drafts rewritten from reviewer feedback.").Inc()
	b.log.Info("draft refined", "draft_id", id, "scout", sc.Name)

	d.Content = rewritten
	return d, nil
}

// reviewing loads a draft and confirms it is on the reviewer's desk.
func (b *Bus) reviewing(ctx context.Context, id int64) (domain.Draft, error) {
	d, err := b.store.GetDraft(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}
	if d.Status != domain.StatusReviewing {
		return domain.Draft{}, fmt.Errorf("review: draft %d is %s, not reviewing", id, d.Status)
	}
	return d, nil
}

// journal appends a feedback row. Journal failures never fail the draft
// transition that triggered them.
func (b *Bus) journal(ctx context.Context, scoutID int64, action domain.FeedbackAction, comment string) {
	if _, err := b.store.AddFeedback(ctx, domain.Feedback{
		ScoutID: scoutID,
		Action:  action,
		Comment: comment,
	}); err != nil {
		b.log.Warn("could not journal feedback", "scout_id", scoutID, "action", action, "error", err)
	}
}
