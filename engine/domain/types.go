// Package domain defines core types, constants, and validation for the scout
// engine. Every other package speaks in these types; the persistence layer
// maps them to rows and the adapters produce them from remote responses.
package domain

import "time"

// Kind identifies the source family a scout draws from.
type Kind string

const (
	KindRSS    Kind = "rss"
	KindReddit Kind = "reddit"
	KindSearch Kind = "search"
	KindArxiv  Kind = "arxiv"
	KindHTTP   Kind = "http"
	KindMeta   Kind = "meta"
)

// ValidKinds is the closed set of recognised scout kinds.
var ValidKinds = map[Kind]bool{
	KindRSS: true, KindReddit: true, KindSearch: true,
	KindArxiv: true, KindHTTP: true, KindMeta: true,
}

// Intent selects what a scout run produces: a report or a publishable post.
type Intent string

const (
	IntentScouting   Intent = "scouting"
	IntentGeneration Intent = "generation"
)

// ValidIntents is the closed set of recognised intents.
var ValidIntents = map[Intent]bool{
	IntentScouting: true, IntentGeneration: true,
}

// DraftStatus tracks a draft through the review state machine.
type DraftStatus string

const (
	StatusPendingReview DraftStatus = "pending_review"
	StatusReviewing     DraftStatus = "reviewing"
	StatusPosted        DraftStatus = "posted"
	StatusRejected      DraftStatus = "rejected"
)

// PlatformNotifyOnly is the sentinel platform for drafts that are surfaced to
// the human channel but never published anywhere.
const PlatformNotifyOnly = "notify-only"

// Scout is the declarative unit of work: what to fetch, how to judge it, and
// where the result should go.
type Scout struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Kind           Kind      `json:"kind"`
	Config         Config    `json:"config"`
	Intent         Intent    `json:"intent"`
	Instruction    string    `json:"instruction"`
	Platforms      []string  `json:"platforms,omitempty"`
	ReviewRequired bool      `json:"review_required"`
	Cron           string    `json:"cron,omitempty"`
	LastFired      time.Time `json:"last_fired,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TargetPlatform returns the platform a generation draft is written for:
// the first configured platform, or the notify-only sentinel.
func (s Scout) TargetPlatform() string {
	if len(s.Platforms) > 0 {
		return s.Platforms[0]
	}
	return PlatformNotifyOnly
}

// Draft is the output of one scout run, parked for human review.
type Draft struct {
	ID         int64       `json:"id"`
	ScoutID    int64       `json:"scout_id"`
	Content    string      `json:"content"`
	Platform   string      `json:"platform"`
	Status     DraftStatus `json:"status"`
	ExternalID string      `json:"external_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	PostedAt   time.Time   `json:"posted_at,omitempty"`
}

// Feed is a persisted RSS/Atom subscription. ScoutID is zero when the feed is
// not owned by any scout.
type Feed struct {
	ID           int64             `json:"id"`
	URL          string            `json:"url"`
	Title        string            `json:"title,omitempty"`
	ScoutID      int64             `json:"scout_id,omitempty"`
	PollInterval time.Duration     `json:"poll_interval,omitempty"`
	LastPolled   time.Time         `json:"last_polled,omitempty"`
	Auth         map[string]string `json:"auth,omitempty"`
}

// Entry is one persisted item of a feed. EntryID is the feed-assigned id and
// is unique within the feed.
type Entry struct {
	ID          int64     `json:"id"`
	FeedID      int64     `json:"feed_id"`
	EntryID     string    `json:"entry_id"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Published   time.Time `json:"published,omitempty"`
	Author      string    `json:"author,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Content     string    `json:"content,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	IsProcessed bool      `json:"is_processed"`
	ProcessedAt time.Time `json:"processed_at,omitempty"`
}

// FeedbackAction classifies a human reply to a draft.
type FeedbackAction string

const (
	ActionApproved   FeedbackAction = "approved"
	ActionRejected   FeedbackAction = "rejected"
	ActionRefinement FeedbackAction = "refinement"
)

// Feedback is one append-only journal row of a human reply.
type Feedback struct {
	ID        int64          `json:"id"`
	ScoutID   int64          `json:"scout_id"`
	ItemURL   string         `json:"item_url,omitempty"`
	Action    FeedbackAction `json:"action"`
	Comment   string         `json:"comment,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Calibration pairs a generated draft with the human critique it received.
// Rows are append-only and counted to gate instruction optimisation.
type Calibration struct {
	ID        int64     `json:"id"`
	ScoutID   int64     `json:"scout_id"`
	SourceURL string    `json:"source_url,omitempty"`
	Draft     string    `json:"draft"`
	Feedback  string    `json:"feedback"`
	CreatedAt time.Time `json:"created_at"`
}

// Provenance records how a fingerprint entered the dedup memory.
type Provenance string

const (
	ProvenanceRetrieved Provenance = "retrieved"
	ProvenanceGenerated Provenance = "generated"
)

// Fingerprint is one dedup memory record: an exact hash, an optional
// embedding, and where the content came from.
type Fingerprint struct {
	ID         int64      `json:"id"`
	Hash       string     `json:"hash"`
	Embedding  []float32  `json:"-"`
	Provenance Provenance `json:"provenance"`
	CreatedAt  time.Time  `json:"created_at"`
}
