package review

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/scoutline/scoutd/engine/domain"
	"github.com/scoutline/scoutd/pkg/natsutil"
)

// SubjectPending is the subject review events are published on.
const SubjectPending = "scoutd.review.pending"

// Notifier surfaces one draft to the human review channel. Returning an
// error keeps the draft pending; the bus retries on its next sweep.
type Notifier interface {
	NotifyPending(ctx context.Context, d domain.Draft, sc domain.Scout) error
}

// PendingEvent is the JSON payload published per surfaced draft. Reviewer
// frontends subscribe to SubjectPending and act through the CLI or the
// store.
type PendingEvent struct {
	EventID   string    `json:"event_id"`
	DraftID   int64     `json:"draft_id"`
	ScoutID   int64     `json:"scout_id"`
	Scout     string    `json:"scout"`
	Platform  string    `json:"platform"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NATSNotifier publishes pending events over a NATS connection with trace
// context in the message headers.
type NATSNotifier struct {
	conn *nats.Conn
}

// NewNATSNotifier wraps an established connection. The caller owns the
// connection lifecycle.
func NewNATSNotifier(conn *nats.Conn) *NATSNotifier {
	return &NATSNotifier{conn: conn}
}

// NotifyPending implements Notifier.
func (n *NATSNotifier) NotifyPending(ctx context.Context, d domain.Draft, sc domain.Scout) error {
	ev := PendingEvent{
		EventID:   uuid.NewString(),
		DraftID:   d.ID,
		ScoutID:   sc.ID,
		Scout:     sc.Name,
		Platform:  d.Platform,
		Content:   d.Content,
		CreatedAt: d.CreatedAt,
	}
	if err := natsutil.Publish(ctx, n.conn, SubjectPending, ev); err != nil {
		return fmt.Errorf("review: publish pending event: %w", err)
	}
	return nil
}
