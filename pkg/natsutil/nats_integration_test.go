//go:build integration

package natsutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func natsURL() string {
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return nats.DefaultURL
}

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(natsURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func TestNATS_PendingEventRoundTrip(t *testing.T) {
	nc := connectNATS(t)

	type event struct {
		DraftID int64  `json:"draft_id"`
		Scout   string `json:"scout"`
		Content string `json:"content"`
	}

	ch := make(chan event, 1)
	sub, err := Subscribe(nc, "integ.review.pending", func(ctx context.Context, ev event) {
		ch <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	want := event{DraftID: 7, Scout: "go-news", Content: "draft ready for review"}
	if err := Publish(context.Background(), nc, "integ.review.pending", want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for pending event")
	}
}

func TestNATS_MalformedMessageDropped(t *testing.T) {
	nc := connectNATS(t)

	type event struct {
		DraftID int64 `json:"draft_id"`
	}

	ch := make(chan event, 1)
	sub, err := Subscribe(nc, "integ.review.malformed", func(ctx context.Context, ev event) {
		ch <- ev
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := nc.Publish("integ.review.malformed", []byte("{not json")); err != nil {
		t.Fatalf("Publish raw: %v", err)
	}
	if err := Publish(context.Background(), nc, "integ.review.malformed", event{DraftID: 3}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.DraftID != 3 {
			t.Fatalf("got %+v, want the well-formed event only", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for well-formed event")
	}
}
