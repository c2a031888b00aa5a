// Package natsutil carries typed JSON messages over NATS for the review
// channel: the daemon publishes pending-draft events, watchers subscribe.
// Trace context travels in message headers so a draft can be followed from
// the scout run that produced it to the review that surfaced it.
package natsutil

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts nats.Header to the OTel TextMapCarrier interface.
// Reads tolerate a nil map; Set requires an allocated one.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string { return nats.Header(c).Get(key) }

func (c headerCarrier) Set(key, val string) { nats.Header(c).Set(key, val) }

func (c headerCarrier) Keys() []string {
	if len(c) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes it to subject, injecting the
// trace context from ctx into the message headers. Messages go out without
// headers when no propagator is registered.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	hdr := make(nats.Header)
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(hdr))

	msg := &nats.Msg{Subject: subject, Data: data}
	if len(hdr) > 0 {
		msg.Header = hdr
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler for JSON messages of type T on subject.
// The handler receives a context carrying any trace extracted from the
// message headers. Messages that fail to decode are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), headerCarrier(msg.Header))
		handler(ctx, v)
	})
}
