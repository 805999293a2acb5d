package redisstream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/terraskye/pipeline/eventbus"
)

// StreamReader is the subset of redis.Cmdable Replay needs.
type StreamReader interface {
	XRange(ctx context.Context, stream, start, stop string) *redis.XMessageSliceCmd
}

var _ StreamReader = (*redis.Client)(nil)

// Decode turns a stream entry written by Forwarder back into an envelope.
func Decode(reg *eventbus.Registry, msg redis.XMessage) (eventbus.Envelope, error) {
	field := func(name string) string {
		s, _ := msg.Values[name].(string)
		return s
	}

	ev, err := reg.Decode(field("event_type"), []byte(field("payload")))
	if err != nil {
		return eventbus.Envelope{}, fmt.Errorf("entry %s: %w", msg.ID, err)
	}

	env := eventbus.Envelope{Event: ev}
	if env.EventID, err = uuid.Parse(field("event_id")); err != nil {
		return eventbus.Envelope{}, fmt.Errorf("entry %s: event_id: %w", msg.ID, err)
	}
	if cid := field("correlation_id"); cid != "" {
		if env.CorrelationID, err = uuid.Parse(cid); err != nil {
			return eventbus.Envelope{}, fmt.Errorf("entry %s: correlation_id: %w", msg.ID, err)
		}
	}
	if at := field("occurred_at"); at != "" {
		if env.OccurredAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return eventbus.Envelope{}, fmt.Errorf("entry %s: occurred_at: %w", msg.ID, err)
		}
	}
	return env, nil
}

// Replay publishes every entry of stream after the entry id "after" to bus,
// in stream order, and returns the id of the last entry read. Use "-" to
// start from the beginning. Entries that cannot be decoded stop the replay.
func Replay(ctx context.Context, rdb StreamReader, stream string, reg *eventbus.Registry, bus *eventbus.Bus, after string) (string, error) {
	start := "-"
	if after != "" && after != "-" {
		start = "(" + after
	}

	msgs, err := rdb.XRange(ctx, stream, start, "+").Result()
	if err != nil {
		return after, fmt.Errorf("xrange %s: %w", stream, err)
	}

	last := after
	for _, msg := range msgs {
		env, err := Decode(reg, msg)
		if err != nil {
			return last, err
		}
		bus.Publish(ctx, []eventbus.Envelope{env})
		last = msg.ID
	}
	return last, nil
}
