package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

const (
	// streamMaxLen caps each stream via XADD MAXLEN ~.
	streamMaxLen int64 = 10_000
	// payloadField is the single stream entry field holding the event JSON.
	payloadField = "payload"
	subBuffer    = 128
)

var _ domain.SignalBus = (*SignalBus)(nil)

// SignalBus carries market events and oracle fulfillments. Pub/Sub delivers
// live events; the stream keeps a replayable log for clients that poll
// /api/events. Channel and stream names are namespaced under the client's
// key prefix, so "market:<id>" is published as "<prefix>:market:<id>".
type SignalBus struct {
	c *Client
	// block is how long StreamRead waits for new entries; zero returns
	// immediately.
	block time.Duration
}

// NewSignalBus creates a SignalBus backed by c.
func NewSignalBus(c *Client, block time.Duration) *SignalBus {
	return &SignalBus{c: c, block: block}
}

// Publish sends payload on channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.Underlying().Publish(ctx, sb.c.Key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, or on every matching channel when it holds
// a glob such as "market:*". The returned channel closes when ctx ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	rdb, name := sb.c.Underlying(), sb.c.Key(channel)

	var ps *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		ps = rdb.PSubscribe(ctx, name)
	} else {
		ps = rdb.Subscribe(ctx, name)
	}
	// The first reply confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subBuffer)
	go pump(ctx, ps, out)
	return out, nil
}

func pump(ctx context.Context, ps *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer ps.Close()

	in := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}
}

// StreamAppend adds payload to stream, trimming it to roughly
// streamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.c.Underlying().XAdd(ctx, &redis.XAddArgs{
		Stream: sb.c.Key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" reads from the
// start). No entries within the block time is an empty result, not an
// error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	// go-redis sends BLOCK for any non-negative value and BLOCK 0 waits forever.
	block := time.Duration(-1)
	if sb.block > 0 {
		block = sb.block
	}
	res, err := sb.c.Underlying().XRead(ctx, &redis.XReadArgs{
		Streams: []string{sb.c.Key(stream), lastID},
		Count:   int64(count),
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var msgs []domain.StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			if data, ok := streamPayload(m.Values); ok {
				msgs = append(msgs, domain.StreamMessage{ID: m.ID, Payload: data})
			}
		}
	}
	return msgs, nil
}

func streamPayload(values map[string]any) ([]byte, bool) {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}
