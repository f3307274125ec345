package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

var _ domain.SignalBus = (*SignalBus)(nil)

const defaultStreamMaxLen int64 = 10_000

// SignalBus is pub/sub for live consumers plus capped streams for replay.
type SignalBus struct {
	c      *Client
	maxLen int64
}

// NewSignalBus creates a bus whose streams are trimmed to about maxLen
// entries; zero keeps the default.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{c: c, maxLen: maxLen}
}

func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.c.rdb.Publish(ctx, b.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads that is closed when ctx ends.
// Channel names with glob characters subscribe by pattern.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := b.c.key(channel)
	var ps *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		ps = b.c.rdb.PSubscribe(ctx, name)
	} else {
		ps = b.c.rdb.Subscribe(ctx, name)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
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
	}()
	return out, nil
}

func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.c.key(stream),
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" for the start).
// It does not block.
func (b *SignalBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := b.c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.c.key(stream), lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, m := range s.Messages {
			switch v := m.Values["payload"].(type) {
			case string:
				out = append(out, domain.StreamMessage{ID: m.ID, Payload: []byte(v)})
			case []byte:
				out = append(out, domain.StreamMessage{ID: m.ID, Payload: v})
			}
		}
	}
	return out, nil
}
