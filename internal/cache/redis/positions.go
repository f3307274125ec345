package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

const positionsKey = "positions"

// PositionSnapshot mirrors open positions into a hash keyed by instrument,
// for dashboards and for operators inspecting a running engine. It consumes
// lifecycle events.
type PositionSnapshot struct {
	c *Client
}

// NewPositionSnapshot creates a PositionSnapshot.
func NewPositionSnapshot(c *Client) *PositionSnapshot { return &PositionSnapshot{c: c} }

func (s *PositionSnapshot) Name() string { return "redis_positions" }

// Handle writes the position on open/update and removes it on close.
func (s *PositionSnapshot) Handle(ctx context.Context, ev domain.LifecycleEvent) error {
	key := s.c.key(positionsKey)
	switch {
	case ev.Event == domain.EventClosed:
		if err := s.c.rdb.HDel(ctx, key, ev.Instrument).Err(); err != nil {
			return fmt.Errorf("redis: delete position %s: %w", ev.Instrument, err)
		}
	case ev.Position != nil:
		raw, err := json.Marshal(ev.Position)
		if err != nil {
			return fmt.Errorf("redis: marshal position: %w", err)
		}
		if err := s.c.rdb.HSet(ctx, key, ev.Instrument, raw).Err(); err != nil {
			return fmt.Errorf("redis: store position %s: %w", ev.Instrument, err)
		}
	}
	return nil
}

// Load returns the mirrored positions.
func (s *PositionSnapshot) Load(ctx context.Context) ([]domain.Position, error) {
	vals, err := s.c.rdb.HGetAll(ctx, s.c.key(positionsKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load positions: %w", err)
	}
	out := make([]domain.Position, 0, len(vals))
	for inst, raw := range vals {
		var p domain.Position
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("redis: decode position %s: %w", inst, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Reset clears the mirror, used after reconciliation rebuilt the book.
func (s *PositionSnapshot) Reset(ctx context.Context, positions []domain.Position) error {
	key := s.c.key(positionsKey)
	pipe := s.c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	for _, p := range positions {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("redis: marshal position: %w", err)
		}
		pipe.HSet(ctx, key, p.Instrument, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: reset positions: %w", err)
	}
	return nil
}
