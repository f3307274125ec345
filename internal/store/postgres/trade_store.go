package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

var _ domain.TradeStore = (*TradeStore)(nil)

// TradeStore persists realized exits in closed_trades.
type TradeStore struct {
	db querier
}

// NewTradeStore creates a TradeStore on pool (a *pgxpool.Pool).
func NewTradeStore(pool querier) *TradeStore { return &TradeStore{db: pool} }

const tradeCols = `id, instrument, direction, size, entry_price, exit_price,
	pnl, reason, partial, signal_id, opened_at, closed_at`

// Insert records a trade. Re-inserting the same id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, t domain.ClosedTrade) error {
	const q = `INSERT INTO closed_trades (` + tradeCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.db.Exec(ctx, q,
		t.ID, t.Instrument, t.Direction, t.Size, t.EntryPrice, t.ExitPrice,
		t.PnL, t.Reason, t.Partial, t.SignalID, t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// List returns trades newest first. An empty instrument lists all.
func (s *TradeStore) List(ctx context.Context, instrument string, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	q := newListQuery(`SELECT ` + tradeCols + ` FROM closed_trades`)
	if instrument != "" {
		q.filter("instrument = $%d", instrument)
	}
	q.window("closed_at", opts)
	sql, args := q.build("closed_at DESC", opts)
	return s.query(ctx, "list trades", sql, args...)
}

// ListBefore returns trades closed before t, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedTrade, error) {
	const q = `SELECT ` + tradeCols + ` FROM closed_trades WHERE closed_at < $1 ORDER BY closed_at ASC`
	return s.query(ctx, "list trades before", q, before)
}

// DeleteBefore removes trades closed before t.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM closed_trades WHERE closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *TradeStore) query(ctx context.Context, op, sql string, args ...any) ([]domain.ClosedTrade, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	trades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ClosedTrade, error) {
		var t domain.ClosedTrade
		err := row.Scan(&t.ID, &t.Instrument, &t.Direction, &t.Size, &t.EntryPrice, &t.ExitPrice,
			&t.PnL, &t.Reason, &t.Partial, &t.SignalID, &t.OpenedAt, &t.ClosedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: scan: %w", op, err)
	}
	return trades, nil
}
