package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists realized exits.
type TradeStore interface {
	Insert(ctx context.Context, trade ClosedTrade) error
	List(ctx context.Context, instrument string, opts ListOpts) ([]ClosedTrade, error)
	ListBefore(ctx context.Context, before time.Time) ([]ClosedTrade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID         int64
	Event      string
	Instrument string
	Detail     map[string]any
	CreatedAt  time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event, instrument string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
