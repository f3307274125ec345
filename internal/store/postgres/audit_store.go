package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

var _ domain.AuditStore = (*AuditStore)(nil)

// AuditStore is the append-only lifecycle log.
type AuditStore struct {
	db querier
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool querier) *AuditStore { return &AuditStore{db: pool} }

// Log appends one entry; detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event, instrument string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO audit_log (event, instrument, detail) VALUES ($1, $2, $3)`,
		event, instrument, raw)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	q := newListQuery(`SELECT id, event, instrument, detail, created_at FROM audit_log`)
	q.window("created_at", opts)
	sql, args := q.build("created_at DESC, id DESC", opts)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AuditEntry, error) {
		var (
			e   domain.AuditEntry
			raw []byte
		)
		if err := row.Scan(&e.ID, &e.Event, &e.Instrument, &raw, &e.CreatedAt); err != nil {
			return e, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return e, fmt.Errorf("unmarshal detail: %w", err)
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return entries, nil
}
