package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"

	// Archives above this size go through the multipart uploader.
	multipartThreshold = 16 << 20
)

// ObjectSizer reports the stored size of an uploaded object.
type ObjectSizer interface {
	Size(ctx context.Context, path string) (int64, error)
}

var _ domain.Archiver = (*Archiver)(nil)

// Archiver moves closed trades older than a cutoff into a JSONL object and
// deletes them from the primary store once the upload has been verified.
type Archiver struct {
	writer domain.BlobWriter
	sizer  ObjectSizer
	trades domain.TradeStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver wires the archiver. audit may be nil.
func NewArchiver(
	writer domain.BlobWriter,
	sizer ObjectSizer,
	trades domain.TradeStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		sizer:  sizer,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads every trade closed before the cutoff and deletes
// the uploaded rows. It returns the number of rows deleted. Nothing is
// deleted when the upload or its verification fails.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("closed_trades", before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	size, err := a.sizer.Size(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades verify: %w", err)
	}
	if size != int64(len(buf)) {
		return 0, fmt.Errorf("s3blob: archive trades verify %s: stored %d bytes, uploaded %d", path, size, len(buf))
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades delete: %w", err)
	}
	if deleted != int64(len(trades)) {
		a.logger.WarnContext(ctx, "archived and deleted row counts differ",
			slog.Int("archived", len(trades)),
			slog.Int64("deleted", deleted),
		)
	}

	a.logger.InfoContext(ctx, "closed trades archived",
		slog.String("path", path),
		slog.Int("count", len(trades)),
		slog.Time("before", before),
	)

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.closed_trades", "", map[string]any{
			"path":    path,
			"count":   len(trades),
			"deleted": deleted,
			"before":  before.UTC().Format(time.RFC3339),
		}); err != nil {
			return deleted, fmt.Errorf("s3blob: archive trades audit log: %w", err)
		}
	}
	return deleted, nil
}

// archivePath partitions archives by month of the cutoff and names each
// file after the exact cutoff so repeated runs in a month never collide.
//
//	archive/closed_trades/2026-07/20260719T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	b := before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, b.Format("2006-01"), b.Format("20060102T150405Z"))
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
