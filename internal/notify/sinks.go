package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

// Event bus names.
const (
	EventsChannel = "supersignal:events"
	EventsStream  = "supersignal:events:stream"
)

// BusSink publishes events as JSON on the signal bus and appends them to a
// durable stream.
type BusSink struct {
	bus domain.SignalBus
}

// NewBusSink creates a BusSink.
func NewBusSink(bus domain.SignalBus) *BusSink { return &BusSink{bus: bus} }

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Handle(ctx context.Context, ev domain.LifecycleEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := s.bus.Publish(ctx, EventsChannel, payload); err != nil {
		return err
	}
	return s.bus.StreamAppend(ctx, EventsStream, payload)
}

// AuditSink writes every event to the audit log.
type AuditSink struct {
	store domain.AuditStore
}

// NewAuditSink creates an AuditSink.
func NewAuditSink(store domain.AuditStore) *AuditSink { return &AuditSink{store: store} }

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Handle(ctx context.Context, ev domain.LifecycleEvent) error {
	detail := map[string]any{}
	if ev.Message != "" {
		detail["message"] = ev.Message
	}
	if p := ev.Position; p != nil {
		detail["direction"] = p.Direction
		detail["size"] = p.Size
		detail["entry_price"] = p.EntryPrice
		detail["stop"] = p.ProtectivePrice()
		detail["phase"] = p.Phase
		detail["signal_id"] = p.SignalID
		if !p.StopLossOrderRef.IsZero() {
			detail["stop_ref"] = p.StopLossOrderRef
		}
	}
	if t := ev.Trade; t != nil {
		detail["trade_id"] = t.ID
		detail["exit_price"] = t.ExitPrice
		detail["pnl"] = t.PnL
		detail["reason"] = t.Reason
	}
	return s.store.Log(ctx, ev.Event, ev.Instrument, detail)
}

// TradeSink records realized exits in trade history.
type TradeSink struct {
	store domain.TradeStore
}

// NewTradeSink creates a TradeSink.
func NewTradeSink(store domain.TradeStore) *TradeSink { return &TradeSink{store: store} }

func (s *TradeSink) Name() string { return "trades" }

func (s *TradeSink) Handle(ctx context.Context, ev domain.LifecycleEvent) error {
	if ev.Trade == nil {
		return nil
	}
	return s.store.Insert(ctx, *ev.Trade)
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "events"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Handle(ctx context.Context, ev domain.LifecycleEvent) error {
	attrs := []any{slog.String("event", ev.Event), slog.String("instrument", ev.Instrument)}
	if ev.Message != "" {
		attrs = append(attrs, slog.String("message", ev.Message))
	}
	if t := ev.Trade; t != nil {
		attrs = append(attrs, slog.String("reason", string(t.Reason)), slog.Float64("pnl", t.PnL))
	}
	s.logger.InfoContext(ctx, "lifecycle event", attrs...)
	return nil
}
