package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/metrics"
)

// PartialResult describes a partial exit. Skipped is set when the position
// had already scaled out once.
type PartialResult struct {
	Skipped     bool
	ClosedSize  float64
	ExitPrice   float64
	RealizedPnL float64
	Position    domain.Position
}

// PartialExit closes half of the position at market and resizes the stop to
// the remainder. It runs at most once per position.
func (e *Engine) PartialExit(ctx context.Context, instrument string, exitPrice float64) (PartialResult, error) {
	defer e.lock(instrument)()
	var res PartialResult
	err := e.guard(ctx, instrument, exitPrice, func() error {
		var err error
		res, err = e.partialExit(ctx, instrument, exitPrice)
		return err
	})
	return res, err
}

func (e *Engine) partialExit(ctx context.Context, instrument string, exitPrice float64) (PartialResult, error) {
	pos, ok := e.store.Get(instrument)
	if !ok {
		return PartialResult{}, fmt.Errorf("executor: partial exit %s: %w", instrument, domain.ErrNoPosition)
	}
	if pos.PartialExitTaken {
		e.logger.DebugContext(ctx, "partial exit already taken", slog.String("instrument", instrument))
		return PartialResult{Skipped: true, Position: pos}, nil
	}
	half := pos.Size / 2
	if half <= 0 {
		return PartialResult{}, fmt.Errorf("executor: partial exit %s: %w", instrument, domain.ErrSizeTooSmall)
	}

	st, err := e.submit(ctx, "close", e.closeIntent(instrument, pos.Direction, half, exitPrice))
	if err != nil {
		return PartialResult{}, fmt.Errorf("executor: partial exit %s: %w", instrument, err)
	}
	closed, px := half, exitPrice
	if st.FilledSize > 0 && st.FilledSize < pos.Size {
		closed = st.FilledSize
	}
	if st.AvgPrice > 0 {
		px = st.AvgPrice
	}
	remaining := pos.Size - closed
	pnl := pos.PnL(px, closed)

	// The old stop cannot be cancelled without a reference, so a resized
	// stop would rest next to it. It stays reduce-only at the original size.
	ref := pos.StopLossOrderRef
	if ref.IsZero() {
		e.logger.WarnContext(ctx, "no reference to current stop, resize skipped",
			slog.String("instrument", instrument),
			slog.Float64("remaining", remaining),
		)
	} else {
		out, err := e.swapProtection(ctx, pos, pos.ProtectivePrice(), remaining)
		switch {
		case err != nil:
			e.logger.WarnContext(ctx, "stop resize failed, existing stop still covers the original size",
				slog.String("instrument", instrument), slog.String("error", err.Error()))
		case out.Replaced:
			ref = out.Ref
		}
	}

	updated, err := e.store.Update(instrument, func(p *domain.Position) {
		p.Size = remaining
		p.PartialExitTaken = true
		p.RealizedPnL += pnl
		p.StopLossOrderRef = ref
	})
	if err != nil {
		return PartialResult{}, fmt.Errorf("executor: partial exit %s: %w", instrument, err)
	}

	trade := domain.ClosedTrade{
		ID:         uuid.NewString(),
		Instrument: instrument,
		Direction:  pos.Direction,
		Size:       closed,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  px,
		PnL:        pnl,
		Reason:     domain.CloseReasonSignal,
		Partial:    true,
		SignalID:   pos.SignalID,
		OpenedAt:   pos.EntryTime,
		ClosedAt:   e.now(),
	}
	metrics.RealizedPnL.WithLabelValues(instrument).Add(pnl)
	e.logger.InfoContext(ctx, "partial exit taken",
		slog.String("instrument", instrument),
		slog.Float64("closed", closed),
		slog.Float64("remaining", remaining),
		slog.Float64("exit_price", px),
		slog.Float64("pnl", pnl),
	)
	e.emit(domain.EventUpdated, domain.LifecycleEvent{Instrument: instrument, Position: &updated, Trade: &trade, Message: "partial exit"})

	return PartialResult{ClosedSize: closed, ExitPrice: px, RealizedPnL: pnl, Position: updated}, nil
}
