package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/metrics"
)

// CloseResult describes a completed full close.
type CloseResult struct {
	ExitPrice   float64
	ClosedSize  float64
	RealizedPnL float64
	Trade       domain.ClosedTrade
}

// ClosePosition flattens the whole position at market, removes it from the
// store and starts the re-entry cooldown when reason is a stop-out.
func (e *Engine) ClosePosition(ctx context.Context, instrument string, price float64, reason domain.CloseReason) (CloseResult, error) {
	defer e.lock(instrument)()
	var res CloseResult
	err := e.guard(ctx, instrument, price, func() error {
		var err error
		res, err = e.closePosition(ctx, instrument, price, reason)
		return err
	})
	return res, err
}

// closePosition runs with the instrument lock held.
func (e *Engine) closePosition(ctx context.Context, instrument string, price float64, reason domain.CloseReason) (CloseResult, error) {
	pos, ok := e.store.Get(instrument)
	if !ok {
		return CloseResult{}, fmt.Errorf("executor: close %s: %w", instrument, domain.ErrNoPosition)
	}
	if price <= 0 {
		price = pos.EntryPrice
	}

	st, err := e.submit(ctx, "close", e.closeIntent(instrument, pos.Direction, pos.Size, price))
	if err != nil {
		e.logger.ErrorContext(ctx, "close order failed",
			slog.String("instrument", instrument),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		return CloseResult{}, fmt.Errorf("executor: close %s: %w", instrument, err)
	}
	exitPx := price
	if st.AvgPrice > 0 {
		exitPx = st.AvgPrice
	}

	// An IOC can fill partially; keep the remainder tracked so the next
	// update retries.
	if st.FilledSize > 0 && st.FilledSize < pos.Size*(1-1e-9) {
		filled := st.FilledSize
		pnl := pos.PnL(exitPx, filled)
		updated, uerr := e.store.Update(instrument, func(p *domain.Position) {
			p.Size -= filled
			p.RealizedPnL += pnl
		})
		if uerr == nil {
			metrics.RealizedPnL.WithLabelValues(instrument).Add(pnl)
			e.emit(domain.EventUpdated, domain.LifecycleEvent{Instrument: instrument, Position: &updated, Message: "close partially filled"})
		}
		return CloseResult{}, fmt.Errorf("executor: close %s: filled %.8g of %.8g", instrument, filled, pos.Size)
	}

	e.cancelQuietly(ctx, instrument, pos.StopLossOrderRef, "position closed")
	return e.finalizeClose(ctx, pos, exitPx, reason), nil
}

// finalizeClose removes a position that is already flat on the exchange.
func (e *Engine) finalizeClose(ctx context.Context, pos domain.Position, exitPx float64, reason domain.CloseReason) CloseResult {
	e.store.Delete(pos.Instrument)
	pnl := pos.PnL(exitPx, pos.Size)

	if reason.IsStopOut() && e.cooldowns != nil {
		e.cooldowns.StartCooldown(pos.Instrument)
	}

	trade := domain.ClosedTrade{
		ID:         uuid.NewString(),
		Instrument: pos.Instrument,
		Direction:  pos.Direction,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPx,
		PnL:        pnl,
		Reason:     reason,
		SignalID:   pos.SignalID,
		OpenedAt:   pos.EntryTime,
		ClosedAt:   e.now(),
	}
	metrics.PositionsOpen.Set(float64(e.store.Len()))
	metrics.RealizedPnL.WithLabelValues(pos.Instrument).Add(pnl)
	e.logger.InfoContext(ctx, "position closed",
		slog.String("instrument", pos.Instrument),
		slog.String("reason", string(reason)),
		slog.Float64("size", pos.Size),
		slog.Float64("exit_price", exitPx),
		slog.Float64("pnl", pnl),
		slog.Float64("total_pnl", pnl+pos.RealizedPnL),
	)
	e.emit(domain.EventClosed, domain.LifecycleEvent{Instrument: pos.Instrument, Position: &pos, Trade: &trade})

	return CloseResult{ExitPrice: exitPx, ClosedSize: pos.Size, RealizedPnL: pnl, Trade: trade}
}

// settleStopBreach handles price trading through the stop. If the exchange
// already shows the position flat the stop executed and the close is only
// recorded; otherwise the position is closed at market.
func (e *Engine) settleStopBreach(ctx context.Context, pos domain.Position, price float64) error {
	reason := domain.CloseReasonStopLoss
	if pos.TrailingActivated {
		reason = domain.CloseReasonTrailingStop
	}
	flat, err := e.exchangeFlat(ctx, pos.Instrument)
	if err != nil {
		return fmt.Errorf("executor: stop breach %s: %w", pos.Instrument, err)
	}
	if flat {
		e.finalizeClose(ctx, pos, pos.ProtectivePrice(), reason)
		return nil
	}
	e.logger.WarnContext(ctx, "price through stop but position still open, closing at market",
		slog.String("instrument", pos.Instrument),
		slog.Float64("stop", pos.ProtectivePrice()),
		slog.Float64("price", price),
	)
	_, err = e.closePosition(ctx, pos.Instrument, price, reason)
	return err
}
