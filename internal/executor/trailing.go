package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

// AdvanceTrailingStop feeds one momentum reading into the trailing-stop
// state machine for instrument. The stop only ever moves in the position's
// favor.
func (e *Engine) AdvanceTrailingStop(ctx context.Context, instrument string, price float64, m domain.Momentum) error {
	defer e.lock(instrument)()
	return e.guard(ctx, instrument, price, func() error {
		return e.advanceTrailingStop(ctx, instrument, price, m)
	})
}

func (e *Engine) advanceTrailingStop(ctx context.Context, instrument string, price float64, m domain.Momentum) error {
	pos, ok := e.store.Get(instrument)
	if !ok {
		return fmt.Errorf("executor: trail %s: %w", instrument, domain.ErrNoPosition)
	}
	if pos.Phase == domain.PhaseInactive || pos.Phase == "" {
		return e.activateTrailing(ctx, pos, price, m)
	}
	return e.trail(ctx, pos, price, m)
}

// activateTrailing arms trailing on a favorable momentum cross and moves the
// stop to break-even when price is in profit.
func (e *Engine) activateTrailing(ctx context.Context, pos domain.Position, price float64, m domain.Momentum) error {
	if !m.Cross.Favors(pos.Direction) {
		if m.ATR > 0 {
			e.refreshATR(pos.Instrument, m.ATR)
		}
		return nil
	}
	if !pos.InProfit(price) {
		e.logger.DebugContext(ctx, "favorable cross while not in profit",
			slog.String("instrument", pos.Instrument),
			slog.Float64("price", price),
			slog.Float64("entry_price", pos.EntryPrice),
		)
		return nil
	}

	target := pos.EntryPrice
	ref := pos.StopLossOrderRef
	moved := false
	if pos.Tightens(target) {
		out, err := e.swapProtection(ctx, pos, target, pos.Size)
		if err != nil {
			return err
		}
		if !out.Replaced {
			return nil
		}
		ref, moved = out.Ref, true
	}

	updated, err := e.store.Update(pos.Instrument, func(p *domain.Position) {
		if moved {
			p.TrailingStop = target
			p.StopLossOrderRef = ref
		}
		p.BreakEvenReached = true
		p.TrailingActivated = true
		p.Phase = domain.PhaseActivating
		if m.ATR > 0 {
			p.LastATR = m.ATR
		}
	})
	if err != nil {
		return fmt.Errorf("executor: trail %s: %w", pos.Instrument, err)
	}
	e.logger.InfoContext(ctx, "trailing activated",
		slog.String("instrument", pos.Instrument),
		slog.Bool("break_even", moved),
		slog.Float64("stop", updated.ProtectivePrice()),
	)
	e.emit(domain.EventUpdated, domain.LifecycleEvent{Instrument: pos.Instrument, Position: &updated, Message: "trailing activated"})
	return nil
}

// trail moves the stop to price -/+ multiplier x LastATR when that tightens
// it by more than the deadband. LastATR is the reading captured when
// trailing activated; a fresh reading only fills it in when none was
// captured.
func (e *Engine) trail(ctx context.Context, pos domain.Position, price float64, m domain.Momentum) error {
	atr := pos.LastATR
	if atr <= 0 && m.ATR > 0 {
		atr = m.ATR
		e.refreshATR(pos.Instrument, atr)
	}
	if atr <= 0 {
		return nil
	}
	candidate := price - pos.Direction.Sign()*e.cfg.TrailATRMultiplier*atr
	current := pos.ProtectivePrice()

	if candidate <= 0 || !pos.Tightens(candidate) || (current > 0 && math.Abs(candidate-current)/current <= e.cfg.Deadband) {
		return nil
	}

	out, err := e.swapProtection(ctx, pos, candidate, pos.Size)
	if err != nil {
		return err
	}
	if !out.Replaced {
		return nil
	}

	updated, err := e.store.Update(pos.Instrument, func(p *domain.Position) {
		p.TrailingStop = candidate
		p.StopLossOrderRef = out.Ref
		p.Phase = domain.PhaseTrailing
	})
	if err != nil {
		return fmt.Errorf("executor: trail %s: %w", pos.Instrument, err)
	}
	e.logger.InfoContext(ctx, "trailing stop advanced",
		slog.String("instrument", pos.Instrument),
		slog.Float64("from", current),
		slog.Float64("to", candidate),
		slog.Float64("atr", atr),
	)
	e.emit(domain.EventUpdated, domain.LifecycleEvent{Instrument: pos.Instrument, Position: &updated, Message: "trailing stop advanced"})
	return nil
}

// refreshATR records atr as the position's trailing distance basis.
func (e *Engine) refreshATR(instrument string, atr float64) {
	_, _ = e.store.Update(instrument, func(p *domain.Position) { p.LastATR = atr })
}
