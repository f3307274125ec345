package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/metrics"
)

// ReconcileFromExchange fetches account state and open orders and adopts
// every open position.
func (e *Engine) ReconcileFromExchange(ctx context.Context) error {
	acct, err := e.accountState(ctx)
	if err != nil {
		return fmt.Errorf("executor: reconcile: account state: %w", err)
	}
	orders, err := e.openOrders(ctx)
	if err != nil {
		return fmt.Errorf("executor: reconcile: open orders: %w", err)
	}
	return e.Reconcile(ctx, acct, orders)
}

// Reconcile rebuilds the store from the exchange's view. Each non-zero
// exchange position is adopted with the stop found among orders; when no
// stop is resting the entry price is recorded as the stop and the position
// is reported as MISSING so the next update's fallback check can act.
// Tracked positions the exchange no longer reports are dropped.
func (e *Engine) Reconcile(ctx context.Context, acct domain.AccountState, orders []domain.OpenOrder) error {
	seen := make(map[string]bool, len(acct.Positions))
	adopted, missing := 0, 0

	for _, xp := range acct.Positions {
		if xp.Size == 0 || xp.Instrument == "" {
			continue
		}
		seen[xp.Instrument] = true
		unlock := e.lock(xp.Instrument)

		dir := xp.Direction()
		stop, ref, found := findStop(orders, xp.Instrument, dir)
		status := "FOUND"
		if !found {
			stop, status = xp.EntryPrice, "MISSING"
			missing++
		}
		pos := domain.Position{
			Instrument:       xp.Instrument,
			Direction:        dir,
			Size:             xp.AbsSize(),
			EntryPrice:       xp.EntryPrice,
			EntryTime:        e.now(),
			StopLoss:         stop,
			StopLossOrderRef: ref,
			TrailingStop:     stop,
			Phase:            domain.PhaseInactive,
			SignalID:         "reconciled-" + uuid.NewString(),
		}
		// A missing stop is checked again by the fallback on the next update.
		pos.ProtectionSuspect = !found
		e.store.Replace(pos)
		unlock()
		adopted++

		metrics.Reconciled.WithLabelValues(strings.ToLower(status)).Inc()
		attrs := []any{
			slog.String("instrument", pos.Instrument),
			slog.String("direction", string(dir)),
			slog.Float64("size", pos.Size),
			slog.Float64("entry_price", pos.EntryPrice),
			slog.Float64("stop", stop),
			slog.String("stop_status", status),
		}
		if found {
			e.logger.InfoContext(ctx, "position reconciled", attrs...)
		} else {
			e.logger.WarnContext(ctx, "position reconciled without resting stop", attrs...)
			e.emit(domain.EventStopMissing, domain.LifecycleEvent{
				Instrument: pos.Instrument,
				Position:   &pos,
				Message:    "no protective stop found on exchange",
			})
		}
	}

	for _, p := range e.store.List() {
		if !seen[p.Instrument] {
			unlock := e.lock(p.Instrument)
			e.store.Delete(p.Instrument)
			unlock()
			e.logger.WarnContext(ctx, "tracked position not on exchange, dropped", slog.String("instrument", p.Instrument))
		}
	}

	metrics.PositionsOpen.Set(float64(e.store.Len()))
	e.reconciled.Store(true)
	e.logger.InfoContext(ctx, "reconciliation complete", slog.Int("positions", adopted), slog.Int("missing_stops", missing))
	e.emit(domain.EventReconciled, domain.LifecycleEvent{
		Message: fmt.Sprintf("%d positions adopted, %d without stop", adopted, missing),
	})
	return nil
}

// findStop picks the resting stop-loss for a position: a protective order on
// the exit side that is not a take-profit. With several, the tightest wins.
func findStop(orders []domain.OpenOrder, instrument string, dir domain.Direction) (float64, domain.OrderRef, bool) {
	var (
		best  float64
		ref   domain.OrderRef
		found bool
	)
	for _, o := range orders {
		if o.Instrument != instrument || !o.IsProtective() || o.TriggerPrice <= 0 {
			continue
		}
		if o.Side != "" && o.Side != dir.ExitSide() {
			continue
		}
		if strings.HasPrefix(strings.ToLower(o.OrderType), "take profit") {
			continue
		}
		if !found || (o.TriggerPrice-best)*dir.Sign() > 0 {
			best, ref, found = o.TriggerPrice, domain.OrderRef{OrderID: o.OrderID, ClientID: o.ClientID}, true
		}
	}
	return best, ref, found
}
