package executor

import (
	"context"
	"log/slog"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/metrics"
)

// FallbackCheck verifies instrument still has a resting protective order and
// closes the position at market when it does not.
func (e *Engine) FallbackCheck(ctx context.Context, instrument string, price float64) {
	defer e.lock(instrument)()
	e.fallbackCheck(ctx, instrument, price)
}

// fallbackCheck must run with the instrument lock held. When the open-orders
// query itself fails the position is flagged and checked again on the next
// update.
func (e *Engine) fallbackCheck(ctx context.Context, instrument string, price float64) {
	pos, ok := e.store.Get(instrument)
	if !ok {
		return
	}
	log := e.logger.With(slog.String("instrument", instrument))

	orders, err := e.openOrders(ctx)
	if err != nil {
		log.ErrorContext(ctx, "fallback check could not query open orders, will retry", slog.String("error", err.Error()))
		e.markSuspect(instrument, true)
		return
	}
	for _, o := range orders {
		if o.Instrument == instrument && o.IsProtective() {
			if pos.ProtectionSuspect {
				e.markSuspect(instrument, false)
				log.InfoContext(ctx, "protective stop confirmed", slog.Int64("oid", o.OrderID))
			}
			return
		}
	}

	log.ErrorContext(ctx, "EMERGENCY: no protective stop resting, closing position",
		slog.Float64("size", pos.Size),
		slog.Float64("price", price),
	)
	metrics.EmergencyCloses.Inc()
	e.emit(domain.EventEmergency, domain.LifecycleEvent{
		Instrument: instrument,
		Position:   &pos,
		Message:    "no protective stop resting, closing at market",
	})
	if _, err := e.closePosition(ctx, instrument, price, domain.CloseReasonEmergency); err != nil {
		log.ErrorContext(ctx, "emergency close failed, will retry", slog.String("error", err.Error()))
		e.markSuspect(instrument, true)
	}
}

// markSuspect flags or clears a position whose stop could not be confirmed.
func (e *Engine) markSuspect(instrument string, suspect bool) {
	_, _ = e.store.Update(instrument, func(p *domain.Position) { p.ProtectionSuspect = suspect })
}
