package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/metrics"
)

// marketPrice returns the worst acceptable price for an aggressive order on
// side, given a reference price.
func (e *Engine) marketPrice(side domain.OrderSide, ref float64) float64 {
	if side.IsBuy() {
		return ref * (1 + e.cfg.Slippage)
	}
	return ref * (1 - e.cfg.Slippage)
}

// entryIntent builds the IOC market entry for size units.
func (e *Engine) entryIntent(instrument string, dir domain.Direction, size, price float64) domain.OrderIntent {
	side := dir.EntrySide()
	return domain.OrderIntent{
		Instrument: instrument,
		Side:       side,
		Price:      e.marketPrice(side, price),
		Size:       size,
		TIF:        domain.TIFImmediateOrCancel,
		ClientID:   e.clientID(),
	}
}

// closeIntent builds a reduce-only IOC that flattens size units at market.
func (e *Engine) closeIntent(instrument string, dir domain.Direction, size, price float64) domain.OrderIntent {
	side := dir.ExitSide()
	return domain.OrderIntent{
		Instrument: instrument,
		Side:       side,
		Price:      e.marketPrice(side, price),
		Size:       size,
		ReduceOnly: true,
		TIF:        domain.TIFImmediateOrCancel,
		ClientID:   e.clientID(),
	}
}

// stopIntent builds the reduce-only stop-market trigger protecting a
// position. The limit price is the worst fill accepted once triggered.
func (e *Engine) stopIntent(instrument string, dir domain.Direction, size, trigger float64) domain.OrderIntent {
	side := dir.ExitSide()
	return domain.OrderIntent{
		Instrument: instrument,
		Side:       side,
		Price:      e.marketPrice(side, trigger),
		Size:       size,
		ReduceOnly: true,
		Trigger: &domain.Trigger{
			Price:    trigger,
			IsMarket: true,
			Kind:     domain.TriggerStopLoss,
		},
		ClientID: e.clientID(),
	}
}

// submit places a single order and folds a business rejection into the
// returned error.
func (e *Engine) submit(ctx context.Context, kind string, intent domain.OrderIntent) (domain.OrderStatus, error) {
	res, err := e.gw.PlaceOrders(ctx, []domain.OrderIntent{intent}, domain.GroupingNone)
	if err == nil {
		err = res.Err(kind)
	}
	metrics.Orders.WithLabelValues(kind, metrics.Outcome(err)).Inc()
	if err != nil {
		return domain.OrderStatus{}, err
	}
	return res.First(), nil
}

// cancel removes one resting order, preferring the exchange id.
func (e *Engine) cancel(ctx context.Context, instrument string, ref domain.OrderRef) error {
	if ref.IsZero() {
		return fmt.Errorf("executor: cancel %s: empty order reference", instrument)
	}
	res, err := e.gw.CancelOrders(ctx, []domain.CancelRef{{Instrument: instrument, Ref: ref}})
	if err == nil {
		err = res.Err("cancel")
	}
	metrics.Orders.WithLabelValues("cancel", metrics.Outcome(err)).Inc()
	return err
}

// cancelQuietly cancels an order whose presence is uncertain. Failures are
// logged and otherwise ignored.
func (e *Engine) cancelQuietly(ctx context.Context, instrument string, ref domain.OrderRef, why string) {
	if ref.IsZero() {
		return
	}
	if err := e.cancel(ctx, instrument, ref); err != nil {
		e.logger.WarnContext(ctx, "cancel failed",
			slog.String("instrument", instrument),
			slog.Int64("oid", ref.OrderID),
			slog.String("cloid", ref.ClientID),
			slog.String("reason", why),
			slog.String("error", err.Error()),
		)
	}
}
