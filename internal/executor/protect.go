package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/metrics"
)

// verification is the outcome of looking for a just-placed stop among the
// exchange's open orders.
type verification int

const (
	// verifyConfirmed: the stop is resting.
	verifyConfirmed verification = iota
	// verifyAmbiguous: the stop was not seen but the exchange acknowledged
	// it with an order id, so it is assumed to exist.
	verifyAmbiguous
	// verifyUnconfirmed: nothing proves the stop exists.
	verifyUnconfirmed
)

func (v verification) String() string {
	switch v {
	case verifyConfirmed:
		return "confirmed"
	case verifyAmbiguous:
		return "ambiguous"
	default:
		return "unconfirmed"
	}
}

// expectedStop describes the stop being verified.
type expectedStop struct {
	Instrument   string
	Ref          domain.OrderRef
	TriggerPrice float64
}

// classifyVerification decides whether a placed stop can be trusted.
// A protective order matches when its reference matches, or when it carries
// the expected trigger price and no reference was known.
func classifyVerification(orders []domain.OpenOrder, queryErr error, want expectedStop) verification {
	if queryErr == nil {
		for _, o := range orders {
			if o.Instrument != want.Instrument || !o.IsProtective() {
				continue
			}
			if want.Ref.Matches(o) {
				return verifyConfirmed
			}
			if want.Ref.IsZero() && samePrice(o.TriggerPrice, want.TriggerPrice) {
				return verifyConfirmed
			}
		}
	}
	if want.Ref.HasOrderID() {
		return verifyAmbiguous
	}
	return verifyUnconfirmed
}

// samePrice compares trigger prices with a relative tolerance.
func samePrice(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

// verifyStop queries open orders and classifies the result.
func (e *Engine) verifyStop(ctx context.Context, want expectedStop) verification {
	orders, err := e.openOrders(ctx)
	v := classifyVerification(orders, err, want)
	if err != nil {
		e.logger.WarnContext(ctx, "stop verification query failed",
			slog.String("instrument", want.Instrument),
			slog.String("result", v.String()),
			slog.String("error", err.Error()),
		)
	}
	return v
}

// swapOutcome reports what a protected swap did.
type swapOutcome struct {
	Replaced bool
	Ref      domain.OrderRef
}

// swapProtection replaces the position's stop with one at price for size.
// The new stop is placed and verified before the old one is cancelled, so
// the position is never without a stop; at worst two rest briefly. A
// rejected or unverifiable replacement leaves the old stop in place and is
// not an error.
func (e *Engine) swapProtection(ctx context.Context, pos domain.Position, price, size float64) (out swapOutcome, err error) {
	log := e.logger.With(
		slog.String("instrument", pos.Instrument),
		slog.Float64("old_stop", pos.ProtectivePrice()),
		slog.Float64("new_stop", price),
		slog.Float64("size", size),
	)
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "panic during stop replacement", slog.String("panic", fmt.Sprint(r)))
			e.fallbackCheck(ctx, pos.Instrument, price)
			out, err = swapOutcome{}, fmt.Errorf("executor: swap %s: panic: %v", pos.Instrument, r)
		}
	}()

	if price <= 0 || size <= 0 {
		e.fallbackCheck(ctx, pos.Instrument, price)
		return swapOutcome{}, fmt.Errorf("executor: swap %s: %w: stop %.8g size %.8g",
			pos.Instrument, domain.ErrInvalidOrder, price, size)
	}

	intent := e.stopIntent(pos.Instrument, pos.Direction, size, price)
	st, err := e.submit(ctx, "stop", intent)
	if err != nil {
		log.WarnContext(ctx, "replacement stop not placed, keeping existing stop", slog.String("error", err.Error()))
		metrics.StopSwaps.WithLabelValues("kept").Inc()
		return swapOutcome{}, nil
	}
	newRef := domain.OrderRef{OrderID: st.OrderID, ClientID: intent.ClientID}

	v := e.verifyStop(ctx, expectedStop{Instrument: pos.Instrument, Ref: newRef, TriggerPrice: price})
	switch v {
	case verifyUnconfirmed:
		log.WarnContext(ctx, "replacement stop unverified, keeping existing stop")
		e.cancelQuietly(ctx, pos.Instrument, newRef, "unverified replacement")
		metrics.StopSwaps.WithLabelValues("kept").Inc()
		return swapOutcome{}, nil
	case verifyAmbiguous:
		log.WarnContext(ctx, "replacement stop acknowledged but not seen, proceeding", slog.Int64("oid", newRef.OrderID))
	}

	if pos.StopLossOrderRef.IsZero() {
		log.WarnContext(ctx, "no reference to previous stop, it may remain resting")
		metrics.StopSwaps.WithLabelValues("orphan").Inc()
	} else if err := e.cancel(ctx, pos.Instrument, pos.StopLossOrderRef); err != nil {
		log.WarnContext(ctx, "previous stop not cancelled, two stops resting",
			slog.Int64("old_oid", pos.StopLossOrderRef.OrderID),
			slog.String("error", err.Error()),
		)
		metrics.StopSwaps.WithLabelValues("orphan").Inc()
	} else {
		metrics.StopSwaps.WithLabelValues("replaced").Inc()
	}

	log.InfoContext(ctx, "stop replaced", slog.Int64("oid", newRef.OrderID), slog.String("verification", v.String()))
	return swapOutcome{Replaced: true, Ref: newRef}, nil
}
