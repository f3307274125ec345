package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/metrics"
)

var errStopUnverified = errors.New("protective stop not found after placement")

// OpenRequest is a sized, risk-approved entry.
type OpenRequest struct {
	Instrument string
	Direction  domain.Direction
	Size       float64
	EntryPrice float64
	StopPrice  float64
	TakeProfit float64
	ATR        float64
	SignalID   string
}

// validate rejects requests whose stop is not on the losing side of entry.
func (r OpenRequest) validate() error {
	switch {
	case r.Instrument == "":
		return errors.New("missing instrument")
	case !r.Direction.Valid():
		return fmt.Errorf("direction %q", r.Direction)
	case r.Size <= 0:
		return fmt.Errorf("size %.8g", r.Size)
	case r.EntryPrice <= 0 || r.StopPrice <= 0:
		return fmt.Errorf("entry %.8g stop %.8g", r.EntryPrice, r.StopPrice)
	case (r.EntryPrice-r.StopPrice)*r.Direction.Sign() <= 0:
		return fmt.Errorf("stop %.8g is not on the losing side of entry %.8g", r.StopPrice, r.EntryPrice)
	}
	return nil
}

// EntryResult references the orders that opened and protect a position.
type EntryResult struct {
	EntryRef domain.OrderRef
	StopRef  domain.OrderRef
	Position domain.Position
}

// OpenPosition enters a position and attaches its stop as one unit: either
// both exist when it returns nil, or the entry has been flattened again.
//
// Errors wrap domain.ErrEntryRejected when nothing was filled and
// domain.ErrProtectionFailed when a filled entry had to be rolled back.
// If the rollback itself failed the error also wraps
// domain.ErrRollbackFailed and the position may still be open.
func (e *Engine) OpenPosition(ctx context.Context, req OpenRequest) (EntryResult, error) {
	defer e.lock(req.Instrument)()
	return e.openPosition(ctx, req)
}

func (e *Engine) openPosition(ctx context.Context, req OpenRequest) (EntryResult, error) {
	if err := req.validate(); err != nil {
		return EntryResult{}, fmt.Errorf("executor: open %s: %w: %w", req.Instrument, domain.ErrInvalidOrder, err)
	}
	if _, ok := e.store.Get(req.Instrument); ok {
		return EntryResult{}, fmt.Errorf("executor: open %s: %w", req.Instrument, domain.ErrPositionExists)
	}

	log := e.logger.With(
		slog.String("instrument", req.Instrument),
		slog.String("direction", string(req.Direction)),
		slog.String("signal_id", req.SignalID),
	)

	// 1. Entry.
	entry := e.entryIntent(req.Instrument, req.Direction, req.Size, req.EntryPrice)
	entryCtx, cancel := context.WithTimeout(ctx, e.cfg.EntryTimeout)
	st, err := e.submit(entryCtx, "entry", entry)
	cancel()
	if err != nil {
		log.WarnContext(ctx, "entry not filled", slog.String("error", err.Error()))
		return EntryResult{}, fmt.Errorf("executor: open %s: %w: %w", req.Instrument, domain.ErrEntryRejected, err)
	}
	if !st.Filled {
		log.WarnContext(ctx, "entry acknowledged without fill", slog.Bool("resting", st.Resting))
		if st.Resting {
			e.cancelQuietly(ctx, req.Instrument, domain.OrderRef{OrderID: st.OrderID, ClientID: entry.ClientID}, "unfilled entry")
		}
		return EntryResult{}, fmt.Errorf("executor: open %s: %w", req.Instrument, domain.ErrEntryRejected)
	}
	size, price := req.Size, req.EntryPrice
	if st.FilledSize > 0 {
		size = st.FilledSize
	}
	if st.AvgPrice > 0 {
		price = st.AvgPrice
	}
	entryRef := domain.OrderRef{OrderID: st.OrderID, ClientID: entry.ClientID}
	log = log.With(slog.Float64("size", size), slog.Float64("entry_price", price), slog.Float64("stop", req.StopPrice))
	log.InfoContext(ctx, "entry filled", slog.Int64("oid", st.OrderID))

	// 2. Protective stop. Not bounded: a timeout here cannot tell whether
	// the stop was placed.
	stop := e.stopIntent(req.Instrument, req.Direction, size, req.StopPrice)
	stopStatus, err := e.submit(ctx, "stop", stop)
	if err != nil {
		log.ErrorContext(ctx, "protective stop failed, rolling back entry", slog.String("error", err.Error()))
		return EntryResult{}, e.rollbackEntry(ctx, req, size, price, err)
	}
	stopRef := domain.OrderRef{OrderID: stopStatus.OrderID, ClientID: stop.ClientID}

	// 3. Verification.
	switch v := e.verifyStop(ctx, expectedStop{Instrument: req.Instrument, Ref: stopRef, TriggerPrice: req.StopPrice}); v {
	case verifyUnconfirmed:
		log.ErrorContext(ctx, "protective stop not confirmed, rolling back entry")
		rbErr := e.rollbackEntry(ctx, req, size, price, errStopUnverified)
		e.cancelQuietly(context.WithoutCancel(ctx), req.Instrument, stopRef, "unverified stop after rollback")
		return EntryResult{}, rbErr
	case verifyAmbiguous:
		log.WarnContext(ctx, "protective stop acknowledged but not seen, proceeding", slog.Int64("stop_oid", stopRef.OrderID))
	}

	// 4. Record.
	pos := domain.Position{
		Instrument:       req.Instrument,
		Direction:        req.Direction,
		Size:             size,
		EntryPrice:       price,
		EntryTime:        e.now(),
		StopLoss:         req.StopPrice,
		StopLossOrderRef: stopRef,
		TakeProfit:       req.TakeProfit,
		LastATR:          req.ATR,
		Phase:            domain.PhaseInactive,
		SignalID:         req.SignalID,
	}
	if err := e.store.Insert(pos); err != nil {
		return EntryResult{}, fmt.Errorf("executor: open %s: %w", req.Instrument, err)
	}
	metrics.PositionsOpen.Set(float64(e.store.Len()))
	log.InfoContext(ctx, "position opened", slog.Int64("stop_oid", stopRef.OrderID))
	e.emit(domain.EventOpened, domain.LifecycleEvent{Instrument: pos.Instrument, Position: &pos})

	return EntryResult{EntryRef: entryRef, StopRef: stopRef, Position: pos}, nil
}

// rollbackEntry flattens a filled entry that could not be protected. It
// ignores cancellation of ctx and retries a bounded number of times.
func (e *Engine) rollbackEntry(ctx context.Context, req OpenRequest, size, price float64, cause error) error {
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With(
		slog.String("instrument", req.Instrument),
		slog.String("direction", string(req.Direction)),
		slog.Float64("size", size),
	)

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RollbackAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(e.cfg.RollbackBackoff * time.Duration(attempt-1))
			if flat, err := e.exchangeFlat(ctx, req.Instrument); err == nil && flat {
				lastErr = nil
				break
			}
		}
		_, lastErr = e.submit(ctx, "rollback", e.closeIntent(req.Instrument, req.Direction, size, price))
		if lastErr == nil {
			break
		}
		log.ErrorContext(ctx, "rollback attempt failed", slog.Int("attempt", attempt), slog.String("error", lastErr.Error()))
	}

	if lastErr != nil {
		metrics.Rollbacks.WithLabelValues("failed").Inc()
		log.ErrorContext(ctx, "ROLLBACK FAILED: position open without stop, manual intervention required",
			slog.Float64("entry_price", price),
			slog.String("cause", cause.Error()),
			slog.String("error", lastErr.Error()),
		)
		e.emit(domain.EventRollbackFailed, domain.LifecycleEvent{
			Instrument: req.Instrument,
			Message:    fmt.Sprintf("%s %.8g %s unprotected after failed rollback: %v", req.Direction, size, req.Instrument, lastErr),
		})
		return fmt.Errorf("executor: open %s: %w: %w; %w: %w",
			req.Instrument, domain.ErrProtectionFailed, cause, domain.ErrRollbackFailed, lastErr)
	}

	metrics.Rollbacks.WithLabelValues("ok").Inc()
	log.WarnContext(ctx, "entry rolled back", slog.String("cause", cause.Error()))
	e.emit(domain.EventRollback, domain.LifecycleEvent{
		Instrument: req.Instrument,
		Message:    fmt.Sprintf("entry rolled back: %v", cause),
	})
	return fmt.Errorf("executor: open %s: %w: %w", req.Instrument, domain.ErrProtectionFailed, cause)
}

// exchangeFlat reports whether the exchange shows no position for instrument.
func (e *Engine) exchangeFlat(ctx context.Context, instrument string) (bool, error) {
	acct, err := e.accountState(ctx)
	if err != nil {
		return false, err
	}
	_, open := acct.Position(instrument)
	return !open, nil
}
