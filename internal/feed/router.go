// Package feed routes closed candles from the market data stream to the
// runner.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/metrics"
)

// CandlesChannel is the bus channel closed candles are republished on.
const CandlesChannel = "supersignal:candles"

// Submitter accepts closed candles. The executor's Runner implements it.
type Submitter interface {
	Submit(ctx context.Context, c domain.Candle) error
}

// Observer sees every candle before it is submitted.
type Observer func(c domain.Candle)

// Router reads candles from a feed and hands them to the runner. The bus is
// optional; when set, each candle is also published as JSON.
type Router struct {
	candles   <-chan domain.Candle
	submit    Submitter
	observers []Observer
	bus       domain.SignalBus
	logger    *slog.Logger
}

// NewRouter creates a Router. bus may be nil.
func NewRouter(candles <-chan domain.Candle, submit Submitter, bus domain.SignalBus, logger *slog.Logger, observers ...Observer) *Router {
	return &Router{
		candles:   candles,
		submit:    submit,
		observers: observers,
		bus:       bus,
		logger:    logger.With(slog.String("component", "candle_router")),
	}
}

// Run routes candles until ctx is cancelled or the feed channel closes.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("candle router started")
	defer r.logger.Info("candle router stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-r.candles:
			if !ok {
				return nil
			}
			if err := r.route(ctx, c); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}
	}
}

func (r *Router) route(ctx context.Context, c domain.Candle) error {
	metrics.Candles.WithLabelValues(c.Instrument).Inc()
	for _, obs := range r.observers {
		obs(c)
	}
	if err := r.submit.Submit(ctx, c); err != nil {
		return err
	}
	if r.bus != nil {
		r.publish(ctx, c)
	}
	return nil
}

func (r *Router) publish(ctx context.Context, c domain.Candle) {
	payload, err := json.Marshal(c)
	if err != nil {
		r.logger.Debug("marshal candle failed", slog.String("error", err.Error()))
		return
	}
	if err := r.bus.Publish(ctx, CandlesChannel, payload); err != nil {
		r.logger.Debug("publish candle failed",
			slog.String("instrument", c.Instrument),
			slog.String("error", err.Error()),
		)
	}
}
