package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/winder87-stack/SuperSignal-sub000/internal/cache/redis"
	"github.com/winder87-stack/SuperSignal-sub000/internal/config"
	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/executor"
	"github.com/winder87-stack/SuperSignal-sub000/internal/feed"
	"github.com/winder87-stack/SuperSignal-sub000/internal/notify"
	"github.com/winder87-stack/SuperSignal-sub000/internal/platform/hyperliquid"
	"github.com/winder87-stack/SuperSignal-sub000/internal/position"
	"github.com/winder87-stack/SuperSignal-sub000/internal/risk"
	"github.com/winder87-stack/SuperSignal-sub000/internal/server"
	"github.com/winder87-stack/SuperSignal-sub000/internal/server/handler"
	"github.com/winder87-stack/SuperSignal-sub000/internal/server/ws"
	"github.com/winder87-stack/SuperSignal-sub000/internal/signal"
)

// engineStack is the engine together with what feeds and observes it.
type engineStack struct {
	engine  *executor.Engine
	source  *signal.Source
	runner  *executor.Runner
	emitter *notify.Emitter
	hub     *ws.Hub
}

// buildEngine assembles the engine, its signal source, runner and the
// event sinks available in deps.
func (a *App) buildEngine(deps *Dependencies) *engineStack {
	sinks := []notify.Sink{notify.NewLogSink(a.logger), deps.Notifier}
	if deps.SignalBus != nil {
		sinks = append(sinks, notify.NewBusSink(deps.SignalBus))
	}
	if deps.AuditStore != nil {
		sinks = append(sinks, notify.NewAuditSink(deps.AuditStore))
	}
	if deps.TradeStore != nil {
		sinks = append(sinks, notify.NewTradeSink(deps.TradeStore))
	}
	if deps.PositionSnapshot != nil {
		sinks = append(sinks, deps.PositionSnapshot)
	}
	emitter := notify.NewEmitter(a.cfg.Engine.EventQueueSize, a.logger, sinks...)

	source := signal.NewSource(signalConfig(a.cfg.Signal), a.logger)
	engine := executor.NewEngine(engineConfig(a.cfg.Engine, deps.Account), deps.Gateway, position.NewStore(), source, emitter, a.logger)
	runner := executor.NewRunner(engine, source, risk.NewSizer(riskPolicy(a.cfg.Risk)), executor.RunnerConfig{
		QueueSize: a.cfg.Engine.QueueSize,
		DedupTTL:  a.cfg.Engine.DedupTTL.Duration,
	}, a.logger)

	st := &engineStack{engine: engine, source: source, runner: runner, emitter: emitter}
	if a.cfg.Server.Enabled {
		st.hub = ws.NewHub(engine, a.cfg.Server.CORSOrigins, a.logger)
		emitter.AddSink(st.hub)
	}
	return st
}

// TradeMode runs the engine live (trade) or against the paper gateway
// (paper): account lock, reconciliation, indicator warm-up, then the candle
// feed, runner, event delivery, HTTP API and archiver until ctx ends.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("mode", a.cfg.Mode),
		slog.String("account", deps.Account),
	)

	var lease domain.Lease
	if deps.LockManager != nil {
		var err error
		lease, err = deps.LockManager.Acquire(ctx, accountLockKey(deps.Account), a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: account lock: %w", err)
		}
		defer lease.Release()
	}

	st := a.buildEngine(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return st.emitter.Run(ctx)
	})

	if lease != nil {
		g.Go(func() error {
			if err := redis.Hold(ctx, lease, a.cfg.Redis.LockTTL.Duration); err != nil && ctx.Err() == nil {
				return fmt.Errorf("app: account lock: %w", err)
			}
			return nil
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, st)
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			a.runArchiver(ctx, deps)
			return nil
		})
	}

	candleFeed := hyperliquid.NewCandleFeed(
		hyperliquid.WSURL(a.cfg.Exchange.BaseURL),
		a.cfg.Exchange.Instruments,
		a.cfg.Exchange.Interval,
		a.logger,
	)

	// The engine goroutine reconciles before anything trades; the feed
	// starts only once the runner accepts candles.
	g.Go(func() error {
		if err := a.prepare(ctx, deps, st); err != nil {
			return err
		}
		g.Go(func() error {
			return candleFeed.Run(ctx)
		})
		return st.runner.Run(ctx)
	})

	var observers []feed.Observer
	if deps.Paper != nil {
		observers = append(observers, func(c domain.Candle) { deps.Paper.OnCandle(c) })
	}
	router := feed.NewRouter(candleFeed.Candles(), st.runner, deps.SignalBus, a.logger, observers...)
	g.Go(func() error {
		select {
		case <-st.runner.Started():
		case <-ctx.Done():
			return nil
		}
		return router.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// prepare reconciles with the exchange, refreshes the position snapshot and
// warms every instrument's indicators.
func (a *App) prepare(ctx context.Context, deps *Dependencies, st *engineStack) error {
	if err := st.engine.ReconcileFromExchange(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if deps.PositionSnapshot != nil {
		if err := deps.PositionSnapshot.Reset(ctx, st.engine.ListPositions()); err != nil {
			a.logger.WarnContext(ctx, "position snapshot reset failed", slog.String("error", err.Error()))
		}
	}

	now := time.Now().UTC()
	for _, inst := range a.cfg.Exchange.Instruments {
		if err := st.source.Warm(ctx, deps.Exchange, inst, a.cfg.Exchange.Interval, now); err != nil {
			// Warm-up only shortens the wait for valid indicators; live
			// candles fill the history either way.
			a.logger.WarnContext(ctx, "indicator warm-up failed",
				slog.String("instrument", inst),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// ReconcileMode adopts the account's open positions, prints them as JSON and
// returns. Lifecycle events raised during reconciliation are delivered
// before it returns.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode", slog.String("account", deps.Account))

	st := a.buildEngine(deps)

	emitCtx, stopEmitter := context.WithCancel(ctx)
	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		_ = st.emitter.Run(emitCtx)
	}()
	defer func() {
		stopEmitter()
		<-emitDone
	}()

	if err := st.engine.ReconcileFromExchange(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	positions := st.engine.ListPositions()
	if deps.PositionSnapshot != nil {
		if err := deps.PositionSnapshot.Reset(ctx, positions); err != nil {
			a.logger.WarnContext(ctx, "position snapshot reset failed", slog.String("error", err.Error()))
		}
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"account":   deps.Account,
		"positions": positions,
	}); err != nil {
		return fmt.Errorf("app: write positions: %w", err)
	}
	return nil
}

// startHTTPServer runs the hub and the API server inside g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, st *engineStack) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, st.engine, deps.Checks, a.logger),
		Positions: handler.NewPositionHandler(st.engine, deps.Prices, a.logger),
	}
	if deps.TradeStore != nil {
		handlers.Trades = handler.NewTradeHandler(deps.TradeStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Addr:            a.cfg.Server.Addr,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		DisableMetrics:  !a.cfg.Metrics.Enabled,
	}, handlers, st.hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := st.hub.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
}

// runArchiver moves closed trades older than the retention period to the
// archive every ArchiveInterval, starting immediately.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) {
	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
	interval := a.cfg.S3.ArchiveInterval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	a.logger.InfoContext(ctx, "archiver started",
		slog.Int("retention_days", a.cfg.S3.RetentionDays),
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		cutoff := time.Now().UTC().Add(-retention)
		if _, err := deps.Archiver.ArchiveTrades(ctx, cutoff); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive run failed",
				slog.Time("cutoff", cutoff),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func accountLockKey(account string) string {
	return "lock:account:" + strings.ToLower(account)
}

func engineConfig(c config.EngineConfig, account string) executor.Config {
	return executor.Config{
		Account:            account,
		EntryTimeout:       c.EntryTimeout.Duration,
		VerifyTimeout:      c.VerifyTimeout.Duration,
		Slippage:           c.Slippage,
		TrailATRMultiplier: c.TrailATRMultiplier,
		Deadband:           c.Deadband,
		RollbackAttempts:   c.RollbackAttempts,
		RollbackBackoff:    c.RollbackBackoff.Duration,
	}
}

func signalConfig(c config.SignalConfig) signal.Config {
	return signal.Config{
		KPeriod:       c.KPeriod,
		SlowKPeriod:   c.SlowKPeriod,
		SlowDPeriod:   c.SlowDPeriod,
		ATRPeriod:     c.ATRPeriod,
		Oversold:      c.Oversold,
		Overbought:    c.Overbought,
		Midpoint:      c.Midpoint,
		StopATR:       c.StopATR,
		TakeProfitATR: c.TakeProfitATR,
		Cooldown:      c.Cooldown.Duration,
		HistorySize:   c.HistorySize,
		WarmupBars:    c.WarmupBars,
	}
}

func riskPolicy(c config.RiskConfig) risk.Policy {
	return risk.Policy{
		RiskPct:      c.RiskPct,
		MaxLeverage:  c.MaxLeverage,
		MinNotional:  c.MinNotional,
		MaxPositions: c.MaxPositions,
		MaxExposure:  c.MaxExposure,
	}
}
