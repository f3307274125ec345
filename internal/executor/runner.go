package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/metrics"
)

// Analyzer is one instrument's signal context.
type Analyzer interface {
	// Update consumes a closed candle and returns an entry signal, if any,
	// together with the momentum reading for trailing.
	Update(c domain.Candle) (*domain.Signal, domain.Momentum)
	// Exit classifies what should happen to an open position.
	Exit(p domain.Position) domain.ExitKind
}

// SignalSource hands out per-instrument analyzers. Repeated calls for the
// same instrument return the same analyzer.
type SignalSource interface {
	Context(instrument string) Analyzer
}

// RiskSizer converts balance and stop distance into a USD notional and
// admits or rejects new positions.
type RiskSizer interface {
	SizeFor(balance, entryPrice, stopPrice float64) float64
	Allowed(instrument string, usdNotional, currentExposure float64, openCount int) domain.RiskDecision
}

// RunnerConfig tunes the per-instrument queues.
type RunnerConfig struct {
	QueueSize       int
	DedupTTL        time.Duration
	CleanupInterval time.Duration
}

// Runner routes market updates to one goroutine per instrument, so updates
// for an instrument are handled one at a time in arrival order while
// different instruments proceed concurrently.
type Runner struct {
	engine *Engine
	source SignalSource
	sizer  RiskSizer
	dedup  *Dedup
	cfg    RunnerConfig
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	queues  map[string]chan domain.Candle
	wg      sync.WaitGroup
	stopped bool
	started chan struct{}
}

// NewRunner creates a Runner. Run must be called before Submit.
func NewRunner(engine *Engine, source SignalSource, sizer RiskSizer, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	return &Runner{
		engine:  engine,
		source:  source,
		sizer:   sizer,
		dedup:   NewDedup(cfg.DedupTTL),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "runner")),
		queues:  make(map[string]chan domain.Candle),
		started: make(chan struct{}),
	}
}

// Started is closed once Run accepts updates.
func (r *Runner) Started() <-chan struct{} { return r.started }

// Run accepts updates until ctx is cancelled, then waits for the handler
// in flight on each instrument to finish. Queued updates are discarded.
// It refuses to start before reconciliation and must be called once.
func (r *Runner) Run(ctx context.Context) error {
	if !r.engine.Reconciled() {
		return fmt.Errorf("executor: runner: %w", domain.ErrNotReconciled)
	}
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	close(r.started)

	r.logger.Info("runner started")
	defer r.logger.Info("runner stopped")

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.stopped = true
			r.mu.Unlock()
			r.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			r.dedup.Cleanup()
		}
	}
}

// Submit enqueues a closed candle for its instrument, blocking while the
// instrument's queue is full.
func (r *Runner) Submit(ctx context.Context, c domain.Candle) error {
	q, err := r.queue(c.Instrument)
	if err != nil {
		return err
	}
	select {
	case q <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queue returns instrument's candle queue, starting its worker on first use.
func (r *Runner) queue(instrument string) (chan domain.Candle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return nil, errors.New("executor: runner not started")
	}
	if r.stopped {
		return nil, errors.New("executor: runner stopped")
	}
	q, ok := r.queues[instrument]
	if !ok {
		q = make(chan domain.Candle, r.cfg.QueueSize)
		r.queues[instrument] = q
		an := r.source.Context(instrument)
		r.wg.Add(1)
		go r.worker(r.ctx, instrument, an, q)
	}
	return q, nil
}

// worker drains one instrument's queue until ctx ends.
func (r *Runner) worker(ctx context.Context, instrument string, an Analyzer, q <-chan domain.Candle) {
	defer r.wg.Done()
	log := r.logger.With(slog.String("instrument", instrument))
	log.Debug("instrument worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-q:
			if err := r.process(ctx, an, c); err != nil && !errors.Is(err, context.Canceled) {
				log.WarnContext(ctx, "update handling failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Process handles one closed candle synchronously on the caller's
// goroutine, bypassing the per-instrument queues. It is the path for tests
// and offline tools; live candles go through Submit so that each
// instrument stays serialized.
func (r *Runner) Process(ctx context.Context, c domain.Candle) error {
	return r.process(ctx, r.source.Context(c.Instrument), c)
}

// process runs exit logic, then trailing, then entry for one update.
func (r *Runner) process(ctx context.Context, an Analyzer, c domain.Candle) error {
	start := time.Now()
	defer func() { metrics.UpdateSeconds.Observe(time.Since(start).Seconds()) }()

	sig, mom := an.Update(c)
	price := c.Close

	e := r.engine
	defer e.lock(c.Instrument)()
	return e.guard(ctx, c.Instrument, price, func() error {
		if pos, ok := e.store.Get(c.Instrument); ok {
			return r.manage(ctx, an, pos, c, mom)
		}
		if sig != nil {
			return r.enter(ctx, *sig)
		}
		return nil
	})
}

// manage applies stop, exit and trailing checks to an open position. The
// instrument lock is held by process.
func (r *Runner) manage(ctx context.Context, an Analyzer, pos domain.Position, c domain.Candle, mom domain.Momentum) error {
	e := r.engine
	price := c.Close

	if pos.ProtectionSuspect {
		e.fallbackCheck(ctx, pos.Instrument, price)
		var ok bool
		if pos, ok = e.store.Get(pos.Instrument); !ok {
			return nil
		}
	}

	extreme := c.Low
	if pos.Direction == domain.DirectionShort {
		extreme = c.High
	}
	if extreme <= 0 {
		extreme = price
	}
	if pos.Breached(extreme) {
		return e.settleStopBreach(ctx, pos, price)
	}

	switch an.Exit(pos) {
	case domain.ExitFull:
		_, err := e.closePosition(ctx, pos.Instrument, price, domain.CloseReasonSignal)
		return err
	case domain.ExitPartial:
		if _, err := e.partialExit(ctx, pos.Instrument, price); err != nil {
			r.logger.WarnContext(ctx, "partial exit failed", slog.String("instrument", pos.Instrument), slog.String("error", err.Error()))
		}
	}

	pos, ok := e.store.Get(pos.Instrument)
	if !ok {
		return nil
	}
	if pos.TakeProfitReached(price) {
		_, err := e.closePosition(ctx, pos.Instrument, price, domain.CloseReasonTakeProfit)
		return err
	}
	return e.advanceTrailingStop(ctx, pos.Instrument, price, mom)
}

// enter sizes a signal against the account and opens the position unless
// the signal was already handled.
func (r *Runner) enter(ctx context.Context, sig domain.Signal) error {
	if r.dedup.IsDuplicate(sig.ID) {
		r.logger.DebugContext(ctx, "signal already handled", slog.String("signal_id", sig.ID))
		return nil
	}
	log := r.logger.With(
		slog.String("instrument", sig.Instrument),
		slog.String("signal_id", sig.ID),
		slog.String("direction", string(sig.Direction)),
	)

	acct, err := r.engine.accountState(ctx)
	if err != nil {
		return fmt.Errorf("executor: enter %s: account state: %w", sig.Instrument, err)
	}
	usd := r.sizer.SizeFor(acct.AccountValue, sig.EntryPrice, sig.StopPrice)
	if usd <= 0 {
		log.InfoContext(ctx, "signal rejected by sizer", slog.Float64("balance", acct.AccountValue))
		return nil
	}
	store := r.engine.store
	if d := r.sizer.Allowed(sig.Instrument, usd, store.Exposure(), store.Len()); !d.OK {
		log.InfoContext(ctx, "signal rejected by risk", slog.String("reason", d.Reason), slog.Float64("usd", usd))
		return nil
	}

	_, err = r.engine.openPosition(ctx, OpenRequest{
		Instrument: sig.Instrument,
		Direction:  sig.Direction,
		Size:       usd / sig.EntryPrice,
		EntryPrice: sig.EntryPrice,
		StopPrice:  sig.StopPrice,
		TakeProfit: sig.TakeProfit,
		ATR:        sig.ATR,
		SignalID:   sig.ID,
	})
	return err
}
