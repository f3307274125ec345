// Package executor drives the position lifecycle against the exchange: the
// atomic entry with its protective stop, the trailing-stop state machine,
// partial exits, full closes, the emergency fallback and startup
// reconciliation. Every mutation of a position happens while the
// instrument's lock is held.
package executor

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/position"
)

// Gateway is the subset of the exchange the engine needs.
type Gateway interface {
	PlaceOrders(ctx context.Context, orders []domain.OrderIntent, grouping domain.Grouping) (domain.OrderResult, error)
	CancelOrders(ctx context.Context, refs []domain.CancelRef) (domain.CancelResult, error)
	OpenOrders(ctx context.Context, account string) ([]domain.OpenOrder, error)
	AccountState(ctx context.Context, account string) (domain.AccountState, error)
}

// Cooldowns receives a notification when a position is stopped out.
type Cooldowns interface {
	StartCooldown(instrument string)
}

// Emitter publishes lifecycle events. Emit must not block.
type Emitter interface {
	Emit(event string, payload domain.LifecycleEvent)
}

// Config tunes the engine. Zero values are replaced by DefaultConfig.
type Config struct {
	// Account is the address whose positions and orders are managed.
	Account string
	// EntryTimeout bounds the entry order round trip.
	EntryTimeout time.Duration
	// VerifyTimeout bounds read-only exchange queries.
	VerifyTimeout time.Duration
	// Slippage is the fractional price allowance for market-style orders.
	Slippage float64
	// TrailATRMultiplier sets the trailing distance in ATRs.
	TrailATRMultiplier float64
	// Deadband is the minimum relative stop move worth a replacement.
	Deadband float64
	// RollbackAttempts is how many times a compensating close is tried.
	RollbackAttempts int
	// RollbackBackoff is the pause between rollback attempts.
	RollbackBackoff time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		EntryTimeout:       10 * time.Second,
		VerifyTimeout:      10 * time.Second,
		Slippage:           0.05,
		TrailATRMultiplier: 1.5,
		Deadband:           0.001,
		RollbackAttempts:   3,
		RollbackBackoff:    time.Second,
	}
}

// withDefaults fills every unset field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EntryTimeout <= 0 {
		c.EntryTimeout = d.EntryTimeout
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = d.VerifyTimeout
	}
	if c.Slippage <= 0 {
		c.Slippage = d.Slippage
	}
	if c.TrailATRMultiplier <= 0 {
		c.TrailATRMultiplier = d.TrailATRMultiplier
	}
	if c.Deadband <= 0 {
		c.Deadband = d.Deadband
	}
	if c.RollbackAttempts <= 0 {
		c.RollbackAttempts = d.RollbackAttempts
	}
	if c.RollbackBackoff < 0 {
		c.RollbackBackoff = 0
	}
	return c
}

// Engine owns the position store and every order that changes it.
type Engine struct {
	cfg       Config
	gw        Gateway
	store     *position.Store
	cooldowns Cooldowns
	emitter   Emitter
	locks     *keyedMutex
	logger    *slog.Logger

	reconciled atomic.Bool

	now      func() time.Time
	clientID func() string
}

// NewEngine wires an engine. cooldowns and emitter may be nil.
func NewEngine(cfg Config, gw Gateway, store *position.Store, cooldowns Cooldowns, emitter Emitter, logger *slog.Logger) *Engine {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Engine{
		cfg:       cfg.withDefaults(),
		gw:        gw,
		store:     store,
		cooldowns: cooldowns,
		emitter:   emitter,
		locks:     newKeyedMutex(),
		logger:    logger.With(slog.String("component", "executor")),
		now:       func() time.Time { return time.Now().UTC() },
		clientID:  newClientID,
	}
}

// ListPositions returns a snapshot of every open position.
func (e *Engine) ListPositions() []domain.Position {
	return e.store.List()
}

// Position returns a copy of the open position for instrument.
func (e *Engine) Position(instrument string) (domain.Position, bool) {
	return e.store.Get(instrument)
}

// OpenCount is the number of open positions.
func (e *Engine) OpenCount() int { return e.store.Len() }

// Reconciled reports whether startup reconciliation has completed.
func (e *Engine) Reconciled() bool { return e.reconciled.Load() }

// lock serializes all work on one instrument.
func (e *Engine) lock(instrument string) func() {
	return e.locks.Lock(instrument)
}

// guard runs fn and converts a panic into an error after checking that the
// instrument still has a resting stop.
func (e *Engine) guard(ctx context.Context, instrument string, price float64, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "panic while handling instrument",
				slog.String("instrument", instrument),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("executor: %s: panic: %v", instrument, r)
			e.fallbackCheck(ctx, instrument, price)
		}
	}()
	return fn()
}

func (e *Engine) emit(event string, ev domain.LifecycleEvent) {
	ev.Event = event
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.emitter.Emit(event, ev)
}

// accountState queries the account, bounded by VerifyTimeout.
func (e *Engine) accountState(ctx context.Context) (domain.AccountState, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.VerifyTimeout)
	defer cancel()
	return e.gw.AccountState(qctx, e.cfg.Account)
}

// openOrders lists the account's resting orders, bounded by VerifyTimeout.
func (e *Engine) openOrders(ctx context.Context) ([]domain.OpenOrder, error) {
	qctx, cancel := context.WithTimeout(ctx, e.cfg.VerifyTimeout)
	defer cancel()
	return e.gw.OpenOrders(qctx, e.cfg.Account)
}

// AccountState exposes the bounded account query to the runner.
func (e *Engine) AccountState(ctx context.Context) (domain.AccountState, error) {
	return e.accountState(ctx)
}

// newClientID returns a 128-bit client order id in the exchange's hex form.
func newClientID() string {
	u := uuid.New()
	return "0x" + hex.EncodeToString(u[:])
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, domain.LifecycleEvent) {}

// keyedMutex hands out one mutex per key. Entries are never removed; the set
// of instruments is small and fixed for the life of the process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until key is held and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
