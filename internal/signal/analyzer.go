// Package signal turns closed candles into entry signals, momentum readings
// and exit classifications using a slow stochastic and ATR.
package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

const crossEpsilon = 1e-9

// Config tunes the indicators and signal rules.
type Config struct {
	KPeriod       int
	SlowKPeriod   int
	SlowDPeriod   int
	ATRPeriod     int
	Oversold      float64
	Overbought    float64
	Midpoint      float64
	StopATR       float64
	TakeProfitATR float64
	Cooldown      time.Duration
	HistorySize   int
	// WarmupBars is how many past candles Warm fetches. Zero means
	// HistorySize.
	WarmupBars int
}

// DefaultConfig returns a 14/3/3 stochastic with 20/80 bands and ATR(14).
func DefaultConfig() Config {
	return Config{
		KPeriod:       14,
		SlowKPeriod:   3,
		SlowDPeriod:   3,
		ATRPeriod:     14,
		Oversold:      20,
		Overbought:    80,
		Midpoint:      50,
		StopATR:       2,
		TakeProfitATR: 4,
		Cooldown:      4 * time.Hour,
		HistorySize:   300,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.KPeriod <= 0 {
		c.KPeriod = d.KPeriod
	}
	if c.SlowKPeriod <= 0 {
		c.SlowKPeriod = d.SlowKPeriod
	}
	if c.SlowDPeriod <= 0 {
		c.SlowDPeriod = d.SlowDPeriod
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = d.ATRPeriod
	}
	if c.Oversold <= 0 {
		c.Oversold = d.Oversold
	}
	if c.Overbought <= 0 {
		c.Overbought = d.Overbought
	}
	if c.Midpoint <= 0 {
		c.Midpoint = d.Midpoint
	}
	if c.StopATR <= 0 {
		c.StopATR = d.StopATR
	}
	if c.HistorySize < c.minBars() {
		c.HistorySize = max(d.HistorySize, c.minBars())
	}
	return c
}

// minBars is the history needed for two valid stochastic readings and one
// ATR value.
func (c Config) minBars() int {
	return max(c.KPeriod+c.SlowKPeriod+c.SlowDPeriod-1, c.ATRPeriod+2)
}

// reading is the indicator state after one candle.
type reading struct {
	k, d float64
	atr  float64
}

// Analyzer is the signal context of one instrument. It is safe for
// concurrent use, though the runner only calls it from the instrument's own
// goroutine.
type Analyzer struct {
	instrument string
	cfg        Config

	mu            sync.Mutex
	highs         []float64
	lows          []float64
	closes        []float64
	last          time.Time
	cur, prev     reading
	ready         bool
	cooldownUntil time.Time
}

// NewAnalyzer creates an empty context for instrument.
func NewAnalyzer(instrument string, cfg Config) *Analyzer {
	return &Analyzer{instrument: instrument, cfg: cfg.withDefaults()}
}

// Update consumes a closed candle. Candles at or before the last seen open
// time are ignored.
func (a *Analyzer) Update(c domain.Candle) (*domain.Signal, domain.Momentum) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.last.IsZero() && !c.OpenTime.After(a.last) {
		return nil, domain.Momentum{ATR: a.cur.atr}
	}
	a.last = c.OpenTime
	a.push(c)
	if !a.compute() {
		return nil, domain.Momentum{}
	}

	m := domain.Momentum{Cross: a.midpointCross(), ATR: a.cur.atr}
	if a.cooling(c) {
		return nil, m
	}
	return a.entry(c), m
}

func (a *Analyzer) push(c domain.Candle) {
	a.highs = append(a.highs, c.High)
	a.lows = append(a.lows, c.Low)
	a.closes = append(a.closes, c.Close)
	if n := len(a.closes); n > a.cfg.HistorySize {
		drop := n - a.cfg.HistorySize
		a.highs = append(a.highs[:0], a.highs[drop:]...)
		a.lows = append(a.lows[:0], a.lows[drop:]...)
		a.closes = append(a.closes[:0], a.closes[drop:]...)
	}
}

// compute refreshes the readings; it reports false until enough history
// exists for a previous and a current value.
func (a *Analyzer) compute() bool {
	n := len(a.closes)
	if n < a.cfg.minBars() {
		return false
	}
	k, d := talib.Stoch(a.highs, a.lows, a.closes,
		a.cfg.KPeriod, a.cfg.SlowKPeriod, talib.SMA, a.cfg.SlowDPeriod, talib.SMA)
	atr := talib.Atr(a.highs, a.lows, a.closes, a.cfg.ATRPeriod)

	a.prev = reading{k: k[n-2], d: d[n-2], atr: atr[n-2]}
	a.cur = reading{k: k[n-1], d: d[n-1], atr: atr[n-1]}
	a.ready = true
	return true
}

func (a *Analyzer) midpointCross() domain.Cross {
	mid := a.cfg.Midpoint
	switch {
	case a.prev.k < mid && a.cur.k >= mid:
		return domain.CrossUp
	case a.prev.k > mid && a.cur.k <= mid:
		return domain.CrossDown
	default:
		return domain.CrossNone
	}
}

func (a *Analyzer) crossedUp() bool {
	return a.prev.k-a.prev.d <= crossEpsilon && a.cur.k-a.cur.d > crossEpsilon
}

func (a *Analyzer) crossedDown() bool {
	return a.prev.d-a.prev.k <= crossEpsilon && a.cur.d-a.cur.k > crossEpsilon
}

// entry returns a signal when %K crosses %D inside an extreme band.
func (a *Analyzer) entry(c domain.Candle) *domain.Signal {
	if a.cur.atr <= 0 {
		return nil
	}
	var dir domain.Direction
	switch {
	case a.crossedUp() && a.cur.k < a.cfg.Oversold && a.cur.d < a.cfg.Oversold:
		dir = domain.DirectionLong
	case a.crossedDown() && a.cur.k > a.cfg.Overbought && a.cur.d > a.cfg.Overbought:
		dir = domain.DirectionShort
	default:
		return nil
	}

	entry := c.Close
	stop := entry - dir.Sign()*a.cfg.StopATR*a.cur.atr
	if stop <= 0 {
		return nil
	}
	var tp float64
	if a.cfg.TakeProfitATR > 0 {
		tp = entry + dir.Sign()*a.cfg.TakeProfitATR*a.cur.atr
	}
	return &domain.Signal{
		ID:         fmt.Sprintf("%s-%s-%d", a.instrument, dir, c.OpenTime.UnixMilli()),
		Instrument: a.instrument,
		Direction:  dir,
		EntryPrice: entry,
		StopPrice:  stop,
		TakeProfit: tp,
		ATR:        a.cur.atr,
		Reason:     fmt.Sprintf("stoch %%K %.1f crossed %%D %.1f", a.cur.k, a.cur.d),
		CreatedAt:  c.CloseTime,
	}
}

// Exit classifies an open position against the latest reading: a reversal
// cross out of the opposite extreme is a full exit, reaching that extreme
// is a partial one.
func (a *Analyzer) Exit(p domain.Position) domain.ExitKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready {
		return domain.ExitNone
	}
	switch p.Direction {
	case domain.DirectionLong:
		if a.crossedDown() && a.prev.k >= a.cfg.Overbought {
			return domain.ExitFull
		}
		if a.cur.k >= a.cfg.Overbought && !p.PartialExitTaken {
			return domain.ExitPartial
		}
	case domain.DirectionShort:
		if a.crossedUp() && a.prev.k <= a.cfg.Oversold {
			return domain.ExitFull
		}
		if a.cur.k <= a.cfg.Oversold && !p.PartialExitTaken {
			return domain.ExitPartial
		}
	}
	return domain.ExitNone
}

// StartCooldown suppresses entries for the configured window, measured from
// the last candle seen.
func (a *Analyzer) StartCooldown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	from := a.last
	if from.IsZero() {
		from = time.Now()
	}
	a.cooldownUntil = from.Add(a.cfg.Cooldown)
}

func (a *Analyzer) cooling(c domain.Candle) bool {
	return !a.cooldownUntil.IsZero() && c.OpenTime.Before(a.cooldownUntil)
}

// ATR returns the latest ATR, or 0 before warm-up completes.
func (a *Analyzer) ATR() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cur.atr
}

// Ready reports whether enough history has been seen.
func (a *Analyzer) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}
