package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/executor"
)

var (
	_ executor.SignalSource = (*Source)(nil)
	_ executor.Cooldowns    = (*Source)(nil)
)

// HistoryFetcher loads past candles for warm-up.
type HistoryFetcher interface {
	Candles(ctx context.Context, instrument, interval string, start, end time.Time) ([]domain.Candle, error)
}

// Source owns one Analyzer per instrument.
type Source struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	analyzers map[string]*Analyzer
}

// NewSource creates an empty Source.
func NewSource(cfg Config, logger *slog.Logger) *Source {
	return &Source{
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "signal")),
		analyzers: make(map[string]*Analyzer),
	}
}

// Context returns the analyzer of instrument, creating it on first use.
func (s *Source) Context(instrument string) executor.Analyzer {
	return s.analyzer(instrument)
}

func (s *Source) analyzer(instrument string) *Analyzer {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyzers[instrument]
	if !ok {
		a = NewAnalyzer(instrument, s.cfg)
		s.analyzers[instrument] = a
	}
	return a
}

// StartCooldown blocks new entries on instrument after a stop-out.
func (s *Source) StartCooldown(instrument string) {
	s.analyzer(instrument).StartCooldown()
	s.logger.Info("cooldown started",
		slog.String("instrument", instrument),
		slog.Duration("duration", s.cfg.Cooldown),
	)
}

// Warm feeds history so the first live candle already has valid
// indicators. Signals produced during warm-up are discarded.
func (s *Source) Warm(ctx context.Context, f HistoryFetcher, instrument, interval string, now time.Time) error {
	step, err := ParseInterval(interval)
	if err != nil {
		return err
	}
	bars := s.cfg.WarmupBars
	if bars <= 0 || bars > s.cfg.HistorySize {
		bars = s.cfg.HistorySize
	}
	start := now.Add(-time.Duration(bars) * step)
	candles, err := f.Candles(ctx, instrument, interval, start, now)
	if err != nil {
		return fmt.Errorf("signal: warm %s: %w", instrument, err)
	}
	a := s.analyzer(instrument)
	for _, c := range candles {
		// The last candle may still be forming.
		if c.CloseTime.After(now) {
			continue
		}
		a.Update(c)
	}
	s.logger.InfoContext(ctx, "analyzer warmed",
		slog.String("instrument", instrument),
		slog.Int("candles", len(candles)),
		slog.Bool("ready", a.Ready()),
	)
	return nil
}

// ParseInterval converts an exchange candle interval ("1m", "15m", "1h",
// "4h", "1d") to a duration.
func ParseInterval(interval string) (time.Duration, error) {
	if n := len(interval); n > 1 && interval[n-1] == 'd' {
		d, err := time.ParseDuration(interval[:n-1] + "h")
		if err != nil {
			return 0, fmt.Errorf("signal: interval %q: %w", interval, err)
		}
		return d * 24, nil
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("signal: invalid interval %q", interval)
	}
	return d, nil
}
