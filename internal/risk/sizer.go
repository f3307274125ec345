// Package risk sizes new positions from account balance and stop distance
// and admits or rejects them against exposure limits.
package risk

import (
	"fmt"
	"math"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/executor"
)

var _ executor.RiskSizer = (*Sizer)(nil)

// Policy holds the sizing and admission limits.
type Policy struct {
	// RiskPct is the fraction of balance lost if the stop is hit.
	RiskPct float64
	// MaxLeverage caps notional at balance times this factor.
	MaxLeverage float64
	// MinNotional is the smallest order the exchange accepts, in USD.
	MinNotional float64
	// MaxPositions limits concurrently open positions.
	MaxPositions int
	// MaxExposure caps the summed notional of open positions, in USD.
	// Zero disables the check.
	MaxExposure float64
}

// DefaultPolicy risks 1% per trade at up to 5x with three positions.
func DefaultPolicy() Policy {
	return Policy{
		RiskPct:      0.01,
		MaxLeverage:  5,
		MinNotional:  10,
		MaxPositions: 3,
	}
}

// Sizer implements fixed-fractional sizing.
type Sizer struct {
	p Policy
}

// NewSizer creates a Sizer. Zero fields fall back to DefaultPolicy.
func NewSizer(p Policy) *Sizer {
	d := DefaultPolicy()
	if p.RiskPct <= 0 {
		p.RiskPct = d.RiskPct
	}
	if p.MaxLeverage <= 0 {
		p.MaxLeverage = d.MaxLeverage
	}
	if p.MinNotional <= 0 {
		p.MinNotional = d.MinNotional
	}
	if p.MaxPositions <= 0 {
		p.MaxPositions = d.MaxPositions
	}
	return &Sizer{p: p}
}

// SizeFor returns the USD notional that loses RiskPct of balance at the
// stop, capped by leverage. It returns 0 when no valid size exists.
func (s *Sizer) SizeFor(balance, entryPrice, stopPrice float64) float64 {
	if balance <= 0 || entryPrice <= 0 || stopPrice <= 0 {
		return 0
	}
	stopPct := math.Abs(entryPrice-stopPrice) / entryPrice
	if stopPct == 0 {
		return 0
	}
	usd := balance * s.p.RiskPct / stopPct
	usd = math.Min(usd, balance*s.p.MaxLeverage)
	if usd < s.p.MinNotional {
		return 0
	}
	return usd
}

// Allowed checks a new position of usdNotional against the open book.
func (s *Sizer) Allowed(instrument string, usdNotional, currentExposure float64, openCount int) domain.RiskDecision {
	switch {
	case usdNotional < s.p.MinNotional:
		return domain.RiskDecision{Reason: fmt.Sprintf("%s notional %.2f below minimum %.2f", instrument, usdNotional, s.p.MinNotional)}
	case openCount >= s.p.MaxPositions:
		return domain.RiskDecision{Reason: fmt.Sprintf("open positions %d >= max %d", openCount, s.p.MaxPositions)}
	case s.p.MaxExposure > 0 && currentExposure+usdNotional > s.p.MaxExposure:
		return domain.RiskDecision{Reason: fmt.Sprintf("exposure %.2f + %.2f exceeds max %.2f", currentExposure, usdNotional, s.p.MaxExposure)}
	}
	return domain.RiskDecision{OK: true}
}

// PlannedRisk is the USD loss of a position of usdNotional stopped at stop.
func PlannedRisk(usdNotional, entryPrice, stopPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	return usdNotional * math.Abs(entryPrice-stopPrice) / entryPrice
}
