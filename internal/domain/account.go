package domain

import (
	"math"
	"time"
)

// ExchangePosition is a position as reported by the exchange. Size is signed:
// positive for long, negative for short.
type ExchangePosition struct {
	Instrument       string  `json:"instrument"`
	Size             float64 `json:"size"`
	EntryPrice       float64 `json:"entry_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	Leverage         float64 `json:"leverage"`
	LiquidationPrice float64 `json:"liquidation_price"`
}

// Direction derives the side from the sign of Size.
func (p ExchangePosition) Direction() Direction {
	if p.Size < 0 {
		return DirectionShort
	}
	return DirectionLong
}

// AbsSize returns the unsigned position size.
func (p ExchangePosition) AbsSize() float64 { return math.Abs(p.Size) }

// AccountState is the exchange's view of the trading account.
type AccountState struct {
	AccountValue float64            `json:"account_value"`
	Withdrawable float64            `json:"withdrawable"`
	MarginUsed   float64            `json:"margin_used"`
	Positions    []ExchangePosition `json:"positions"`
	Time         time.Time          `json:"time"`
}

// Position looks up the non-zero exchange position for instrument.
func (a AccountState) Position(instrument string) (ExchangePosition, bool) {
	for _, p := range a.Positions {
		if p.Instrument == instrument && p.Size != 0 {
			return p, true
		}
	}
	return ExchangePosition{}, false
}

// Exposure sums the absolute notional of all reported positions at entry.
func (a AccountState) Exposure() float64 {
	var total float64
	for _, p := range a.Positions {
		total += math.Abs(p.Size * p.EntryPrice)
	}
	return total
}
