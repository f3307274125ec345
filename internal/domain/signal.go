package domain

import "time"

// Candle is one OHLCV bar for an instrument.
type Candle struct {
	Instrument string    `json:"instrument"`
	Interval   string    `json:"interval"`
	OpenTime   time.Time `json:"open_time"`
	CloseTime  time.Time `json:"close_time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

// Cross is the momentum indicator crossing its midpoint on one update.
type Cross int

const (
	CrossNone Cross = iota
	CrossUp
	CrossDown
)

func (c Cross) String() string {
	switch c {
	case CrossUp:
		return "up"
	case CrossDown:
		return "down"
	default:
		return "none"
	}
}

// Favors reports whether the cross points in the position's favor.
func (c Cross) Favors(d Direction) bool {
	return (c == CrossUp && d == DirectionLong) || (c == CrossDown && d == DirectionShort)
}

// Momentum is the per-update reading the trailing stop consumes.
type Momentum struct {
	Cross Cross
	ATR   float64
}

// Signal is a pending directional entry produced by the signal source.
type Signal struct {
	ID         string
	Instrument string
	Direction  Direction
	EntryPrice float64
	StopPrice  float64
	TakeProfit float64
	ATR        float64
	Reason     string
	CreatedAt  time.Time
}

// ExitKind classifies what the signal source wants done with a position.
type ExitKind string

const (
	ExitNone    ExitKind = "none"
	ExitPartial ExitKind = "partial"
	ExitFull    ExitKind = "full"
)

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseReasonSignal       CloseReason = "signal"
	CloseReasonTakeProfit   CloseReason = "take_profit"
	CloseReasonStopLoss     CloseReason = "stop_loss"
	CloseReasonTrailingStop CloseReason = "trailing_stop"
	CloseReasonEmergency    CloseReason = "emergency"
	CloseReasonManual       CloseReason = "manual"
)

// IsStopOut reports whether the close invalidated the setup and should
// start a re-entry cooldown.
func (r CloseReason) IsStopOut() bool {
	return r == CloseReasonStopLoss || r == CloseReasonTrailingStop
}
