package domain

import (
	"math"
	"time"
)

// Direction is the side of an open position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Valid reports whether d is long or short.
func (d Direction) Valid() bool { return d == DirectionLong || d == DirectionShort }

// EntrySide is the order side that opens a position in this direction.
func (d Direction) EntrySide() OrderSide {
	if d == DirectionLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

// ExitSide is the order side that reduces a position in this direction.
func (d Direction) ExitSide() OrderSide { return d.EntrySide().Opposite() }

// Sign is +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == DirectionLong {
		return 1
	}
	return -1
}

// Phase is the trailing-stop lifecycle state of a position.
type Phase string

const (
	// PhaseInactive: the stop rests at its initial level.
	PhaseInactive Phase = "inactive"
	// PhaseActivating: the stop was moved to break-even and trailing is armed.
	PhaseActivating Phase = "activating"
	// PhaseTrailing: the stop follows price at an ATR distance.
	PhaseTrailing Phase = "trailing"
)

// Position is one open position per instrument. While open it is owned by
// the execution engine; everything else sees copies.
type Position struct {
	Instrument       string    `json:"instrument"`
	Direction        Direction `json:"direction"`
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entry_price"`
	EntryTime        time.Time `json:"entry_time"`
	StopLoss         float64   `json:"stop_loss"`
	StopLossOrderRef OrderRef  `json:"stop_loss_order_ref"`
	TakeProfit       float64   `json:"take_profit"`

	TrailingStop      float64 `json:"trailing_stop"`
	TrailingActivated bool    `json:"trailing_activated"`
	BreakEvenReached  bool    `json:"break_even_reached"`
	LastATR           float64 `json:"last_atr"`
	Phase             Phase   `json:"phase"`

	PartialExitTaken  bool    `json:"partial_exit_taken"`
	RealizedPnL       float64 `json:"realized_pnl"`
	ProtectionSuspect bool    `json:"protection_suspect"`
	SignalID          string  `json:"signal_id"`
}

// ProtectivePrice is the trigger price the resting stop should carry.
func (p Position) ProtectivePrice() float64 {
	if p.TrailingStop > 0 {
		return p.TrailingStop
	}
	return p.StopLoss
}

// PnL returns the profit of closing size units at exit.
func (p Position) PnL(exit, size float64) float64 {
	return (exit - p.EntryPrice) * size * p.Direction.Sign()
}

// Tightens reports whether moving the stop to candidate reduces risk.
func (p Position) Tightens(candidate float64) bool {
	cur := p.ProtectivePrice()
	if p.Direction == DirectionLong {
		return candidate > cur
	}
	return candidate < cur
}

// Breached reports whether price has traded through the protective stop.
func (p Position) Breached(price float64) bool {
	stop := p.ProtectivePrice()
	if stop <= 0 {
		return false
	}
	if p.Direction == DirectionLong {
		return price <= stop
	}
	return price >= stop
}

// TakeProfitReached reports whether price reached the take-profit target.
func (p Position) TakeProfitReached(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Direction == DirectionLong {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

// InProfit reports whether price is beyond entry in the favorable direction.
func (p Position) InProfit(price float64) bool {
	return (price-p.EntryPrice)*p.Direction.Sign() > 0
}

// Notional is the position's USD exposure at entry.
func (p Position) Notional() float64 {
	return math.Abs(p.Size * p.EntryPrice)
}
