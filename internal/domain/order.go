package domain

import (
	"strings"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// IsBuy reports whether the side is a buy.
func (s OrderSide) IsBuy() bool { return s == OrderSideBuy }

// TimeInForce is the limit-order time-in-force policy.
type TimeInForce string

const (
	TIFImmediateOrCancel TimeInForce = "Ioc"
	TIFGoodTillCancel    TimeInForce = "Gtc"
	TIFAddLiquidityOnly  TimeInForce = "Alo"
)

// TriggerKind distinguishes stop-loss from take-profit triggers.
type TriggerKind string

const (
	TriggerStopLoss   TriggerKind = "sl"
	TriggerTakeProfit TriggerKind = "tp"
)

// Grouping controls how the exchange links orders submitted together.
type Grouping string

const (
	GroupingNone         Grouping = "na"
	GroupingNormalTpsl   Grouping = "normalTpsl"
	GroupingPositionTpsl Grouping = "positionTpsl"
)

// Trigger holds the trigger semantics of a conditional order.
type Trigger struct {
	Price    float64
	IsMarket bool
	Kind     TriggerKind
}

// OrderIntent describes a single order about to be submitted. It is never
// stored; it is always derived from a Position plus a target price.
type OrderIntent struct {
	Instrument string
	Side       OrderSide
	// Price is the limit price. For market-style orders it is the worst
	// acceptable execution price.
	Price      float64
	Size       float64
	ReduceOnly bool
	TIF        TimeInForce
	Trigger    *Trigger
	ClientID   string
}

// IsTrigger reports whether the intent rests until a trigger price is hit.
func (o OrderIntent) IsTrigger() bool { return o.Trigger != nil }

// OrderRef identifies a resting order. Either field may be empty: the
// exchange id is known once the order was acknowledged, the client id is
// known from the moment the intent was built.
type OrderRef struct {
	OrderID  int64  `json:"oid,omitempty"`
	ClientID string `json:"cloid,omitempty"`
}

// IsZero reports whether the reference identifies nothing.
func (r OrderRef) IsZero() bool { return r.OrderID == 0 && r.ClientID == "" }

// HasOrderID reports whether the exchange acknowledged the order with an id.
func (r OrderRef) HasOrderID() bool { return r.OrderID != 0 }

// Matches reports whether an open order is the one this ref points to.
func (r OrderRef) Matches(o OpenOrder) bool {
	if r.OrderID != 0 && o.OrderID == r.OrderID {
		return true
	}
	return r.ClientID != "" && strings.EqualFold(o.ClientID, r.ClientID)
}

// OrderStatus is the per-order outcome inside an OrderResult.
type OrderStatus struct {
	Resting    bool
	Filled     bool
	OrderID    int64
	FilledSize float64
	AvgPrice   float64
	Error      string
}

// OrderResult is the gateway's tagged answer to an order submission.
// Status is "ok" or "err"; a transport failure is reported as a Go error
// instead and never produces an OrderResult.
type OrderResult struct {
	Status   string
	Message  string
	Statuses []OrderStatus
}

// Err converts a business rejection into a RejectionError. It returns nil
// when the submission was accepted and the first order has no error.
func (r OrderResult) Err(op string) error {
	if r.Status != "ok" {
		msg := r.Message
		if msg == "" {
			msg = "status " + r.Status
		}
		return Rejected(op, msg)
	}
	for _, s := range r.Statuses {
		if s.Error != "" {
			return Rejected(op, s.Error)
		}
	}
	return nil
}

// First returns the status of the first order, or the zero value.
func (r OrderResult) First() OrderStatus {
	if len(r.Statuses) == 0 {
		return OrderStatus{}
	}
	return r.Statuses[0]
}

// CancelResult is the gateway's tagged answer to a cancel request. Each
// element of Statuses is "success" or an error message.
type CancelResult struct {
	Status   string
	Message  string
	Statuses []string
}

// Err returns a RejectionError if any cancel failed.
func (r CancelResult) Err(op string) error {
	if r.Status != "ok" {
		return Rejected(op, r.Message)
	}
	for _, s := range r.Statuses {
		if s != "success" {
			return Rejected(op, s)
		}
	}
	return nil
}

// CancelRef addresses an order to cancel by exchange id or client id.
type CancelRef struct {
	Instrument string
	Ref        OrderRef
}

// OpenOrder is a resting order as reported by the exchange.
type OpenOrder struct {
	Instrument   string    `json:"instrument"`
	OrderID      int64     `json:"oid"`
	ClientID     string    `json:"cloid,omitempty"`
	Side         OrderSide `json:"side"`
	LimitPrice   float64   `json:"limit_price"`
	Size         float64   `json:"size"`
	ReduceOnly   bool      `json:"reduce_only"`
	IsTrigger    bool      `json:"is_trigger"`
	TriggerPrice float64   `json:"trigger_price,omitempty"`
	OrderType    string    `json:"order_type"`
	PlacedAt     time.Time `json:"placed_at"`
}

// IsProtective reports whether the order is a reduce-only trigger order,
// the shape every stop-loss placed by the engine has.
func (o OpenOrder) IsProtective() bool { return o.ReduceOnly && o.IsTrigger }
