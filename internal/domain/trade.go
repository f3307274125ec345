package domain

import "time"

// ClosedTrade is one realized exit: a partial scale-out or a full close.
type ClosedTrade struct {
	ID         string      `json:"id"`
	Instrument string      `json:"instrument"`
	Direction  Direction   `json:"direction"`
	Size       float64     `json:"size"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	PnL        float64     `json:"pnl"`
	Reason     CloseReason `json:"reason"`
	Partial    bool        `json:"partial"`
	SignalID   string      `json:"signal_id"`
	OpenedAt   time.Time   `json:"opened_at"`
	ClosedAt   time.Time   `json:"closed_at"`
}

// Lifecycle event names emitted by the execution engine.
const (
	EventOpened         = "opened"
	EventUpdated        = "updated"
	EventClosed         = "closed"
	EventRollback       = "rollback"
	EventRollbackFailed = "rollback_failed"
	EventEmergency      = "emergency"
	EventStopMissing    = "stop_missing"
	EventReconciled     = "reconciled"
)

// LifecycleEvent is the payload attached to every emitted event.
type LifecycleEvent struct {
	Event      string       `json:"event"`
	Instrument string       `json:"instrument"`
	Position   *Position    `json:"position,omitempty"`
	Trade      *ClosedTrade `json:"trade,omitempty"`
	Message    string       `json:"message,omitempty"`
	Time       time.Time    `json:"time"`
}
