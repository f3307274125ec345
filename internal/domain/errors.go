package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// ErrRejected marks a business-level rejection reported by the exchange
	// (status "err" or a per-order error status). Transport failures never
	// wrap it.
	ErrRejected = errors.New("rejected by exchange")

	ErrEntryRejected    = errors.New("entry order not filled")
	ErrProtectionFailed = errors.New("protective stop could not be established")
	ErrRollbackFailed   = errors.New("rollback close failed, manual intervention required")
	ErrNoPosition       = errors.New("no open position")
	ErrPositionExists   = errors.New("position already open")
	ErrSizeTooSmall     = errors.New("size rounds to zero")
	ErrNotReconciled    = errors.New("reconciliation has not completed")
)

// RejectionError carries the exchange's message for a business rejection.
type RejectionError struct {
	Op      string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Message)
}

// Is reports ErrRejected so callers can classify with errors.Is.
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// Rejected builds a RejectionError for op.
func Rejected(op, message string) error {
	return &RejectionError{Op: op, Message: message}
}
