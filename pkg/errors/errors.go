package ledger_errors

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrDuplicateTransaction  = errors.New("transaction already processed")
	ErrTargetAccountNotFound = errors.New("target account not found")
	ErrUnknownEventType      = errors.New("unknown event type")
	ErrNotFound              = errors.New("not found")
	ErrPipelineHalted        = errors.New("pipeline halted")
	ErrInvalidInput          = errors.New("invalid input")
)

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
