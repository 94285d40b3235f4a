package account

import (
	"github.com/shopspring/decimal"
)

// EventType classifies an account fact. FAIL is a first-class variant: the
// apply stage rewrites a command to FAIL when a business rule rejects it, and
// the rewritten fact is journaled like any other.
type EventType string

const (
	TypeDeposit  EventType = "DEPOSIT"
	TypeWithdraw EventType = "WITHDRAW"
	TypeFail     EventType = "FAIL"
)

// Well-known description tags.
const (
	// DescTransferDeposit marks phase 2 of a transfer. A FAIL carrying this
	// tag is what triggers the saga's compensation branch.
	DescTransferDeposit = "TRANSFER_DEPOSIT"

	// DescCompensation marks a refund deposit back to the transfer source.
	DescCompensation = "COMPENSATION"

	// DescTimeoutRecovery labels watcher-initiated recovery in logs and
	// audit output.
	DescTimeoutRecovery = "TIMEOUT_RECOVERY_TRIGGER"

	// DescSagaBypass makes the saga drop the event without reserving any
	// idempotency step. It exists so orphan recovery can be exercised
	// end to end against a live engine.
	DescSagaBypass = "SAGA_BYPASS"
)

// EventTypeName is the type tag recorded next to every journaled event body.
const EventTypeName = "AccountEvent"

// Event is the command/fact carrier that travels the ring and the log.
// Ring slots reuse one Event value per slot; producers fill fields in place.
type Event struct {
	AccountID     string          `json:"accountId"`
	Amount        decimal.Decimal `json:"amount"`
	Type          EventType       `json:"type"`
	TransactionID string          `json:"transactionId,omitempty"`
	TargetID      string          `json:"targetId,omitempty"`
	Description   string          `json:"description,omitempty"`
}

// CopyFrom overwrites every field of e with src. Used when a claimed ring
// slot is filled from a caller-owned command.
func (e *Event) CopyFrom(src *Event) {
	e.AccountID = src.AccountID
	e.Amount = src.Amount
	e.Type = src.Type
	e.TransactionID = src.TransactionID
	e.TargetID = src.TargetID
	e.Description = src.Description
}

// Reset clears a slot before reuse.
func (e *Event) Reset() {
	e.AccountID = ""
	e.Amount = decimal.Decimal{}
	e.Type = ""
	e.TransactionID = ""
	e.TargetID = ""
	e.Description = ""
}

// IsTransferWithdraw reports whether the event is phase 1 of a transfer:
// a withdrawal that names a target account.
func (e *Event) IsTransferWithdraw() bool {
	return e.Type == TypeWithdraw && e.TargetID != ""
}
