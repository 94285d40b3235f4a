package account

import (
	"sync"

	"github.com/shopspring/decimal"

	ledger_errors "ledger-engine/pkg/errors"
)

// Account is the aggregate root. It encapsulates the balance invariants and
// is mutated only by the pipeline's apply stage, which is single-threaded.
// The snapshot stage reads aggregates from another goroutine; mu covers that
// overlap.
type Account struct {
	mu sync.Mutex

	ID      string
	Balance decimal.Decimal

	// Version is the stream revision of the last event observed for this
	// account, FAIL facts included. It is strictly monotonic and equals the
	// journal's per-stream revision, which makes it a valid replay cursor.
	Version int64

	processed map[string]struct{}
}

// New creates a zero-balance aggregate with no history.
func New(id string) *Account {
	return &Account{
		ID:        id,
		Balance:   decimal.Zero,
		processed: make(map[string]struct{}),
	}
}

// FromSnapshot restores an aggregate from a snapshot. The processed set is
// cloned so the snapshot row stays immutable.
func FromSnapshot(s *Snapshot) *Account {
	a := &Account{
		ID:        s.AccountID,
		Balance:   s.Balance,
		Version:   s.LastEventSequence,
		processed: make(map[string]struct{}, len(s.ProcessedTransactions)),
	}
	for _, tx := range s.ProcessedTransactions {
		a.processed[tx] = struct{}{}
	}
	return a
}

// IsNew reports whether the account has no real history: zero balance and an
// empty processed set. An account whose only facts are FAILs is still new;
// that keeps a dead transfer target dead on the next attempt.
func (a *Account) IsNew() bool {
	return a.Balance.IsZero() && len(a.processed) == 0
}

// processedKey dedups per (transaction, event type): a compensation DEPOSIT
// legitimately reuses the transfer's transaction id on the account the
// WITHDRAW already touched.
func processedKey(txID string, t EventType) string {
	return txID + ":" + string(t)
}

// HasProcessed reports whether a (transaction, type) pair was already
// applied.
func (a *Account) HasProcessed(txID string, t EventType) bool {
	_, ok := a.processed[processedKey(txID, t)]
	return ok
}

// ProcessedTransactions returns a copy of the processed-transaction set.
func (a *Account) ProcessedTransactions() []string {
	out := make([]string, 0, len(a.processed))
	for tx := range a.processed {
		out = append(out, tx)
	}
	return out
}

// Apply folds one event into the aggregate. The version always advances —
// every event, FAIL included, occupies one stream revision — so replaying a
// stream reproduces the same version regardless of outcomes.
//
// A non-nil error is a business rejection; the caller records it as a FAIL
// fact. The balance and processed set are untouched on error.
func (a *Account) Apply(e *Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.Version++

	switch e.Type {
	case TypeFail:
		// Already a recorded failure; nothing to fold.
		return nil
	case TypeDeposit, TypeWithdraw:
	default:
		return ledger_errors.ErrUnknownEventType
	}

	if e.TransactionID != "" {
		if _, dup := a.processed[processedKey(e.TransactionID, e.Type)]; dup {
			return ledger_errors.ErrDuplicateTransaction
		}
	}

	// A transfer deposit must land on an account that existed before the
	// transfer started.
	if e.Type == TypeDeposit && e.Description == DescTransferDeposit && a.IsNew() {
		return ledger_errors.ErrTargetAccountNotFound
	}

	switch e.Type {
	case TypeDeposit:
		a.Balance = a.Balance.Add(e.Amount)
	case TypeWithdraw:
		if a.Balance.LessThan(e.Amount) {
			return ledger_errors.ErrInsufficientBalance
		}
		a.Balance = a.Balance.Sub(e.Amount)
	}

	if e.TransactionID != "" {
		a.processed[processedKey(e.TransactionID, e.Type)] = struct{}{}
	}
	return nil
}
