package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is a point-in-time copy of an aggregate's state plus the stream
// revision it was taken at. For a fixed account the snapshot with the
// highest LastEventSequence is authoritative.
type Snapshot struct {
	AccountID             string
	Balance               decimal.Decimal
	LastEventSequence     int64
	ProcessedTransactions []string
	CreatedAt             time.Time
}

// SnapshotOf captures the aggregate's current state. The processed set is
// copied defensively; the live aggregate keeps mutating after the call.
func SnapshotOf(a *Account, now time.Time) *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &Snapshot{
		AccountID:             a.ID,
		Balance:               a.Balance,
		LastEventSequence:     a.Version,
		ProcessedTransactions: a.ProcessedTransactions(),
		CreatedAt:             now,
	}
}
