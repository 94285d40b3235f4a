package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/eventlog"
)

// BalanceDelta is one additive mutation against the read model.
type BalanceDelta struct {
	AccountID string
	Amount    decimal.Decimal
}

// AccountRow is one read-model row.
type AccountRow struct {
	AccountID     string
	Balance       decimal.Decimal
	LastUpdatedAt time.Time
}

// SagaStep is one recorded milestone of a transfer.
type SagaStep struct {
	Step        string
	ProcessedAt time.Time
}

type ReadModelStore interface {
	// BatchUpsertDeposits applies balance = balance + amount, creating the
	// row when missing.
	BatchUpsertDeposits(ctx context.Context, deltas []BalanceDelta) error
	// BatchUpdateWithdraws applies balance = balance - amount without ever
	// creating rows. It returns the number of rows actually updated so the
	// caller can detect read-model/write-model divergence.
	BatchUpdateWithdraws(ctx context.Context, deltas []BalanceDelta) (int64, error)
	GetAccount(ctx context.Context, accountID string) (*AccountRow, error)
}

type SnapshotStore interface {
	Save(ctx context.Context, s *account.Snapshot) error
	// FindLatest returns nil, nil when the account has no snapshot.
	FindLatest(ctx context.Context, accountID string) (*account.Snapshot, error)
	DeleteOlderSnapshots(ctx context.Context, accountID string, retain int) error
}

type IdempotencyStore interface {
	// TryMarkProcessed inserts the (transaction, step) row and reports
	// whether this call won the race. Unique violations are swallowed and
	// reported as false.
	TryMarkProcessed(ctx context.Context, txID, step string) (bool, error)
	FindStagesByTransactionID(ctx context.Context, txID string) ([]SagaStep, error)
	// FindTimeoutTransactions returns transactions whose INIT row is older
	// than the threshold and which have no COMPLETE or COMPENSATION row.
	FindTimeoutTransactions(ctx context.Context, olderThan time.Duration) ([]string, error)
	DeleteOldRecords(ctx context.Context, days int) (int64, error)
}

type CheckpointStore interface {
	Save(ctx context.Context, name string, pos eventlog.Position) error
	// Find returns nil, nil when no checkpoint is stored yet.
	Find(ctx context.Context, name string) (*eventlog.Position, error)
}
