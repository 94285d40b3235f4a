package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/eventlog"
	"ledger-engine/internal/repository"
	"ledger-engine/pkg/logger"
)

type fakeBus struct {
	mu        sync.Mutex
	published []*account.Event
}

func (f *fakeBus) Publish(ctx context.Context, cmd *account.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *cmd
	f.published = append(f.published, &copied)
	return nil
}

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeIdempotency struct {
	mu       sync.Mutex
	orphans  []string
	rows     map[string][]repository.SagaStep
	deleted  int64
	retained int
}

func (f *fakeIdempotency) TryMarkProcessed(ctx context.Context, txID, step string) (bool, error) {
	return true, nil
}

func (f *fakeIdempotency) FindStagesByTransactionID(ctx context.Context, txID string) ([]repository.SagaStep, error) {
	return f.rows[txID], nil
}

func (f *fakeIdempotency) FindTimeoutTransactions(ctx context.Context, olderThan time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orphans, nil
}

func (f *fakeIdempotency) DeleteOldRecords(ctx context.Context, days int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retained = days
	return f.deleted, nil
}

func appendFact(t *testing.T, log eventlog.EventLog, e *account.Event) {
	t.Helper()
	if _, err := log.Append(context.Background(), eventlog.StreamName(e.AccountID), []*account.Event{e}); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestTick_RecoversOrphanFromBackwardScan(t *testing.T) {
	log := eventlog.NewMemory()
	appendFact(t, log, &account.Event{
		AccountID:     "A",
		TargetID:      "B999",
		Amount:        decimal.NewFromInt(100),
		Type:          account.TypeWithdraw,
		TransactionID: "T5",
		Description:   account.DescSagaBypass,
	})

	bus := &fakeBus{}
	idem := &fakeIdempotency{orphans: []string{"T5"}}
	w := New(idem, log, bus, time.Minute, 30*time.Second, 2000, logger.NewNop())

	w.Tick(context.Background())

	if bus.count() != 1 {
		t.Fatalf("published %d commands, want 1", bus.count())
	}
	cmd := bus.published[0]
	if cmd.Type != account.TypeFail || cmd.Description != account.DescTransferDeposit {
		t.Fatalf("recovery = %+v, want FAIL with TRANSFER_DEPOSIT", cmd)
	}
	// The source lands in both fields: the compensation path refunds to
	// targetId.
	if cmd.AccountID != "A" || cmd.TargetID != "A" {
		t.Fatalf("recovery ids = (%s, %s), want (A, A)", cmd.AccountID, cmd.TargetID)
	}
	if cmd.TransactionID != "T5" || !cmd.Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("recovery context lost: %+v", cmd)
	}
}

func TestTick_FindsWithdrawBelowNewerTraffic(t *testing.T) {
	log := eventlog.NewMemory()
	appendFact(t, log, &account.Event{
		AccountID: "A", TargetID: "B", Amount: decimal.NewFromInt(70),
		Type: account.TypeWithdraw, TransactionID: "T9",
	})
	for i := 0; i < 50; i++ {
		appendFact(t, log, &account.Event{
			AccountID: "X", Amount: decimal.NewFromInt(1), Type: account.TypeDeposit,
		})
	}

	bus := &fakeBus{}
	w := New(&fakeIdempotency{orphans: []string{"T9"}}, log, bus, time.Minute, 30*time.Second, 2000, logger.NewNop())
	w.Tick(context.Background())

	if bus.count() != 1 {
		t.Fatalf("published %d commands, want 1", bus.count())
	}
	if !bus.published[0].Amount.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("wrong fact matched: %+v", bus.published[0])
	}
}

func TestTick_ScanMissEmitsNothing(t *testing.T) {
	log := eventlog.NewMemory()
	// Bury the withdraw beyond the scan depth.
	appendFact(t, log, &account.Event{
		AccountID: "A", Amount: decimal.NewFromInt(100),
		Type: account.TypeWithdraw, TransactionID: "T5",
	})
	for i := 0; i < 10; i++ {
		appendFact(t, log, &account.Event{
			AccountID: "X", Amount: decimal.NewFromInt(1), Type: account.TypeDeposit,
		})
	}

	bus := &fakeBus{}
	w := New(&fakeIdempotency{orphans: []string{"T5"}}, log, bus, time.Minute, 30*time.Second, 5, logger.NewNop())
	w.Tick(context.Background())

	if bus.count() != 0 {
		t.Fatal("the watcher must never guess when the scan misses")
	}
}

func TestTick_MatchesTransactionNotJustType(t *testing.T) {
	log := eventlog.NewMemory()
	appendFact(t, log, &account.Event{
		AccountID: "Z", Amount: decimal.NewFromInt(5),
		Type: account.TypeWithdraw, TransactionID: "OTHER",
	})

	bus := &fakeBus{}
	w := New(&fakeIdempotency{orphans: []string{"T5"}}, log, bus, time.Minute, 30*time.Second, 2000, logger.NewNop())
	w.Tick(context.Background())

	if bus.count() != 0 {
		t.Fatal("a withdraw with a different transaction id must not match")
	}
}

func TestCleanupTask_DeletesOldRecords(t *testing.T) {
	idem := &fakeIdempotency{deleted: 7}
	task := NewCleanupTask(idem, logger.NewNop())

	task.Tick(context.Background())

	if idem.retained != 30 {
		t.Fatalf("retention days = %d, want 30", idem.retained)
	}
}
