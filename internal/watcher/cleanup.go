package watcher

import (
	"context"
	"time"

	"ledger-engine/internal/repository"
	"ledger-engine/pkg/logger"
)

// CleanupTask prunes old idempotency rows so the orphan scan stays fast.
type CleanupTask struct {
	idempotency repository.IdempotencyStore
	l           *logger.Logger
	period      time.Duration
	retainDays  int
}

func NewCleanupTask(idempotency repository.IdempotencyStore, l *logger.Logger) *CleanupTask {
	return &CleanupTask{
		idempotency: idempotency,
		l:           l,
		period:      24 * time.Hour,
		retainDays:  30,
	}
}

// Run ticks until ctx is cancelled.
func (t *CleanupTask) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one cleanup pass.
func (t *CleanupTask) Tick(ctx context.Context) {
	deleted, err := t.idempotency.DeleteOldRecords(ctx, t.retainDays)
	if err != nil {
		t.l.Errorf("idempotency cleanup failed: %v", err)
		return
	}
	if deleted > 0 {
		t.l.Infof("idempotency cleanup removed %d records older than %d days", deleted, t.retainDays)
	}
}
