// Package snapshot persists point-in-time aggregate state and keeps the
// snapshot table pruned.
package snapshot

import (
	"context"
	"time"

	"ledger-engine/internal/aggregate"
	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/repository"
	"ledger-engine/pkg/logger"
)

// Janitor emits a snapshot whenever the ring sequence crosses a multiple of
// the threshold (skipping FAIL facts) and prunes everything but the newest
// retainCount rows afterwards. Snapshot failures never stop the pipeline.
type Janitor struct {
	loader    *aggregate.Loader
	store     repository.SnapshotStore
	l         *logger.Logger
	threshold int64
	retain    int
	clock     func() time.Time
}

func NewJanitor(loader *aggregate.Loader, store repository.SnapshotStore, threshold int64, retain int, l *logger.Logger) *Janitor {
	return &Janitor{
		loader:    loader,
		store:     store,
		l:         l,
		threshold: threshold,
		retain:    retain,
		clock:     time.Now,
	}
}

// OnEvent is called by the pipeline's snapshot stage for every sequence.
func (j *Janitor) OnEvent(ctx context.Context, e *account.Event, sequence int64) {
	if e.Type == account.TypeFail {
		return
	}
	if sequence == 0 || sequence%j.threshold != 0 {
		return
	}
	j.perform(ctx, e.AccountID, sequence)
}

func (j *Janitor) perform(ctx context.Context, accountID string, sequence int64) {
	agg, ok := j.loader.Peek(accountID)
	if !ok {
		j.l.Warnf("snapshot skipped at sequence %d: account %s not in L1", sequence, accountID)
		return
	}

	snap := account.SnapshotOf(agg, j.clock())
	if err := j.store.Save(ctx, snap); err != nil {
		j.l.Errorf("snapshot save for account %s failed: %v", accountID, err)
		return
	}

	if err := j.store.DeleteOlderSnapshots(ctx, accountID, j.retain); err != nil {
		// Retention is housekeeping; a failed prune leaves extra rows, not
		// wrong state.
		j.l.Warnf("snapshot retention for account %s failed: %v", accountID, err)
	}

	j.l.Infof("snapshot stored for account %s at revision %d (ring sequence %d)", accountID, snap.LastEventSequence, sequence)
}
