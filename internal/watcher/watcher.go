// Package watcher finds transfers that stalled mid-saga and injects the
// command that lets the saga finish them.
package watcher

import (
	"context"
	"time"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/eventlog"
	"ledger-engine/internal/pipeline"
	"ledger-engine/internal/repository"
	"ledger-engine/pkg/logger"
)

// Watcher periodically scans for orphan INIT rows (no COMPLETE, no
// COMPENSATION, past the timeout), reconstructs each one's original WITHDRAW
// from the log, and publishes a compensation trigger. When the backward scan
// exhausts its depth without finding the fact, the transfer is left for an
// operator — the watcher never guesses.
type Watcher struct {
	idempotency repository.IdempotencyStore
	log         eventlog.EventLog
	commandBus  pipeline.CommandBus
	l           *logger.Logger

	period    time.Duration
	timeout   time.Duration
	scanDepth int64
}

func New(
	idempotency repository.IdempotencyStore,
	log eventlog.EventLog,
	commandBus pipeline.CommandBus,
	period, timeout time.Duration,
	scanDepth int64,
	l *logger.Logger,
) *Watcher {
	return &Watcher{
		idempotency: idempotency,
		log:         log,
		commandBus:  commandBus,
		l:           l,
		period:      period,
		timeout:     timeout,
		scanDepth:   scanDepth,
	}
}

// Run ticks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one orphan scan. Exposed for tests and operational drills.
func (w *Watcher) Tick(ctx context.Context) {
	txIDs, err := w.idempotency.FindTimeoutTransactions(ctx, w.timeout)
	if err != nil {
		w.l.Errorf("orphan scan failed: %v", err)
		return
	}
	if len(txIDs) == 0 {
		return
	}

	w.l.Warnf("detected %d orphan transfers past the %s timeout", len(txIDs), w.timeout)
	for _, txID := range txIDs {
		w.recover(ctx, txID)
	}
}

func (w *Watcher) recover(ctx context.Context, txID string) {
	original, err := w.findWithdraw(ctx, txID)
	if err != nil {
		w.l.Errorf("backward scan for transfer %s failed: %v", txID, err)
		return
	}
	if original == nil {
		w.l.Errorf("transfer %s: no WITHDRAW found within the last %d events, leaving for operator inspection", txID, w.scanDepth)
		return
	}

	// The source account goes into both fields: the saga's compensation
	// branch reads targetId as the refund destination.
	w.l.Warnf("transfer %s: emitting %s for account %s (amount %s)", txID, account.DescTimeoutRecovery, original.AccountID, original.Amount)
	err = w.commandBus.Publish(ctx, &account.Event{
		AccountID:     original.AccountID,
		TargetID:      original.AccountID,
		Amount:        original.Amount,
		Type:          account.TypeFail,
		TransactionID: txID,
		Description:   account.DescTransferDeposit,
	})
	if err != nil {
		w.l.Errorf("transfer %s: recovery publish failed: %v", txID, err)
	}
}

// findWithdraw walks the global stream newest-first, bounded by scanDepth,
// looking for the withdrawal that opened the transfer.
func (w *Watcher) findWithdraw(ctx context.Context, txID string) (*account.Event, error) {
	records, err := w.log.ReadAllBackward(ctx, w.scanDepth)
	if err != nil {
		return nil, err
	}
	for _, re := range records {
		e, err := re.DecodeAccountEvent()
		if err != nil {
			continue
		}
		if e.Type == account.TypeWithdraw && e.TransactionID == txID {
			return e, nil
		}
	}
	return nil, nil
}
