package pipeline

import (
	"context"

	"ledger-engine/internal/aggregate"
	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/eventlog"
	"ledger-engine/internal/repository"
	"ledger-engine/internal/snapshot"
	"ledger-engine/pkg/logger"
)

// applyHandler is stage 1: load the aggregate, fold the event, and on a
// business rejection rewrite the slot's type to FAIL in place. The preserved
// description is what lets the saga recognise which phase failed.
type applyHandler struct {
	ctx    context.Context
	loader *aggregate.Loader
	l      *logger.Logger
}

func (h *applyHandler) OnEvent(e *account.Event, sequence int64, endOfBatch bool) {
	if e.AccountID == "" {
		h.l.Warnf("[seq %d] command without account id rejected", sequence)
		e.Type = account.TypeFail
		return
	}

	agg := h.loader.Load(h.ctx, e.AccountID)
	if err := agg.Apply(e); err != nil {
		h.l.Warnf("[seq %d] %s on account %s rejected: %v", sequence, e.Type, e.AccountID, err)
		e.Type = account.TypeFail
		return
	}
	h.l.Debugf("[seq %d] %s applied to account %s, balance %s", sequence, e.Type, e.AccountID, agg.Balance)
}

// journalHandler is stage 2: buffer until endOfBatch, then append each
// account's run to its stream and wait for durability. An append error trips
// the safety stop; nothing downstream may observe a fact the journal has not
// accepted.
type journalHandler struct {
	ctx  context.Context
	log  eventlog.EventLog
	ring *Ring
	l    *logger.Logger

	buffer map[string][]account.Event
	order  []string
}

func newJournalHandler(ctx context.Context, log eventlog.EventLog, ring *Ring, l *logger.Logger) *journalHandler {
	return &journalHandler{
		ctx:    ctx,
		log:    log,
		ring:   ring,
		l:      l,
		buffer: make(map[string][]account.Event),
	}
}

func (h *journalHandler) OnEvent(e *account.Event, sequence int64, endOfBatch bool) {
	if _, ok := h.buffer[e.AccountID]; !ok {
		h.order = append(h.order, e.AccountID)
	}
	h.buffer[e.AccountID] = append(h.buffer[e.AccountID], *e)

	if endOfBatch {
		h.flush()
	}
}

func (h *journalHandler) flush() {
	for _, accountID := range h.order {
		events := h.buffer[accountID]
		batch := make([]*account.Event, len(events))
		for i := range events {
			batch[i] = &events[i]
		}
		if _, err := h.log.Append(h.ctx, eventlog.StreamName(accountID), batch); err != nil {
			h.l.Errorf("journal append for account %s failed, halting pipeline: %v", accountID, err)
			h.ring.Halt()
			return
		}
		delete(h.buffer, accountID)
	}
	h.order = h.order[:0]
}

// readModelHandler is stage 3: classify non-FAIL events into a deposit map
// and a withdraw map, last writer wins per account, and flush both as batch
// SQL at endOfBatch. Failures drop the batch and clear the buffers; the
// projector reconverges the read model from the journal.
type readModelHandler struct {
	ctx   context.Context
	store repository.ReadModelStore
	l     *logger.Logger

	deposits  map[string]repository.BalanceDelta
	withdraws map[string]repository.BalanceDelta
}

func newReadModelHandler(ctx context.Context, store repository.ReadModelStore, l *logger.Logger) *readModelHandler {
	return &readModelHandler{
		ctx:       ctx,
		store:     store,
		l:         l,
		deposits:  make(map[string]repository.BalanceDelta),
		withdraws: make(map[string]repository.BalanceDelta),
	}
}

func (h *readModelHandler) OnEvent(e *account.Event, sequence int64, endOfBatch bool) {
	switch e.Type {
	case account.TypeDeposit:
		h.deposits[e.AccountID] = repository.BalanceDelta{AccountID: e.AccountID, Amount: e.Amount}
	case account.TypeWithdraw:
		h.withdraws[e.AccountID] = repository.BalanceDelta{AccountID: e.AccountID, Amount: e.Amount}
	}

	if endOfBatch {
		h.flush()
	}
}

func (h *readModelHandler) flush() {
	if len(h.deposits) > 0 {
		deltas := make([]repository.BalanceDelta, 0, len(h.deposits))
		for _, d := range h.deposits {
			deltas = append(deltas, d)
		}
		if err := h.store.BatchUpsertDeposits(h.ctx, deltas); err != nil {
			h.l.Errorf("read-model deposit batch failed (%d rows dropped): %v", len(deltas), err)
		}
		clear(h.deposits)
	}

	if len(h.withdraws) > 0 {
		deltas := make([]repository.BalanceDelta, 0, len(h.withdraws))
		for _, d := range h.withdraws {
			deltas = append(deltas, d)
		}
		updated, err := h.store.BatchUpdateWithdraws(h.ctx, deltas)
		if err != nil {
			h.l.Errorf("read-model withdraw batch failed (%d rows dropped): %v", len(deltas), err)
		} else if updated < int64(len(deltas)) {
			h.l.Warnf("read-model divergence: %d of %d withdraw updates matched no row", int64(len(deltas))-updated, len(deltas))
		}
		clear(h.withdraws)
	}
}

// snapshotHandler is stage 4, behind the journal barrier alongside the
// read-model stage. It hands every sequence to the janitor, which decides
// whether the threshold tripped.
type snapshotHandler struct {
	ctx     context.Context
	janitor *snapshot.Janitor
}

func (h *snapshotHandler) OnEvent(e *account.Event, sequence int64, endOfBatch bool) {
	h.janitor.OnEvent(h.ctx, e, sequence)
}
