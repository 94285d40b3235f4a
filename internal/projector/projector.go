// Package projector maintains the accounts read model from a catch-up
// subscription on the global fact stream, at least once, in checkpointed
// batches.
package projector

import (
	"context"
	"sync"
	"time"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/eventlog"
	"ledger-engine/internal/repository"
	"ledger-engine/pkg/logger"
)

// Name keys the projector's checkpoint row.
const Name = "account_balance_projection"

type bufferedEvent struct {
	event    *account.Event
	position eventlog.Position
}

// Projector buffers resolved facts and flushes on two triggers: the buffer
// reaching batch size, and a periodic tick. FAIL facts are firewalled before
// SQL; deposits upsert additively, withdraws strictly update. The checkpoint
// advances only after a successful flush, so a crash replays the tail —
// redelivery is safe because the arithmetic is additive exactly once per
// position under the single-writer order.
type Projector struct {
	log         eventlog.EventLog
	readModel   repository.ReadModelStore
	checkpoints repository.CheckpointStore
	l           *logger.Logger

	batchSize   int
	flushPeriod time.Duration

	mu           sync.Mutex
	buffer       []bufferedEvent
	resume       *eventlog.Position
	failsDropped int64
}

func New(
	log eventlog.EventLog,
	readModel repository.ReadModelStore,
	checkpoints repository.CheckpointStore,
	batchSize int,
	flushPeriod time.Duration,
	l *logger.Logger,
) *Projector {
	return &Projector{
		log:         log,
		readModel:   readModel,
		checkpoints: checkpoints,
		l:           l,
		batchSize:   batchSize,
		flushPeriod: flushPeriod,
	}
}

// Run blocks until ctx is cancelled, flushing whatever is buffered on the
// way out.
func (p *Projector) Run(ctx context.Context) error {
	pos, err := p.checkpoints.Find(ctx, Name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.resume = pos
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.flushLoop(ctx)
	}()
	defer wg.Wait()

	p.l.Infof("projector started (batch %d, flush period %s)", p.batchSize, p.flushPeriod)

	for {
		p.mu.Lock()
		from := p.resume
		p.mu.Unlock()

		err := p.log.SubscribeToAll(ctx, from, account.EventTypeName, p.onEvent)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.l.Errorf("projector subscription interrupted, resuming: %v", err)
		time.Sleep(time.Second)
	}
}

func (p *Projector) onEvent(ctx context.Context, re eventlog.RecordedEvent) error {
	e, err := re.DecodeAccountEvent()
	if err != nil {
		p.l.Errorf("projector skipping undecodable event at %s: %v", re.Position.EntryID(), err)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffer = append(p.buffer, bufferedEvent{event: e, position: re.Position})
	pos := re.Position
	p.resume = &pos
	if len(p.buffer) >= p.batchSize {
		p.flushLocked(ctx)
	}
	return nil
}

func (p *Projector) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(p.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.Flush(context.Background())
			return
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush writes the buffered batch. Exposed for shutdown and tests.
func (p *Projector) Flush(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked(ctx)
}

func (p *Projector) flushLocked(ctx context.Context) {
	if len(p.buffer) == 0 {
		return
	}

	lastPosition := p.buffer[len(p.buffer)-1].position

	var deposits, withdraws []repository.BalanceDelta
	var fails int64
	for _, b := range p.buffer {
		switch b.event.Type {
		case account.TypeFail:
			fails++
		case account.TypeDeposit:
			deposits = append(deposits, repository.BalanceDelta{AccountID: b.event.AccountID, Amount: b.event.Amount})
		case account.TypeWithdraw:
			withdraws = append(withdraws, repository.BalanceDelta{AccountID: b.event.AccountID, Amount: b.event.Amount})
		}
	}
	if fails > 0 {
		p.failsDropped += fails
		p.l.Debugf("projector firewalled %d FAIL facts (%d total)", fails, p.failsDropped)
	}

	if err := p.readModel.BatchUpsertDeposits(ctx, deposits); err != nil {
		// Keep the buffer and the old checkpoint; the next trigger retries.
		p.l.Errorf("projector deposit batch failed, will retry: %v", err)
		return
	}
	updated, err := p.readModel.BatchUpdateWithdraws(ctx, withdraws)
	if err != nil {
		p.l.Errorf("projector withdraw batch failed, will retry: %v", err)
		return
	}
	if updated < int64(len(withdraws)) {
		p.l.Warnf("read-model divergence: %d of %d withdraw updates matched no row", int64(len(withdraws))-updated, len(withdraws))
	}

	if err := p.checkpoints.Save(ctx, Name, lastPosition); err != nil {
		p.l.Errorf("projector checkpoint save failed, will retry: %v", err)
		return
	}

	p.l.Debugf("projector flushed %d events up to %s", len(p.buffer), lastPosition.EntryID())
	p.buffer = p.buffer[:0]
}

// FailsDropped returns how many FAIL facts the firewall has counted out.
func (p *Projector) FailsDropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failsDropped
}
