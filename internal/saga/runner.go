package saga

import (
	"context"

	"ledger-engine/internal/eventlog"
	"ledger-engine/internal/repository"
	"ledger-engine/pkg/logger"
)

// Runner feeds the saga from a persistent competing-consumer subscription on
// the global fact stream. Deliveries ack on success; a failing delivery is
// retried by the server and parked once the retry budget is spent. The
// position is also mirrored into saga_checkpoints for observability; it is
// not what makes redelivery safe (the idempotency reservations are).
type Runner struct {
	saga        *MoneyTransferSaga
	log         eventlog.EventLog
	checkpoints repository.CheckpointStore
	group       string
	opts        eventlog.GroupOptions
	l           *logger.Logger
}

func NewRunner(
	saga *MoneyTransferSaga,
	log eventlog.EventLog,
	checkpoints repository.CheckpointStore,
	group string,
	opts eventlog.GroupOptions,
	l *logger.Logger,
) *Runner {
	return &Runner{
		saga:        saga,
		log:         log,
		checkpoints: checkpoints,
		group:       group,
		opts:        opts,
		l:           l,
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.l.Infof("saga subscription started (group %s)", r.group)
	return r.log.SubscribeToGroup(ctx, r.group, r.opts, r.handle)
}

func (r *Runner) handle(ctx context.Context, re eventlog.RecordedEvent) error {
	e, err := re.DecodeAccountEvent()
	if err != nil {
		// A body that cannot decode will never decode; ack it away.
		r.l.Errorf("saga dropping undecodable event at %s: %v", re.Position.EntryID(), err)
		return nil
	}

	if err := r.saga.OnEvent(ctx, e); err != nil {
		r.l.Errorf("saga failed on transfer %s at %s: %v", e.TransactionID, re.Position.EntryID(), err)
		return err
	}

	if err := r.checkpoints.Save(ctx, Name, re.Position); err != nil {
		r.l.Warnf("saga checkpoint save failed: %v", err)
	}
	return nil
}
