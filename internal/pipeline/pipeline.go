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

// CommandBus is the port every producer publishes account commands through:
// the HTTP handlers, the saga and the timeout watcher all enter the ring the
// same way.
type CommandBus interface {
	Publish(ctx context.Context, cmd *account.Event) error
}

// Read-model maintainer selection. Both the ring's read-model stage and the
// projector speak the same additive SQL, so exactly one of them may own the
// table.
const (
	MaintainerProjector = "projector"
	MaintainerPipeline  = "pipeline"
)

// Config sizes the pipeline.
type Config struct {
	RingCapacity        int
	ReadModelMaintainer string
}

// Pipeline owns the ring and its consumer stages:
//
//	apply -> journal -> { read-model, snapshot }
//
// The apply stage mutates aggregates in memory, the journal stage makes the
// facts durable, and only then do the read-model and snapshot stages (and
// every log subscriber) observe them.
type Pipeline struct {
	ring   *Ring
	loader *aggregate.Loader
	l      *logger.Logger

	cancel context.CancelFunc
	wait   func()
}

func New(
	cfg Config,
	loader *aggregate.Loader,
	log eventlog.EventLog,
	readModel repository.ReadModelStore,
	janitor *snapshot.Janitor,
	l *logger.Logger,
) (*Pipeline, error) {
	ring, err := NewRing(cfg.RingCapacity)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	apply := ring.AddConsumer("apply", &applyHandler{ctx: ctx, loader: loader, l: l})
	journal := ring.AddConsumer("journal", newJournalHandler(ctx, log, ring, l), apply)

	var readModelStage Handler = HandlerFunc(func(*account.Event, int64, bool) {})
	if cfg.ReadModelMaintainer == MaintainerPipeline {
		readModelStage = newReadModelHandler(ctx, readModel, l)
	}
	readModelConsumer := ring.AddConsumer("read-model", readModelStage, journal)
	snapshotConsumer := ring.AddConsumer("snapshot", &snapshotHandler{ctx: ctx, janitor: janitor}, journal)

	ring.SetGating(readModelConsumer, snapshotConsumer)

	return &Pipeline{
		ring:   ring,
		loader: loader,
		l:      l,
		cancel: cancel,
	}, nil
}

// Start launches the consumer stages.
func (p *Pipeline) Start() {
	p.wait = p.ring.Start()
	p.l.Infof("pipeline started (ring capacity %d)", p.ring.capacity)
}

// Stop drains committed sequences and shuts the stages down.
func (p *Pipeline) Stop() {
	p.ring.Close()
	if p.wait != nil {
		p.wait()
	}
	p.cancel()
	p.l.Infof("pipeline stopped")
}

// Publish implements CommandBus: claim a slot, copy the command into it in
// place, commit. Blocks while the ring is full.
func (p *Pipeline) Publish(ctx context.Context, cmd *account.Event) error {
	_, err := p.ring.Publish(func(slot *account.Event) {
		slot.CopyFrom(cmd)
	})
	return err
}

// Loader exposes the L1 cache owner, for eviction in tests and benchmarks.
func (p *Pipeline) Loader() *aggregate.Loader {
	return p.loader
}

// Halted reports whether the journal tripped the safety stop.
func (p *Pipeline) Halted() bool {
	return p.ring.Halted()
}

// Ring exposes the underlying ring. Test hook.
func (p *Pipeline) Ring() *Ring {
	return p.ring
}
