// Package pipeline is the single-writer core: a bounded ring of reusable
// event slots with ordered consumer stages, plus the stage implementations
// and the command-bus port producers publish through.
package pipeline

import (
	"fmt"
	"sync"

	"ledger-engine/internal/domain/account"
	ledger_errors "ledger-engine/pkg/errors"
)

// Handler processes one slot at a sequence. endOfBatch is true on the last
// slot of a drained run; batching stages flush there.
type Handler interface {
	OnEvent(e *account.Event, sequence int64, endOfBatch bool)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(e *account.Event, sequence int64, endOfBatch bool)

func (f HandlerFunc) OnEvent(e *account.Event, sequence int64, endOfBatch bool) {
	f(e, sequence, endOfBatch)
}

// Ring is a bounded, power-of-two sequence buffer. Producers claim the next
// sequence, fill the slot in place and commit it under the ring lock, which
// gives a total order across all producers. Consumers advance private
// cursors and never touch shared state besides the slots they currently own.
type Ring struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots    []account.Event
	mask     int64
	capacity int64

	// published is the highest committed sequence; sequences are 1-based.
	published int64

	consumers []*Consumer
	gating    []*Consumer

	closed bool
	halted bool
}

// NewRing allocates a ring. Capacity must be a power of two.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring capacity must be a power of two, got %d", capacity)
	}
	r := &Ring{
		slots:    make([]account.Event, capacity),
		mask:     int64(capacity) - 1,
		capacity: int64(capacity),
	}
	r.cond = sync.NewCond(&r.mu)
	return r, nil
}

// Consumer is one stage of the pipeline. Its cursor is the last sequence it
// has fully processed.
type Consumer struct {
	ring    *Ring
	name    string
	handler Handler
	deps    []*Consumer

	cursor int64
}

// AddConsumer registers a stage. A stage never overtakes its deps; a stage
// with no deps trails the producers directly. Call before Start.
func (r *Ring) AddConsumer(name string, handler Handler, deps ...*Consumer) *Consumer {
	c := &Consumer{ring: r, name: name, handler: handler, deps: deps}
	r.consumers = append(r.consumers, c)
	return c
}

// SetGating declares the final stages; slots are reusable only once every
// gating consumer has passed them. Call before Start.
func (r *Ring) SetGating(consumers ...*Consumer) {
	r.gating = consumers
}

// Start launches one goroutine per consumer and returns a WaitGroup-style
// done function that blocks until all consumers exit.
func (r *Ring) Start() (wait func()) {
	var wg sync.WaitGroup
	for _, c := range r.consumers {
		wg.Add(1)
		go func(c *Consumer) {
			defer wg.Done()
			c.run()
		}(c)
	}
	return wg.Wait
}

// Publish claims the next sequence, fills the slot and commits it. It blocks
// while the ring is full and fails once the ring is halted or closed.
func (r *Ring) Publish(fill func(*account.Event)) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.halted {
			return 0, ledger_errors.ErrPipelineHalted
		}
		if r.closed {
			return 0, fmt.Errorf("ring closed")
		}
		seq := r.published + 1
		if seq-r.minGatingLocked() <= r.capacity {
			slot := &r.slots[seq&r.mask]
			slot.Reset()
			fill(slot)
			r.published = seq
			r.cond.Broadcast()
			return seq, nil
		}
		r.cond.Wait()
	}
}

// Close stops accepting publishes and lets consumers drain what is already
// committed.
func (r *Ring) Close() {
	r.mu.Lock()
	r.closed = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Halt is the safety stop: consumers stop where they stand and publishes
// fail. Used when the journal can no longer accept facts.
func (r *Ring) Halt() {
	r.mu.Lock()
	r.halted = true
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Halted reports whether the safety stop tripped.
func (r *Ring) Halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

func (r *Ring) minGatingLocked() int64 {
	if len(r.gating) == 0 {
		return r.published
	}
	min := r.gating[0].cursor
	for _, c := range r.gating[1:] {
		if c.cursor < min {
			min = c.cursor
		}
	}
	return min
}

func (c *Consumer) run() {
	for {
		upper, ok := c.waitAvailable()
		if !ok {
			return
		}
		for seq := c.cursor + 1; seq <= upper; seq++ {
			slot := &c.ring.slots[seq&c.ring.mask]
			c.handler.OnEvent(slot, seq, seq == upper)
		}
		c.advance(upper)
	}
}

// waitAvailable blocks until at least one sequence past the cursor is
// reachable, bounded by every dep's cursor. ok is false when the ring
// halted, or closed with everything drained.
func (c *Consumer) waitAvailable() (int64, bool) {
	r := c.ring
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.halted {
			return 0, false
		}
		limit := r.published
		for _, dep := range c.deps {
			if dep.cursor < limit {
				limit = dep.cursor
			}
		}
		if limit > c.cursor {
			return limit, true
		}
		if r.closed && c.cursor == r.published {
			return 0, false
		}
		r.cond.Wait()
	}
}

func (c *Consumer) advance(seq int64) {
	r := c.ring
	r.mu.Lock()
	c.cursor = seq
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Cursor returns the consumer's last processed sequence.
func (c *Consumer) Cursor() int64 {
	r := c.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	return c.cursor
}
