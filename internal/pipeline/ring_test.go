package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger-engine/internal/domain/account"
	ledger_errors "ledger-engine/pkg/errors"
)

func TestNewRing_RejectsNonPowerOfTwo(t *testing.T) {
	for _, capacity := range []int{0, -1, 3, 100, 1000} {
		if _, err := NewRing(capacity); err == nil {
			t.Fatalf("capacity %d accepted, want error", capacity)
		}
	}
	if _, err := NewRing(1024); err != nil {
		t.Fatalf("capacity 1024 rejected: %v", err)
	}
}

func TestRing_DeliversInPublishOrder(t *testing.T) {
	ring, err := NewRing(8)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	c := ring.AddConsumer("collect", HandlerFunc(func(e *account.Event, seq int64, endOfBatch bool) {
		mu.Lock()
		got = append(got, e.TransactionID)
		if len(got) == 20 {
			close(done)
		}
		mu.Unlock()
	}))
	ring.SetGating(c)
	wait := ring.Start()
	defer func() {
		ring.Close()
		wait()
	}()

	want := make([]string, 20)
	for i := 0; i < 20; i++ {
		tx := string(rune('a' + i))
		want[i] = tx
		if _, err := ring.Publish(func(slot *account.Event) {
			slot.AccountID = "A"
			slot.TransactionID = tx
			slot.Type = account.TypeDeposit
		}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never saw all events")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRing_ProducerBlocksWhenFull(t *testing.T) {
	ring, err := NewRing(2)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}

	release := make(chan struct{})
	c := ring.AddConsumer("slow", HandlerFunc(func(e *account.Event, seq int64, endOfBatch bool) {
		<-release
	}))
	ring.SetGating(c)
	wait := ring.Start()
	defer func() {
		close(release)
		ring.Close()
		wait()
	}()

	for i := 0; i < 2; i++ {
		if _, err := ring.Publish(func(slot *account.Event) { slot.AccountID = "A" }); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	published := make(chan struct{})
	go func() {
		// Ring is full and the consumer is parked; this must block, not drop.
		if _, err := ring.Publish(func(slot *account.Event) { slot.AccountID = "A" }); err == nil {
			close(published)
		}
	}()

	select {
	case <-published:
		t.Fatal("publish returned while the ring was full")
	case <-time.After(100 * time.Millisecond):
	}

	release <- struct{}{}
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish never completed after a slot freed")
	}
}

func TestRing_EndOfBatchMarksLastOfRun(t *testing.T) {
	ring, err := NewRing(8)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}

	gate := make(chan struct{})
	entered := make(chan struct{})
	type seen struct {
		seq        int64
		endOfBatch bool
	}
	var mu sync.Mutex
	var events []seen

	c := ring.AddConsumer("batching", HandlerFunc(func(e *account.Event, seq int64, endOfBatch bool) {
		if seq == 1 {
			close(entered)
			<-gate
		}
		mu.Lock()
		events = append(events, seen{seq, endOfBatch})
		mu.Unlock()
	}))
	ring.SetGating(c)
	wait := ring.Start()

	if _, err := ring.Publish(func(slot *account.Event) { slot.AccountID = "A" }); err != nil {
		t.Fatalf("publish: %v", err)
	}
	<-entered
	// Sequence 1 is a batch of its own; 2..4 commit while the consumer is
	// parked and drain as one batch with endOfBatch only on the last.
	for i := 0; i < 3; i++ {
		if _, err := ring.Publish(func(slot *account.Event) { slot.AccountID = "A" }); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	close(gate)
	ring.Close()
	wait()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 4 {
		t.Fatalf("processed %d events, want 4", len(events))
	}
	if !events[0].endOfBatch {
		t.Fatal("a single drained sequence is its own batch end")
	}
	if events[1].endOfBatch || events[2].endOfBatch {
		t.Fatal("mid-batch sequences must not be flagged endOfBatch")
	}
	if !events[3].endOfBatch {
		t.Fatal("last sequence of the drained run must be flagged endOfBatch")
	}
}

func TestRing_HaltFailsPublishes(t *testing.T) {
	ring, err := NewRing(4)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}
	c := ring.AddConsumer("noop", HandlerFunc(func(*account.Event, int64, bool) {}))
	ring.SetGating(c)
	wait := ring.Start()

	ring.Halt()
	wait()

	_, err = ring.Publish(func(slot *account.Event) {
		slot.AccountID = "A"
		slot.Amount = decimal.NewFromInt(1)
	})
	if !errors.Is(err, ledger_errors.ErrPipelineHalted) {
		t.Fatalf("err = %v, want ErrPipelineHalted", err)
	}
	if !ring.Halted() {
		t.Fatal("ring must report halted")
	}
}

func TestRing_DependentStageNeverOvertakes(t *testing.T) {
	ring, err := NewRing(8)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}

	var mu sync.Mutex
	firstSeen := map[int64]bool{}
	violation := false

	first := ring.AddConsumer("first", HandlerFunc(func(e *account.Event, seq int64, endOfBatch bool) {
		mu.Lock()
		firstSeen[seq] = true
		mu.Unlock()
	}))
	second := ring.AddConsumer("second", HandlerFunc(func(e *account.Event, seq int64, endOfBatch bool) {
		mu.Lock()
		if !firstSeen[seq] {
			violation = true
		}
		mu.Unlock()
	}), first)
	ring.SetGating(second)
	wait := ring.Start()

	for i := 0; i < 50; i++ {
		if _, err := ring.Publish(func(slot *account.Event) { slot.AccountID = "A" }); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	ring.Close()
	wait()

	if violation {
		t.Fatal("dependent stage observed a sequence before its dependency")
	}
	if second.Cursor() != 50 {
		t.Fatalf("second cursor = %d, want 50", second.Cursor())
	}
}
