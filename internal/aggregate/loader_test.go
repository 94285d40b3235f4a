package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/eventlog"
	"ledger-engine/pkg/logger"
)

type fakeSnapshotStore struct {
	mu      sync.Mutex
	latest  map[string]*account.Snapshot
	findErr error
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{latest: make(map[string]*account.Snapshot)}
}

func (f *fakeSnapshotStore) Save(ctx context.Context, s *account.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest[s.AccountID] = s
	return nil
}

func (f *fakeSnapshotStore) FindLatest(ctx context.Context, accountID string) (*account.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.latest[accountID], nil
}

func (f *fakeSnapshotStore) DeleteOlderSnapshots(ctx context.Context, accountID string, retain int) error {
	return nil
}

// trackingLog records the revisions ReadStream is asked to start from.
type trackingLog struct {
	*eventlog.Memory
	mu        sync.Mutex
	readFroms []int64
	readErr   error
}

func (tl *trackingLog) ReadStream(ctx context.Context, streamID string, fromRevision int64) ([]eventlog.RecordedEvent, error) {
	tl.mu.Lock()
	tl.readFroms = append(tl.readFroms, fromRevision)
	err := tl.readErr
	tl.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return tl.Memory.ReadStream(ctx, streamID, fromRevision)
}

func (tl *trackingLog) lastReadFrom() int64 {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if len(tl.readFroms) == 0 {
		return 0
	}
	return tl.readFroms[len(tl.readFroms)-1]
}

func seedStream(t *testing.T, log eventlog.EventLog, accountID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := log.Append(context.Background(), eventlog.StreamName(accountID), []*account.Event{{
			AccountID: accountID,
			Amount:    decimal.NewFromInt(10),
			Type:      account.TypeDeposit,
		}})
		if err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}
}

func TestLoad_CacheHitReturnsSameInstance(t *testing.T) {
	log := &trackingLog{Memory: eventlog.NewMemory()}
	loader := NewLoader(log, newFakeSnapshotStore(), time.Second, logger.NewNop())
	seedStream(t, log, "A", 3)

	first := loader.Load(context.Background(), "A")
	second := loader.Load(context.Background(), "A")
	if first != second {
		t.Fatal("cache hit must return the canonical instance")
	}
	if len(log.readFroms) != 1 {
		t.Fatalf("log read %d times, want 1", len(log.readFroms))
	}
	if !first.Balance.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("balance = %s, want 30", first.Balance)
	}
}

func TestLoad_FullReplayWithoutSnapshot(t *testing.T) {
	log := &trackingLog{Memory: eventlog.NewMemory()}
	loader := NewLoader(log, newFakeSnapshotStore(), time.Second, logger.NewNop())
	seedStream(t, log, "A", 5)

	agg := loader.Load(context.Background(), "A")
	if log.lastReadFrom() != 1 {
		t.Fatalf("replay started at revision %d, want 1", log.lastReadFrom())
	}
	if agg.Version != 5 {
		t.Fatalf("version = %d, want 5", agg.Version)
	}
}

func TestLoad_SnapshotSkipsReplayedPrefix(t *testing.T) {
	log := &trackingLog{Memory: eventlog.NewMemory()}
	snaps := newFakeSnapshotStore()
	loader := NewLoader(log, snaps, time.Second, logger.NewNop())
	seedStream(t, log, "D", 10)

	snaps.latest["D"] = &account.Snapshot{
		AccountID:         "D",
		Balance:           decimal.NewFromInt(90),
		LastEventSequence: 9,
		CreatedAt:         time.Now(),
	}

	agg := loader.Load(context.Background(), "D")
	if log.lastReadFrom() != 10 {
		t.Fatalf("replay started at revision %d, want 10", log.lastReadFrom())
	}
	if !agg.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s, want 100", agg.Balance)
	}
	if agg.Version != 10 {
		t.Fatalf("version = %d, want 10", agg.Version)
	}
}

func TestLoad_ReadFailureServesBaseStateUncached(t *testing.T) {
	log := &trackingLog{Memory: eventlog.NewMemory()}
	snaps := newFakeSnapshotStore()
	loader := NewLoader(log, snaps, time.Second, logger.NewNop())
	seedStream(t, log, "A", 4)

	snaps.latest["A"] = &account.Snapshot{
		AccountID:         "A",
		Balance:           decimal.NewFromInt(20),
		LastEventSequence: 2,
		CreatedAt:         time.Now(),
	}
	log.readErr = errors.New("log unavailable")

	agg := loader.Load(context.Background(), "A")
	if !agg.Balance.Equal(decimal.NewFromInt(20)) || agg.Version != 2 {
		t.Fatalf("base state = (%s, %d), want snapshot state (20, 2)", agg.Balance, agg.Version)
	}
	if _, cached := loader.Peek("A"); cached {
		t.Fatal("a failed replay must not poison the cache")
	}

	// Once the log recovers, the next load completes the replay.
	log.readErr = nil
	recovered := loader.Load(context.Background(), "A")
	if recovered.Version != 4 {
		t.Fatalf("recovered version = %d, want 4", recovered.Version)
	}
}

func TestLoad_SnapshotLookupFailureFallsBackToFullReplay(t *testing.T) {
	log := &trackingLog{Memory: eventlog.NewMemory()}
	snaps := newFakeSnapshotStore()
	snaps.findErr = errors.New("store down")
	loader := NewLoader(log, snaps, time.Second, logger.NewNop())
	seedStream(t, log, "A", 3)

	agg := loader.Load(context.Background(), "A")
	if log.lastReadFrom() != 1 {
		t.Fatalf("replay started at revision %d, want 1", log.lastReadFrom())
	}
	if agg.Version != 3 {
		t.Fatalf("version = %d, want 3", agg.Version)
	}
}

func TestEvictAndEvictAll(t *testing.T) {
	log := &trackingLog{Memory: eventlog.NewMemory()}
	loader := NewLoader(log, newFakeSnapshotStore(), time.Second, logger.NewNop())
	seedStream(t, log, "A", 1)
	seedStream(t, log, "B", 1)

	loader.Load(context.Background(), "A")
	loader.Load(context.Background(), "B")

	loader.Evict("A")
	if _, ok := loader.Peek("A"); ok {
		t.Fatal("A still cached after Evict")
	}
	if _, ok := loader.Peek("B"); !ok {
		t.Fatal("B evicted collaterally")
	}

	loader.EvictAll()
	if _, ok := loader.Peek("B"); ok {
		t.Fatal("B still cached after EvictAll")
	}
}
