package eventlog

import (
	"context"
	"strings"
	"sync"

	"ledger-engine/internal/domain/account"
)

// Memory is an in-process EventLog with the same ordering and subscription
// semantics as the Redis adapter. It backs tests and single-node dev runs.
type Memory struct {
	mu        sync.Mutex
	streams   map[string][]RecordedEvent
	all       []RecordedEvent
	parked    map[string][]RecordedEvent
	notifiers []chan struct{}
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		streams: make(map[string][]RecordedEvent),
		parked:  make(map[string][]RecordedEvent),
	}
}

func (m *Memory) Append(ctx context.Context, streamID string, events []*account.Event) ([]RecordedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := make([]RecordedEvent, 0, len(events))
	for _, e := range events {
		data, err := EncodeEvent(e)
		if err != nil {
			return nil, err
		}
		re := RecordedEvent{
			StreamID:  streamID,
			Revision:  int64(len(m.streams[streamID])) + 1,
			Position:  Position{Commit: int64(len(m.all)) + 1, Prepare: 0},
			EventType: account.EventTypeName,
			Data:      data,
		}
		m.streams[streamID] = append(m.streams[streamID], re)
		m.all = append(m.all, re)
		recorded = append(recorded, re)
	}
	m.notifyLocked()
	return recorded, nil
}

func (m *Memory) ReadStream(ctx context.Context, streamID string, fromRevision int64) ([]RecordedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[streamID]
	if fromRevision < 1 {
		fromRevision = 1
	}
	if fromRevision > int64(len(stream)) {
		return nil, nil
	}
	out := make([]RecordedEvent, len(stream)-int(fromRevision)+1)
	copy(out, stream[fromRevision-1:])
	return out, nil
}

func (m *Memory) ReadAllBackward(ctx context.Context, limit int64) ([]RecordedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > int64(len(m.all)) {
		limit = int64(len(m.all))
	}
	out := make([]RecordedEvent, 0, limit)
	for i := len(m.all) - 1; i >= len(m.all)-int(limit); i-- {
		out = append(out, m.all[i])
	}
	return out, nil
}

func (m *Memory) SubscribeToAll(ctx context.Context, from *Position, typePrefix string, handler Handler) error {
	next := 0
	if from != nil {
		next = int(from.Commit)
	}

	notify := m.register()
	defer m.unregister(notify)

	for {
		for {
			re, ok := m.at(next)
			if !ok {
				break
			}
			next++
			if typePrefix != "" && !strings.HasPrefix(re.EventType, typePrefix) {
				continue
			}
			if err := handler(ctx, re); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}

func (m *Memory) SubscribeToGroup(ctx context.Context, group string, opts GroupOptions, handler Handler) error {
	next := 0
	notify := m.register()
	defer m.unregister(notify)

	for {
		for {
			re, ok := m.at(next)
			if !ok {
				break
			}
			next++

			delivered := false
			for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
				if err := handler(ctx, re); err == nil {
					delivered = true
					break
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			if !delivered {
				m.mu.Lock()
				m.parked[group] = append(m.parked[group], re)
				m.mu.Unlock()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
		}
	}
}

// Parked returns the messages parked for a group. Test hook.
func (m *Memory) Parked(group string) []RecordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedEvent, len(m.parked[group]))
	copy(out, m.parked[group])
	return out
}

// Len returns the number of facts in the global ordering. Test hook.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.all)
}

func (m *Memory) at(i int) (RecordedEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i >= len(m.all) {
		return RecordedEvent{}, false
	}
	return m.all[i], true
}

func (m *Memory) register() chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{}, 1)
	m.notifiers = append(m.notifiers, ch)
	return ch
}

func (m *Memory) unregister(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.notifiers {
		if c == ch {
			m.notifiers = append(m.notifiers[:i], m.notifiers[i+1:]...)
			break
		}
	}
}

func (m *Memory) notifyLocked() {
	for _, ch := range m.notifiers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
