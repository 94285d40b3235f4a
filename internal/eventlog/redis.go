package eventlog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ledger-engine/internal/domain/account"
)

// Key layout. Per-account streams keep a side counter so appends can stamp
// explicit `<revision>-1` entry ids, which makes ReadStream a range read
// instead of a scan.
const (
	streamKeyPrefix   = "ledger:stream:"
	revisionKeyPrefix = "ledger:rev:"
	allStreamKey      = "ledger:all"
	parkedKeyPrefix   = "ledger:parked:"
)

// appendScript bumps the stream revision, writes the per-account entry and
// the $all entry in one atomic step, and returns (revision, global id).
var appendScript = redis.NewScript(`
local rev = redis.call('INCR', KEYS[2])
redis.call('XADD', KEYS[1], tostring(rev) .. '-1', 'type', ARGV[1], 'data', ARGV[2])
local gid = redis.call('XADD', KEYS[3], '*', 'stream', ARGV[3], 'revision', tostring(rev), 'type', ARGV[1], 'data', ARGV[2])
return {rev, gid}
`)

// Redis implements EventLog on Redis Streams.
type Redis struct {
	client *redis.Client
}

// NewClient builds a Redis client from config values.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Append(ctx context.Context, streamID string, events []*account.Event) ([]RecordedEvent, error) {
	keys := []string{streamKeyPrefix + streamID, revisionKeyPrefix + streamID, allStreamKey}

	recorded := make([]RecordedEvent, 0, len(events))
	for _, e := range events {
		data, err := EncodeEvent(e)
		if err != nil {
			return nil, err
		}
		res, err := appendScript.Run(ctx, r.client, keys, account.EventTypeName, data, streamID).Slice()
		if err != nil {
			return nil, fmt.Errorf("append to %s: %w", streamID, err)
		}
		if len(res) != 2 {
			return nil, fmt.Errorf("append to %s: unexpected script reply %v", streamID, res)
		}
		revision, ok := res[0].(int64)
		if !ok {
			return nil, fmt.Errorf("append to %s: unexpected revision reply %T", streamID, res[0])
		}
		globalID, ok := res[1].(string)
		if !ok {
			return nil, fmt.Errorf("append to %s: unexpected id reply %T", streamID, res[1])
		}
		pos, err := ParsePosition(globalID)
		if err != nil {
			return nil, err
		}
		recorded = append(recorded, RecordedEvent{
			StreamID:  streamID,
			Revision:  revision,
			Position:  pos,
			EventType: account.EventTypeName,
			Data:      data,
		})
	}
	return recorded, nil
}

func (r *Redis) ReadStream(ctx context.Context, streamID string, fromRevision int64) ([]RecordedEvent, error) {
	if fromRevision < 1 {
		fromRevision = 1
	}
	start := strconv.FormatInt(fromRevision, 10) + "-0"
	msgs, err := r.client.XRange(ctx, streamKeyPrefix+streamID, start, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", streamID, err)
	}

	out := make([]RecordedEvent, 0, len(msgs))
	for _, msg := range msgs {
		re, err := streamRecord(streamID, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func (r *Redis) ReadAllBackward(ctx context.Context, limit int64) ([]RecordedEvent, error) {
	msgs, err := r.client.XRevRangeN(ctx, allStreamKey, "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("read $all backward: %w", err)
	}

	out := make([]RecordedEvent, 0, len(msgs))
	for _, msg := range msgs {
		re, err := globalRecord(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func (r *Redis) SubscribeToAll(ctx context.Context, from *Position, typePrefix string, handler Handler) error {
	lastID := "0"
	if from != nil {
		lastID = from.EntryID()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := r.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{allStreamKey, lastID},
			Count:   64,
			Block:   time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("catch-up read: %w", err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				re, err := globalRecord(msg)
				if err != nil {
					return err
				}
				if typePrefix != "" && !strings.HasPrefix(re.EventType, typePrefix) {
					continue
				}
				if err := handler(ctx, re); err != nil {
					return err
				}
			}
		}
	}
}

func (r *Redis) SubscribeToGroup(ctx context.Context, group string, opts GroupOptions, handler Handler) error {
	if err := r.client.XGroupCreateMkStream(ctx, allStreamKey, group, "0").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", group, err)
	}
	consumer := group + "-" + uuid.NewString()[:8]

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.reclaimPending(ctx, group, consumer, opts, handler); err != nil {
			return err
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{allStreamKey, ">"},
			Count:    int64(opts.BufferSize),
			Block:    time.Second,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("group read: %w", err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				r.deliver(ctx, group, msg, handler)
			}
		}
	}
}

// reclaimPending takes over deliveries that sat unacknowledged past the ack
// timeout, parking the ones that exhausted their retries.
func (r *Redis) reclaimPending(ctx context.Context, group, consumer string, opts GroupOptions, handler Handler) error {
	msgs, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   allStreamKey,
		Group:    group,
		Consumer: consumer,
		MinIdle:  opts.AckTimeout,
		Start:    "0-0",
		Count:    int64(opts.BufferSize),
	}).Result()
	if err != nil && err != redis.Nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reclaim pending: %w", err)
	}

	for _, msg := range msgs {
		pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: allStreamKey,
			Group:  group,
			Start:  msg.ID,
			End:    msg.ID,
			Count:  1,
		}).Result()
		if err != nil {
			return fmt.Errorf("pending info for %s: %w", msg.ID, err)
		}
		if len(pending) == 1 && pending[0].RetryCount > int64(opts.MaxRetries) {
			if err := r.park(ctx, group, msg); err != nil {
				return err
			}
			continue
		}
		r.deliver(ctx, group, msg, handler)
	}
	return nil
}

func (r *Redis) deliver(ctx context.Context, group string, msg redis.XMessage, handler Handler) {
	re, err := globalRecord(msg)
	if err != nil {
		// Undecodable entries cannot ever succeed; drop them from the group.
		r.client.XAck(ctx, allStreamKey, group, msg.ID)
		return
	}
	if err := handler(ctx, re); err != nil {
		// No ack: the entry stays pending and is redelivered after the ack
		// timeout, until the retry limit parks it.
		return
	}
	r.client.XAck(ctx, allStreamKey, group, msg.ID)
}

func (r *Redis) park(ctx context.Context, group string, msg redis.XMessage) error {
	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: parkedKeyPrefix + group,
		Values: msg.Values,
	}).Err(); err != nil {
		return fmt.Errorf("park %s: %w", msg.ID, err)
	}
	return r.client.XAck(ctx, allStreamKey, group, msg.ID).Err()
}

func streamRecord(streamID string, msg redis.XMessage) (RecordedEvent, error) {
	revStr, _, _ := strings.Cut(msg.ID, "-")
	revision, err := strconv.ParseInt(revStr, 10, 64)
	if err != nil {
		return RecordedEvent{}, fmt.Errorf("malformed revision in %q: %w", msg.ID, err)
	}
	eventType, data, err := entryBody(msg)
	if err != nil {
		return RecordedEvent{}, err
	}
	return RecordedEvent{
		StreamID:  streamID,
		Revision:  revision,
		EventType: eventType,
		Data:      data,
	}, nil
}

func globalRecord(msg redis.XMessage) (RecordedEvent, error) {
	pos, err := ParsePosition(msg.ID)
	if err != nil {
		return RecordedEvent{}, err
	}
	eventType, data, err := entryBody(msg)
	if err != nil {
		return RecordedEvent{}, err
	}
	streamID, _ := msg.Values["stream"].(string)
	var revision int64
	if revStr, ok := msg.Values["revision"].(string); ok {
		revision, _ = strconv.ParseInt(revStr, 10, 64)
	}
	return RecordedEvent{
		StreamID:  streamID,
		Revision:  revision,
		Position:  pos,
		EventType: eventType,
		Data:      data,
	}, nil
}

func entryBody(msg redis.XMessage) (string, []byte, error) {
	eventType, ok := msg.Values["type"].(string)
	if !ok {
		return "", nil, fmt.Errorf("entry %s has no type field", msg.ID)
	}
	data, ok := msg.Values["data"].(string)
	if !ok {
		return "", nil, fmt.Errorf("entry %s has no data field", msg.ID)
	}
	return eventType, []byte(data), nil
}
