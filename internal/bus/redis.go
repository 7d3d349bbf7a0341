package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// streamPrefix namespaces the Redis keys this bus owns so it can share
// a database with other tenants of the same Redis instance.
const streamPrefix = "agentbot:bus:"

// RedisBus is the distributed Bus implementation described in §4.3: a
// replicated log with consumer groups standing in for the in-process
// topic map. Each EventType gets its own stream; Subscribe creates a
// durable consumer group cursor and Publish is an XADD. Entries that
// don't match a subscription's session filter are acknowledged and
// skipped rather than redelivered, keeping each consumer's view
// equivalent to MemoryBus's filtered delivery.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	cancels map[string]context.CancelFunc
}

// NewRedis creates a distributed Bus backed by the given Redis URL
// (e.g. "redis://localhost:6379/0").
func NewRedis(url string, logger *slog.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBus{
		client:  redis.NewClient(opts),
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

func streamKey(eventType EventType) string {
	return streamPrefix + string(eventType)
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(env.Type),
		Values: map[string]any{"envelope": data},
	}).Err()
}

// Subscribe implements Bus. Each call creates a fresh, uniquely named
// consumer group so independent subscribers never steal each other's
// entries, mirroring MemoryBus's one-queue-per-Subscribe semantics.
func (b *RedisBus) Subscribe(eventType EventType, sessionFilter string, maxQueue int) (*Subscription, error) {
	if maxQueue <= 0 {
		maxQueue = 10
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan Envelope, 1)
		ch <- Envelope{ID: uuid.NewString(), Payload: Closed{BusClosed: true}}
		return &Subscription{C: ch, unsubscribe: func() {}}, nil
	}

	subID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	b.cancels[subID] = cancel
	b.mu.Unlock()

	key := streamKey(eventType)
	group := "grp-" + uuid.NewString()
	consumer := "con-" + uuid.NewString()

	// "$" means "only entries appended after this group is created" —
	// new subscribers don't replay history, matching MemoryBus, which
	// only delivers envelopes published after Subscribe returns.
	if err := b.client.XGroupCreateMkStream(ctx, key, group, "$").Err(); err != nil {
		cancel()
		b.removeCancel(subID)
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	out := make(chan Envelope, maxQueue)
	go b.consume(ctx, key, group, consumer, sessionFilter, out)

	return &Subscription{
		C: out,
		unsubscribe: func() {
			cancel()
			b.removeCancel(subID)
		},
	}, nil
}

// removeCancel drops subID's entry once its subscription has been
// cancelled via its own unsubscribe or a failed Subscribe, so a
// long-lived RedisBus doesn't accumulate one stale CancelFunc per past
// subscription. Close discards the whole map instead.
func (b *RedisBus) removeCancel(subID string) {
	b.mu.Lock()
	delete(b.cancels, subID)
	b.mu.Unlock()
}

func (b *RedisBus) consume(ctx context.Context, key, group, consumer, sessionFilter string, out chan<- Envelope) {
	defer close(out)

	for {
		if ctx.Err() != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				select {
				case out <- Envelope{ID: uuid.NewString(), Payload: Closed{BusClosed: true}}:
				default:
				}
			}
			return
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{key, ">"},
			Count:    16,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				// Back to the top of the loop, which sends the Closed
				// sentinel if the cancellation came from Close.
				continue
			}
			if err != redis.Nil {
				b.logger.Warn("redis bus read failed", "stream", key, "error", err)
				time.Sleep(time.Second)
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.deliverOne(ctx, key, group, msg, sessionFilter, out)
			}
		}
	}
}

func (b *RedisBus) deliverOne(ctx context.Context, key, group string, msg redis.XMessage, sessionFilter string, out chan<- Envelope) {
	// Every entry is acknowledged after processing regardless of
	// whether it matched, per §4.3's durable-bus contract: a skipped
	// entry is still consumed, never redelivered.
	defer b.client.XAck(ctx, key, group, msg.ID)

	raw, _ := msg.Values["envelope"].(string)
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.logger.Warn("redis bus malformed envelope, skipping", "stream", key, "error", err)
		return
	}

	if sessionFilter != "" && env.SessionID != sessionFilter && env.SessionID != BroadcastSession {
		return
	}

	select {
	case out <- env:
	default:
		// Drop oldest to make room, same policy as MemoryBus.
		select {
		case <-out:
		default:
		}
		select {
		case out <- env:
		default:
		}
	}
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return b.client.Close()
}
