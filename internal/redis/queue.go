package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"payup/internal/domain"
	"payup/internal/queue"
)

const messageField = "message"

// StreamQueueConfig configures a Redis Streams backed queue.
type StreamQueueConfig struct {
	Stream          string
	Group           string
	Consumer        string
	Block           time.Duration
	Batch           int64
	RetryBackoff    time.Duration // Idle time before the first redelivery.
	MaxRetryBackoff time.Duration
}

// StreamQueue is an at-least-once queue on a Redis stream with a consumer group.
// Unacknowledged entries stay pending and are reclaimed with exponential backoff.
type StreamQueue struct {
	client *redis.Client
	cfg    StreamQueueConfig
	logger *slog.Logger
}

var _ queue.Queue = (*StreamQueue)(nil)

// NewStreamQueue creates a new StreamQueue.
func NewStreamQueue(client *redis.Client, cfg StreamQueueConfig, logger *slog.Logger) *StreamQueue {
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Second
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = 30 * time.Minute
	}
	return &StreamQueue{client: client, cfg: cfg, logger: logger}
}

// Enqueue appends msg to the stream.
func (q *StreamQueue) Enqueue(ctx context.Context, msg *domain.QueueMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{messageField: data},
	}).Result()
}

// Consume reads new and overdue pending entries until ctx is cancelled.
func (q *StreamQueue) Consume(ctx context.Context, handler queue.Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for ctx.Err() == nil {
		if err := q.redeliver(ctx, handler); err != nil && ctx.Err() == nil {
			q.logger.WarnContext(ctx, "reclaim pending messages failed", slog.Any("error", err))
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    q.cfg.Batch,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			q.logger.ErrorContext(ctx, "read stream failed", slog.Any("error", err))
			sleep(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				q.handle(ctx, handler, entry, 1)
			}
		}
	}

	return nil
}

// Close is a no-op; the redis client is owned by the caller.
func (q *StreamQueue) Close() error {
	return nil
}

func (q *StreamQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// redeliver claims pending entries whose idle time exceeds their backoff. The
// pending list is paged so that entries deep in backoff do not hide newer ones.
// At most Batch entries are handled per call.
func (q *StreamQueue) redeliver(ctx context.Context, handler queue.Handler) error {
	start := "-"
	handled := int64(0)

	for handled < q.cfg.Batch {
		pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: q.cfg.Stream,
			Group:  q.cfg.Group,
			Idle:   q.cfg.RetryBackoff,
			Start:  start,
			End:    "+",
			Count:  q.cfg.Batch,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		for _, p := range pending {
			if handled >= q.cfg.Batch {
				return nil
			}

			backoff := q.backoff(p.RetryCount)
			if p.Idle < backoff {
				continue
			}

			claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   q.cfg.Stream,
				Group:    q.cfg.Group,
				Consumer: q.cfg.Consumer,
				MinIdle:  backoff,
				Messages: []string{p.ID},
			}).Result()
			if err != nil {
				return err
			}

			for _, entry := range claimed {
				q.handle(ctx, handler, entry, int(p.RetryCount)+1)
				handled++
			}
		}

		if int64(len(pending)) < q.cfg.Batch {
			return nil
		}

		next, err := nextStreamID(pending[len(pending)-1].ID)
		if err != nil {
			return err
		}
		start = next
	}

	return nil
}

// nextStreamID returns the smallest stream id greater than id.
func nextStreamID(id string) (string, error) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return "", fmt.Errorf("invalid stream id %q", id)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid stream id %q: %w", id, err)
	}
	if n == math.MaxUint64 {
		m, err := strconv.ParseUint(ms, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid stream id %q: %w", id, err)
		}
		return strconv.FormatUint(m+1, 10) + "-0", nil
	}
	return ms + "-" + strconv.FormatUint(n+1, 10), nil
}

func (q *StreamQueue) handle(ctx context.Context, handler queue.Handler, entry redis.XMessage, attempt int) {
	msg, err := decodeEntry(entry)
	if err != nil {
		// Undecodable entries can never succeed.
		q.logger.ErrorContext(ctx, "dropping malformed stream entry",
			slog.String("entry_id", entry.ID), slog.Any("error", err))
		q.ack(ctx, entry.ID)
		return
	}
	msg.Attempt = attempt

	if err := handler(ctx, msg); err != nil {
		q.logger.WarnContext(ctx, "message left pending for redelivery",
			slog.String("message_id", msg.ID),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		return
	}

	q.ack(ctx, entry.ID)
}

// ack survives cancellation of ctx so that work finished during shutdown is not redelivered.
func (q *StreamQueue) ack(ctx context.Context, entryID string) {
	if err := q.client.XAck(context.WithoutCancel(ctx), q.cfg.Stream, q.cfg.Group, entryID).Err(); err != nil {
		q.logger.ErrorContext(ctx, "ack failed", slog.String("entry_id", entryID), slog.Any("error", err))
	}
}

func (q *StreamQueue) backoff(deliveries int64) time.Duration {
	d := q.cfg.RetryBackoff
	for i := int64(1); i < deliveries; i++ {
		d *= 2
		if d >= q.cfg.MaxRetryBackoff {
			return q.cfg.MaxRetryBackoff
		}
	}
	return d
}

func decodeEntry(entry redis.XMessage) (*domain.QueueMessage, error) {
	raw, ok := entry.Values[messageField].(string)
	if !ok {
		return nil, errors.New("stream entry has no message field")
	}

	var msg domain.QueueMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
