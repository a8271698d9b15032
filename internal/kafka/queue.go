// Package kafka provides a Kafka-backed webhook job queue.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"

	"payup/internal/domain"
	"payup/internal/queue"
)

const messageIDHeader = "message-id"

// Config configures the Kafka queue.
type Config struct {
	Brokers         []string
	Topic           string
	GroupID         string
	MaxRetries      uint64 // In-process retries before the message is re-published.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

// messageWriter is the part of kafka.Writer the queue uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Queue publishes to and consumes from a Kafka topic. Messages are keyed by
// payup id so all events of one session land on the same partition.
//
// Kafka has no per-message negative ack, so a failing message is retried in
// process with capped exponential backoff. Once MaxRetries is spent the
// message is re-published to the tail of the topic with its attempt count and
// the offset is committed, so one bad endpoint cannot stall the partition.
type Queue struct {
	writer messageWriter
	reader *kafka.Reader
	cfg    Config
	logger *slog.Logger
}

var _ queue.Queue = (*Queue)(nil)

// NewQueue creates a new Queue.
func NewQueue(cfg Config, logger *slog.Logger) *Queue {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = 5 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	return &Queue{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		cfg:    cfg,
		logger: logger,
	}
}

// Enqueue writes msg to the topic. The returned id is the message id, since
// Kafka assigns offsets only after the write is acknowledged.
func (q *Queue) Enqueue(ctx context.Context, msg *domain.QueueMessage) (string, error) {
	if err := q.write(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (q *Queue) write(ctx context.Context, msg *domain.QueueMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.PayupID),
		Value: data,
		Headers: []kafka.Header{
			{Key: messageIDHeader, Value: []byte(msg.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Consume fetches messages until ctx is cancelled, committing each offset only
// once the handler succeeded or the message was re-published. A failed
// re-publish stops the consumer with the offset uncommitted.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	for {
		m, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := q.process(ctx, handler, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if ctx.Err() != nil {
			return nil
		}
		if err := q.reader.CommitMessages(ctx, m); err != nil {
			q.logger.ErrorContext(ctx, "commit offset failed",
				slog.Int64("offset", m.Offset), slog.Any("error", err))
		}
	}
}

func (q *Queue) process(ctx context.Context, handler queue.Handler, m kafka.Message) error {
	var msg domain.QueueMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		q.logger.ErrorContext(ctx, "dropping malformed kafka message",
			slog.Int64("offset", m.Offset), slog.Any("error", err))
		return nil
	}

	backoff := retry.WithMaxRetries(q.cfg.MaxRetries,
		retry.WithCappedDuration(q.cfg.MaxRetryBackoff, retry.NewExponential(q.cfg.RetryBackoff)))

	attempt := msg.Attempt
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		msg.Attempt = attempt
		if err := handler(ctx, &msg); err != nil {
			q.logger.WarnContext(ctx, "message handling failed, retrying",
				slog.String("message_id", msg.ID),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil || ctx.Err() != nil {
		return nil
	}

	q.logger.WarnContext(ctx, "in-process retries spent, re-publishing message",
		slog.String("message_id", msg.ID),
		slog.Int("attempt", attempt),
		slog.Any("error", err))

	if err := q.write(ctx, &msg); err != nil {
		return fmt.Errorf("re-publish message %s: %w", msg.ID, err)
	}
	return nil
}

// Close flushes the writer and leaves the consumer group.
func (q *Queue) Close() error {
	return errors.Join(q.writer.Close(), q.reader.Close())
}
