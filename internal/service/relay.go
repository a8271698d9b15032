package service

import (
	"context"
	"log/slog"
	"time"

	"payup/internal/domain"
	"payup/internal/metrics"
	"payup/internal/queue"
	"payup/internal/repository"
)

// RelayConfig configures the outbox relay.
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
	// Grace leaves recent rows to the request that wrote them.
	Grace time.Duration
}

// OutboxRelay republishes outbox messages whose enqueue never completed,
// for example after a failed enqueue or a crash right after commit.
type OutboxRelay struct {
	outbox    repository.OutboxRepository
	publisher queue.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       RelayConfig
}

// NewOutboxRelay creates a new OutboxRelay.
func NewOutboxRelay(outbox repository.OutboxRepository, publisher queue.Publisher, m *metrics.Metrics, logger *slog.Logger, cfg RelayConfig) *OutboxRelay {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run sweeps the outbox every interval until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.metrics.RelayFailed()
				r.logger.ErrorContext(ctx, "outbox sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep publishes one batch of pending messages and returns how many were published.
func (r *OutboxRelay) Sweep(ctx context.Context) (int, error) {
	olderThan := time.Now().Add(-r.cfg.Grace)

	n, err := r.outbox.ProcessPending(ctx, r.cfg.BatchSize, olderThan, func(ctx context.Context, msg *domain.OutboxMessage) error {
		if _, err := r.publisher.Enqueue(ctx, msg.QueueMessage(time.Now().UTC())); err != nil {
			r.logger.WarnContext(ctx, "relay enqueue failed",
				slog.String("message_id", msg.ID), slog.Any("error", err))
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if n > 0 {
		r.metrics.Relayed(n)
		r.logger.InfoContext(ctx, "outbox messages relayed", slog.Int("count", n))
	}

	return n, nil
}
