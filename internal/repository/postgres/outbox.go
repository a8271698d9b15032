package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payup/internal/domain"
)

// OutboxRepository is a PostgreSQL implementation of repository.OutboxRepository.
// It runs on a pgx pool so the relay can hold row locks for the duration of a batch.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository creates a new PostgreSQL outbox repository.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// MarkPublished records that a message reached the queue.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE outbox_messages SET published_at = $1 WHERE id = $2 AND published_at IS NULL",
		at, id,
	)
	return err
}

// ProcessPending locks a batch of unpublished messages, skipping rows held by
// other relays, and marks those fn accepted as published in the same transaction.
func (r *OutboxRepository) ProcessPending(ctx context.Context, limit int, olderThan time.Time, fn func(ctx context.Context, msg *domain.OutboxMessage) error) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, app_id, payup_id, event_type, payload, created_at
		FROM outbox_messages
		WHERE published_at IS NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, olderThan, limit)
	if err != nil {
		return 0, err
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.OutboxMessage, error) {
		var msg domain.OutboxMessage
		err := row.Scan(&msg.ID, &msg.AppID, &msg.PayupID, &msg.EventType, &msg.Payload, &msg.CreatedAt)
		return &msg, err
	})
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range messages {
		if err := fn(ctx, msg); err != nil {
			continue
		}

		if _, err := tx.Exec(ctx,
			"UPDATE outbox_messages SET published_at = $1 WHERE id = $2",
			time.Now().UTC(), msg.ID,
		); err != nil {
			return 0, err
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	return published, nil
}

func insertOutboxMessage(ctx context.Context, q Querier, msg *domain.OutboxMessage) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO outbox_messages (id, app_id, payup_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		msg.ID, msg.AppID, msg.PayupID, msg.EventType, string(msg.Payload), msg.CreatedAt,
	)
	return err
}
