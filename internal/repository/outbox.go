package repository

import (
	"context"
	"time"

	"payup/internal/domain"
)

// OutboxRepository defines access to webhook jobs awaiting publication.
type OutboxRepository interface {
	// MarkPublished records that a message reached the queue.
	MarkPublished(ctx context.Context, id string, at time.Time) error

	// ProcessPending locks up to limit unpublished messages created before olderThan
	// and calls fn for each. Messages for which fn returns nil are marked published.
	// Returns the number of messages published.
	ProcessPending(ctx context.Context, limit int, olderThan time.Time, fn func(ctx context.Context, msg *domain.OutboxMessage) error) (int, error)
}
