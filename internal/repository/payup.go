package repository

import (
	"context"

	"payup/internal/domain"
)

// PayupRepository defines the persistence operations for terminal payups.
type PayupRepository interface {
	// GetByID retrieves a durably recorded payup by ID.
	GetByID(ctx context.Context, id string) (*domain.Payup, error)

	// Settle records a terminal transition in a single unit of work: the payup row
	// moves from CREATED to payup.Status, the transaction (if any) and the outbox
	// message are inserted. Returns ErrAlreadySettled if the row already left CREATED.
	Settle(ctx context.Context, payup *domain.Payup, txn *domain.Transaction, msg *domain.OutboxMessage) error
}

// TransactionRepository defines read access to recorded transactions.
type TransactionRepository interface {
	// GetByPayupID retrieves the transaction recorded for a payup.
	GetByPayupID(ctx context.Context, payupID string) (*domain.Transaction, error)
}
