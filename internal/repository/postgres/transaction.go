package postgres

import (
	"context"
	"database/sql"
	"errors"

	"payup/internal/domain"
	"payup/internal/repository"
)

// TransactionRepository is a PostgreSQL implementation of repository.TransactionRepository.
type TransactionRepository struct {
	q Querier
}

// NewTransactionRepository creates a new PostgreSQL transaction repository.
func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{q: db}
}

// NewTransactionRepositoryWithTx creates a transaction repository using a database transaction.
func NewTransactionRepositoryWithTx(tx *sql.Tx) *TransactionRepository {
	return &TransactionRepository{q: tx}
}

// Create persists a new transaction.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, payup_id, app_id, amount, currency, status, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		txn.ID,
		txn.PayupID,
		txn.AppID,
		txn.Amount,
		txn.Currency,
		txn.Status,
		nullString(txn.FailureReason),
		txn.CreatedAt,
	)

	return err
}

// GetByPayupID retrieves the transaction recorded for a payup.
func (r *TransactionRepository) GetByPayupID(ctx context.Context, payupID string) (*domain.Transaction, error) {
	query := `
		SELECT id, payup_id, app_id, amount, currency, status, failure_reason, created_at
		FROM transactions WHERE payup_id = $1
	`

	var txn domain.Transaction
	var failureReason sql.NullString
	err := r.q.QueryRowContext(ctx, query, payupID).Scan(
		&txn.ID,
		&txn.PayupID,
		&txn.AppID,
		&txn.Amount,
		&txn.Currency,
		&txn.Status,
		&failureReason,
		&txn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	txn.FailureReason = failureReason.String

	return &txn, nil
}
