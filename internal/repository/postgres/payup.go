package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"payup/internal/domain"
	"payup/internal/repository"
)

// PayupRepository is a PostgreSQL implementation of repository.PayupRepository.
// In-flight payups live in the KV store; rows appear here once a payup settles.
type PayupRepository struct {
	db *sql.DB
	q  Querier
}

// NewPayupRepository creates a new PostgreSQL payup repository.
func NewPayupRepository(db *sql.DB) *PayupRepository {
	return &PayupRepository{db: db, q: db}
}

// GetByID retrieves a payup by ID.
func (r *PayupRepository) GetByID(ctx context.Context, id string) (*domain.Payup, error) {
	query := `
		SELECT id, app_id, amount, currency, status, metadata, return_url,
		       created_at, expires_at, finalized_at, failure_reason, transaction_id
		FROM payups WHERE id = $1
	`

	var payup domain.Payup
	var metadata []byte
	var finalizedAt sql.NullTime
	var failureReason, transactionID sql.NullString

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&payup.ID,
		&payup.AppID,
		&payup.Amount,
		&payup.Currency,
		&payup.Status,
		&metadata,
		&payup.ReturnURL,
		&payup.CreatedAt,
		&payup.ExpiresAt,
		&finalizedAt,
		&failureReason,
		&transactionID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &payup.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		payup.FinalizedAt = &t
	}
	payup.FailureReason = failureReason.String
	payup.TransactionID = transactionID.String

	return &payup, nil
}

// Settle records a terminal transition in a single database transaction.
func (r *PayupRepository) Settle(ctx context.Context, payup *domain.Payup, txn *domain.Transaction, msg *domain.OutboxMessage) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insertCreatedPayup(ctx, tx, payup); err != nil {
		return err
	}
	if err = transitionPayup(ctx, tx, payup); err != nil {
		return err
	}

	if txn != nil {
		if err = NewTransactionRepositoryWithTx(tx).Create(ctx, txn); err != nil {
			return err
		}
	}

	if msg != nil {
		if err = insertOutboxMessage(ctx, tx, msg); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// insertCreatedPayup makes sure a CREATED row exists so the transition below
// is always a conditional update.
func insertCreatedPayup(ctx context.Context, q Querier, payup *domain.Payup) error {
	query := `
		INSERT INTO payups (id, app_id, amount, currency, status, metadata, return_url, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	metadata, err := marshalMetadata(payup.Metadata)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, query,
		payup.ID,
		payup.AppID,
		payup.Amount,
		payup.Currency,
		domain.PayupStatusCreated,
		string(metadata),
		payup.ReturnURL,
		payup.CreatedAt,
		payup.ExpiresAt,
	)

	return err
}

func transitionPayup(ctx context.Context, q Querier, payup *domain.Payup) error {
	query := `
		UPDATE payups
		SET status = $1, finalized_at = $2, failure_reason = $3, transaction_id = $4
		WHERE id = $5 AND status = $6
	`

	result, err := q.ExecContext(ctx, query,
		payup.Status,
		payup.FinalizedAt,
		nullString(payup.FailureReason),
		nullString(payup.TransactionID),
		payup.ID,
		domain.PayupStatusCreated,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrAlreadySettled
	}

	return nil
}
