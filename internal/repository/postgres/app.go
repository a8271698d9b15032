package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"payup/internal/crypto"
	"payup/internal/domain"
	"payup/internal/repository"
)

// AppRepository is a PostgreSQL implementation of repository.AppRepository.
// Webhook secrets are sealed before they are written and opened on read.
type AppRepository struct {
	q      Querier
	sealer *crypto.Sealer
}

// NewAppRepository creates a new PostgreSQL app repository.
func NewAppRepository(db *sql.DB, sealer *crypto.Sealer) *AppRepository {
	return &AppRepository{q: db, sealer: sealer}
}

// Create persists a new app.
func (r *AppRepository) Create(ctx context.Context, app *domain.App) error {
	query := `
		INSERT INTO apps (id, name, api_key_hash, webhook_secret, webhook_url, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	sealed, err := r.sealer.Seal(app.WebhookSecret)
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, query,
		app.ID,
		app.Name,
		app.APIKeyHash,
		sealed,
		app.WebhookURL,
		app.Active,
		app.CreatedAt,
		app.UpdatedAt,
	)

	return err
}

// GetByID retrieves an app by ID.
func (r *AppRepository) GetByID(ctx context.Context, id string) (*domain.App, error) {
	query := `
		SELECT id, name, api_key_hash, webhook_secret, webhook_url, active, created_at, updated_at
		FROM apps WHERE id = $1
	`

	var app domain.App
	var sealed string
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&app.ID,
		&app.Name,
		&app.APIKeyHash,
		&sealed,
		&app.WebhookURL,
		&app.Active,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	app.WebhookSecret, err = r.sealer.Open(sealed)
	if err != nil {
		return nil, err
	}

	return &app, nil
}

// UpdateFields writes the columns set in upd and bumps updated_at.
func (r *AppRepository) UpdateFields(ctx context.Context, id string, upd repository.AppUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.APIKeyHash != nil {
		set("api_key_hash", *upd.APIKeyHash)
	}
	if upd.WebhookSecret != nil {
		sealed, err := r.sealer.Seal(*upd.WebhookSecret)
		if err != nil {
			return err
		}
		set("webhook_secret", sealed)
	}
	if upd.WebhookURL != nil {
		set("webhook_url", *upd.WebhookURL)
	}
	if upd.Active != nil {
		set("active", *upd.Active)
	}
	if len(sets) == 0 {
		return nil
	}
	set("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE apps SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}
