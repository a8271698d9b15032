package postgres

import (
	"context"
	"database/sql"
	"errors"

	"payup/internal/domain"
	"payup/internal/repository"
)

// WebhookTemplateRepository is a PostgreSQL implementation of repository.WebhookTemplateRepository.
type WebhookTemplateRepository struct {
	q Querier
}

// NewWebhookTemplateRepository creates a new PostgreSQL webhook template repository.
func NewWebhookTemplateRepository(db *sql.DB) *WebhookTemplateRepository {
	return &WebhookTemplateRepository{q: db}
}

// Get retrieves the template for an app and event type.
func (r *WebhookTemplateRepository) Get(ctx context.Context, appID string, eventType domain.EventType) (*domain.WebhookTemplate, error) {
	query := `
		SELECT id, app_id, event_type, body, created_at, updated_at
		FROM webhook_templates WHERE app_id = $1 AND event_type = $2
	`

	var tmpl domain.WebhookTemplate
	err := r.q.QueryRowContext(ctx, query, appID, eventType).Scan(
		&tmpl.ID,
		&tmpl.AppID,
		&tmpl.EventType,
		&tmpl.Body,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &tmpl, nil
}

// Upsert creates or replaces the template for its app and event type.
func (r *WebhookTemplateRepository) Upsert(ctx context.Context, tmpl *domain.WebhookTemplate) error {
	query := `
		INSERT INTO webhook_templates (id, app_id, event_type, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (app_id, event_type)
		DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	return r.q.QueryRowContext(ctx, query,
		tmpl.ID,
		tmpl.AppID,
		tmpl.EventType,
		tmpl.Body,
		tmpl.CreatedAt,
		tmpl.UpdatedAt,
	).Scan(&tmpl.ID, &tmpl.CreatedAt)
}
