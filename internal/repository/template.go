package repository

import (
	"context"

	"payup/internal/domain"
)

// WebhookTemplateRepository defines the persistence operations for webhook templates.
type WebhookTemplateRepository interface {
	// Get retrieves the template for an app and event type.
	Get(ctx context.Context, appID string, eventType domain.EventType) (*domain.WebhookTemplate, error)

	// Upsert creates or replaces the template for its app and event type.
	Upsert(ctx context.Context, tmpl *domain.WebhookTemplate) error
}
