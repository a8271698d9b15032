package repository

import (
	"context"

	"payup/internal/domain"
)

// AppRepository defines the persistence operations for merchant apps.
type AppRepository interface {
	// Create persists a new app.
	Create(ctx context.Context, app *domain.App) error

	// GetByID retrieves an app by ID, including inactive ones.
	GetByID(ctx context.Context, id string) (*domain.App, error)

	// UpdateFields writes only the columns set in upd, so concurrent updates of
	// different fields do not overwrite each other.
	UpdateFields(ctx context.Context, id string, upd AppUpdate) error
}

// AppUpdate lists the app columns to change. Nil fields are left untouched.
type AppUpdate struct {
	APIKeyHash    *string
	WebhookSecret *string
	WebhookURL    *string
	Active        *bool
}
