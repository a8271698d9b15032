package domain

import "time"

// App represents a registered merchant application.
type App struct {
	ID            string
	Name          string
	APIKeyHash    string
	WebhookSecret string // Plaintext in memory; sealed at rest by the repository.
	WebhookURL    string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
