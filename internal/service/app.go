package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"payup/internal/crypto"
	"payup/internal/domain"
	"payup/internal/repository"
	"payup/internal/webhook"
)

// AppService handles merchant onboarding and credential management.
type AppService struct {
	appRepo      repository.AppRepository
	templateRepo repository.WebhookTemplateRepository
	logger       *slog.Logger
	validate     *validator.Validate
}

// NewAppService creates a new AppService.
func NewAppService(appRepo repository.AppRepository, templateRepo repository.WebhookTemplateRepository, logger *slog.Logger) *AppService {
	return &AppService{
		appRepo:      appRepo,
		templateRepo: templateRepo,
		logger:       logger,
		validate:     newValidator(nil),
	}
}

// CreateAppRequest contains the parameters for registering an app.
type CreateAppRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	WebhookURL string `json:"webhook_url" validate:"required,weburl"`
}

// CreateAppResponse carries the plaintext credentials. They are not retrievable later.
type CreateAppResponse struct {
	App           *domain.App
	APIKey        string
	WebhookSecret string
}

// CreateApp registers a new app and issues its API key and webhook secret.
func (s *AppService) CreateApp(ctx context.Context, req CreateAppRequest) (*CreateAppResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return nil, normalizeValidationError(err)
	}

	id := uuid.New().String()

	apiKey, hash, err := newAPIKey(id)
	if err != nil {
		return nil, err
	}

	secret, err := crypto.NewWebhookSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	app := &domain.App{
		ID:            id,
		Name:          req.Name,
		APIKeyHash:    hash,
		WebhookSecret: secret,
		WebhookURL:    req.WebhookURL,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.appRepo.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}

	s.logger.InfoContext(ctx, "app created", slog.String("app_id", id), slog.String("name", app.Name))

	return &CreateAppResponse{App: app, APIKey: apiKey, WebhookSecret: secret}, nil
}

// GetApp retrieves an app, including disabled ones.
func (s *AppService) GetApp(ctx context.Context, appID string) (*domain.App, error) {
	app, err := s.appRepo.GetByID(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}
	return app, nil
}

// Authenticate resolves an API key to its active app.
func (s *AppService) Authenticate(ctx context.Context, apiKey string) (*domain.App, error) {
	appID, err := crypto.ParseAPIKey(apiKey)
	if err != nil {
		return nil, ErrUnauthorized
	}

	app, err := s.appRepo.GetByID(ctx, appID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}

	if !app.Active || !crypto.CompareAPIKey(app.APIKeyHash, apiKey) {
		return nil, ErrUnauthorized
	}

	return app, nil
}

// RegenerateAPIKey replaces the app's API key; the previous key stops working immediately.
func (s *AppService) RegenerateAPIKey(ctx context.Context, appID string) (string, error) {
	app, err := s.GetApp(ctx, appID)
	if err != nil {
		return "", err
	}

	apiKey, hash, err := newAPIKey(app.ID)
	if err != nil {
		return "", err
	}

	if err := s.update(ctx, app.ID, repository.AppUpdate{APIKeyHash: &hash}); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "api key regenerated", slog.String("app_id", appID))
	return apiKey, nil
}

// RegenerateWebhookSecret replaces the webhook signing secret. Deliveries
// attempted after this call are signed with the new secret.
func (s *AppService) RegenerateWebhookSecret(ctx context.Context, appID string) (string, error) {
	app, err := s.GetApp(ctx, appID)
	if err != nil {
		return "", err
	}

	secret, err := crypto.NewWebhookSecret()
	if err != nil {
		return "", err
	}

	if err := s.update(ctx, app.ID, repository.AppUpdate{WebhookSecret: &secret}); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "webhook secret regenerated", slog.String("app_id", appID))
	return secret, nil
}

// UpdateWebhookURL changes where webhooks are delivered.
func (s *AppService) UpdateWebhookURL(ctx context.Context, appID, webhookURL string) (*domain.App, error) {
	if !isWebURL(webhookURL) {
		return nil, fmt.Errorf("%w: webhook_url must be an absolute http(s) URL", ErrValidation)
	}

	app, err := s.GetApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	if err := s.update(ctx, app.ID, repository.AppUpdate{WebhookURL: &webhookURL}); err != nil {
		return nil, err
	}
	app.WebhookURL = webhookURL

	return app, nil
}

// DisableApp soft-disables an app. Its sessions can no longer be created and
// its pending webhooks are dropped.
func (s *AppService) DisableApp(ctx context.Context, appID string) error {
	app, err := s.GetApp(ctx, appID)
	if err != nil {
		return err
	}
	if !app.Active {
		return nil
	}
	active := false
	if err := s.update(ctx, app.ID, repository.AppUpdate{Active: &active}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "app disabled", slog.String("app_id", appID))
	return nil
}

// UpsertWebhookTemplate stores the body template for an event type. The
// template must parse; rendering errors surface at delivery time.
func (s *AppService) UpsertWebhookTemplate(ctx context.Context, appID string, eventType domain.EventType, body string) (*domain.WebhookTemplate, error) {
	if !domain.ValidEventType(eventType) {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrValidation, eventType)
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("%w: template body is required", ErrValidation)
	}
	if _, err := webhook.ParseTemplate(string(eventType), body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if _, err := s.GetApp(ctx, appID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tmpl := &domain.WebhookTemplate{
		ID:        uuid.New().String(),
		AppID:     appID,
		EventType: eventType,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.templateRepo.Upsert(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDB, err)
	}

	return tmpl, nil
}

func (s *AppService) update(ctx context.Context, appID string, upd repository.AppUpdate) error {
	if err := s.appRepo.UpdateFields(ctx, appID, upd); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAppNotFound
		}
		return fmt.Errorf("%w: %v", ErrDB, err)
	}
	return nil
}

func newAPIKey(appID string) (key, hash string, err error) {
	key, err = crypto.NewAPIKey(appID)
	if err != nil {
		return "", "", err
	}
	hash, err = crypto.HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}
