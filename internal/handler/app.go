package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"payup/internal/domain"
	"payup/internal/middleware"
	"payup/internal/service"
)

// AppHandler handles HTTP requests for merchant apps.
type AppHandler struct {
	appService *service.AppService
}

// NewAppHandler creates a new AppHandler.
func NewAppHandler(appService *service.AppService) *AppHandler {
	return &AppHandler{appService: appService}
}

// CreateAppRequest is the HTTP request body for registering an app.
type CreateAppRequest struct {
	Name       string `json:"name"`
	WebhookURL string `json:"webhook_url"`
}

// UpdateWebhookURLRequest is the HTTP request body for changing the webhook endpoint.
type UpdateWebhookURLRequest struct {
	WebhookURL string `json:"webhook_url"`
}

// UpsertTemplateRequest is the HTTP request body for a webhook template.
type UpsertTemplateRequest struct {
	Body string `json:"body"`
}

// AppResponse is the HTTP response for app operations.
type AppResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	WebhookURL string    `json:"webhook_url"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// CredentialsResponse carries credentials that are only shown once.
type CredentialsResponse struct {
	App           *AppResponse `json:"app,omitempty"`
	APIKey        string       `json:"api_key,omitempty"`
	WebhookSecret string       `json:"webhook_secret,omitempty"`
}

// TemplateResponse is the HTTP response for template operations.
type TemplateResponse struct {
	ID        string           `json:"id"`
	EventType domain.EventType `json:"event_type"`
	Body      string           `json:"body"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// CreateApp handles POST /v1/apps
func (h *AppHandler) CreateApp(c *gin.Context) {
	var req CreateAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	resp, err := h.appService.CreateApp(c.Request.Context(), service.CreateAppRequest{
		Name:       req.Name,
		WebhookURL: req.WebhookURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, CredentialsResponse{
		App:           toAppResponse(resp.App),
		APIKey:        resp.APIKey,
		WebhookSecret: resp.WebhookSecret,
	})
}

// GetApp handles GET /v1/apps/me
func (h *AppHandler) GetApp(c *gin.Context) {
	app, ok := middleware.AppFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	respondJSON(c, http.StatusOK, toAppResponse(app))
}

// RegenerateAPIKey handles POST /v1/apps/me/api-key
func (h *AppHandler) RegenerateAPIKey(c *gin.Context) {
	app, ok := middleware.AppFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	key, err := h.appService.RegenerateAPIKey(c.Request.Context(), app.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, CredentialsResponse{APIKey: key})
}

// RegenerateWebhookSecret handles POST /v1/apps/me/webhook-secret
func (h *AppHandler) RegenerateWebhookSecret(c *gin.Context) {
	app, ok := middleware.AppFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	secret, err := h.appService.RegenerateWebhookSecret(c.Request.Context(), app.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, CredentialsResponse{WebhookSecret: secret})
}

// UpdateWebhookURL handles PUT /v1/apps/me/webhook-url
func (h *AppHandler) UpdateWebhookURL(c *gin.Context) {
	app, ok := middleware.AppFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req UpdateWebhookURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	updated, err := h.appService.UpdateWebhookURL(c.Request.Context(), app.ID, req.WebhookURL)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toAppResponse(updated))
}

// DisableApp handles DELETE /v1/apps/me
func (h *AppHandler) DisableApp(c *gin.Context) {
	app, ok := middleware.AppFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if err := h.appService.DisableApp(c.Request.Context(), app.ID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UpsertTemplate handles PUT /v1/apps/me/templates/:event_type
func (h *AppHandler) UpsertTemplate(c *gin.Context) {
	app, ok := middleware.AppFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req UpsertTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	tmpl, err := h.appService.UpsertWebhookTemplate(c.Request.Context(), app.ID, domain.EventType(c.Param("event_type")), req.Body)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, TemplateResponse{
		ID:        tmpl.ID,
		EventType: tmpl.EventType,
		Body:      tmpl.Body,
		UpdatedAt: tmpl.UpdatedAt,
	})
}

func toAppResponse(app *domain.App) *AppResponse {
	return &AppResponse{
		ID:         app.ID,
		Name:       app.Name,
		WebhookURL: app.WebhookURL,
		Active:     app.Active,
		CreatedAt:  app.CreatedAt,
	}
}
