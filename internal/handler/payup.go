package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"payup/internal/domain"
	"payup/internal/middleware"
	"payup/internal/service"
)

// PayupHandler handles HTTP requests for payment sessions.
type PayupHandler struct {
	sessionService *service.SessionService
}

// NewPayupHandler creates a new PayupHandler.
func NewPayupHandler(sessionService *service.SessionService) *PayupHandler {
	return &PayupHandler{sessionService: sessionService}
}

// CreatePayupRequest is the HTTP request body for creating a payup.
type CreatePayupRequest struct {
	Amount    int64          `json:"amount"`
	Currency  string         `json:"currency"`
	Metadata  map[string]any `json:"metadata"`
	ReturnURL string         `json:"return_url"`
}

// FinalizeRequest is the HTTP request body posted by the checkout surface.
type FinalizeRequest struct {
	Outcome       string `json:"outcome"`
	FailureReason string `json:"failure_reason"`
}

// CheckoutResponse is the projection of a payup shown on the checkout page.
type CheckoutResponse struct {
	ID        string             `json:"id"`
	AppID     string             `json:"app_id"`
	Amount    int64              `json:"amount"`
	Currency  string             `json:"currency"`
	Status    domain.PayupStatus `json:"status"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	ReturnURL string             `json:"return_url"`
	CreatedAt time.Time          `json:"created_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// TransitionResponse is the HTTP response for finalize and cancel.
type TransitionResponse struct {
	Payup            CheckoutResponse    `json:"payup"`
	Transaction      *domain.Transaction `json:"transaction,omitempty"`
	AlreadyProcessed bool                `json:"already_processed"`
	DeliveryEnqueued bool                `json:"delivery_enqueued"`
}

// CreatePayup handles POST /v1/payups
func (h *PayupHandler) CreatePayup(c *gin.Context) {
	app, ok := middleware.AppFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreatePayupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	payup, err := h.sessionService.CreateSession(c.Request.Context(), service.CreateSessionRequest{
		AppID:     app.ID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Metadata:  req.Metadata,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toCheckoutResponse(payup))
}

// GetCheckout handles GET /v1/checkout/:id
func (h *PayupHandler) GetCheckout(c *gin.Context) {
	payup, err := h.sessionService.GetSessionData(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toCheckoutResponse(payup))
}

// Finalize handles POST /v1/checkout/:id/finalize
func (h *PayupHandler) Finalize(c *gin.Context) {
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.sessionService.FinalizePayment(c.Request.Context(), c.Param("id"), domain.Outcome{
		Status:        domain.OutcomeStatus(req.Outcome),
		FailureReason: req.FailureReason,
	})
	if result == nil {
		respondError(c, err)
		return
	}
	logQueueError(c, err)

	respondJSON(c, http.StatusOK, TransitionResponse{
		Payup:            toCheckoutResponse(result.Payup),
		Transaction:      result.Transaction,
		AlreadyProcessed: result.AlreadyProcessed,
		DeliveryEnqueued: result.DeliveryEnqueued,
	})
}

// Cancel handles POST /v1/checkout/:id/cancel
func (h *PayupHandler) Cancel(c *gin.Context) {
	result, err := h.sessionService.CancelPayment(c.Request.Context(), c.Param("id"))
	if result == nil {
		respondError(c, err)
		return
	}
	logQueueError(c, err)

	respondJSON(c, http.StatusOK, TransitionResponse{
		Payup:            toCheckoutResponse(result.Payup),
		AlreadyProcessed: result.AlreadyProcessed,
		DeliveryEnqueued: result.DeliveryEnqueued,
	})
}

// logQueueError records an enqueue failure that followed a committed transition.
func logQueueError(c *gin.Context, err error) {
	if err != nil && errors.Is(err, service.ErrQueue) {
		_ = c.Error(err)
	}
}

func toCheckoutResponse(p *domain.Payup) CheckoutResponse {
	return CheckoutResponse{
		ID:        p.ID,
		AppID:     p.AppID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Status:    p.Status,
		Metadata:  p.Metadata,
		ReturnURL: p.ReturnURL,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	}
}
