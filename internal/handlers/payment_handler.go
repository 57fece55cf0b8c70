// Package handlers contains the HTTP handlers for the payment service.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/core/service"
)

// LinkIssuer is the part of service.LinkService the handlers use.
type LinkIssuer interface {
	GetOrCreateLink(ctx context.Context, req domain.LinkRequest) (*domain.Link, error)
	ExistingLink(ctx context.Context, itemType domain.ItemType, itemID string, price string) (*domain.Link, error)
	AttachLink(ctx context.Context, req domain.LinkRequest) *domain.Link
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
}

// NotificationHandler is the part of service.Reconciler the handlers use.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n domain.Notification) (service.Outcome, error)
}

// PaymentHandler handles HTTP requests for payment links and webhooks.
type PaymentHandler struct {
	links    LinkIssuer
	webhooks NotificationHandler
	logger   *zap.Logger
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(links LinkIssuer, webhooks NotificationHandler, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{links: links, webhooks: webhooks, logger: logger}
}

type linkResponse struct {
	Success      bool   `json:"success"`
	CheckoutLink string `json:"checkout_link,omitempty"`
	PreferenceID string `json:"preference_id,omitempty"`
	OrderID      string `json:"order_id,omitempty"`
	Reused       bool   `json:"reused"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func newLinkResponse(link *domain.Link) linkResponse {
	if link == nil {
		return linkResponse{Success: false}
	}
	return linkResponse{
		Success:      true,
		CheckoutLink: link.CheckoutLink,
		PreferenceID: link.PreferenceID,
		OrderID:      link.OrderID,
		Reused:       link.Reused,
	}
}

// CreateLink handles POST /api/v1/payment-links
// With ?best_effort=true failures are logged and answered with 200 and no link.
func (h *PaymentHandler) CreateLink(c *gin.Context) {
	var req domain.LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error: "Invalid request: " + err.Error(),
			Code:  "VALIDATION_ERROR",
		})
		return
	}

	if bestEffort, _ := strconv.ParseBool(c.Query("best_effort")); bestEffort {
		c.JSON(http.StatusOK, newLinkResponse(h.links.AttachLink(c.Request.Context(), req)))
		return
	}

	link, err := h.links.GetOrCreateLink(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newLinkResponse(link))
}

// GetLink handles GET /api/v1/payment-links/:item_type/:item_id?price=
// It only surfaces an existing link and never creates one.
func (h *PaymentHandler) GetLink(c *gin.Context) {
	link, err := h.links.ExistingLink(
		c.Request.Context(),
		domain.ItemType(c.Param("item_type")),
		c.Param("item_id"),
		c.Query("price"),
	)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newLinkResponse(link))
}

// GetOrder handles GET /api/v1/orders/:id
func (h *PaymentHandler) GetOrder(c *gin.Context) {
	order, err := h.links.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

// flexID accepts ids sent either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	*f = flexID(s)
	return nil
}

// webhookBody is the JSON Mercado Pago posts.
type webhookBody struct {
	ID       flexID `json:"id"`
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	Action   string `json:"action"`
	LiveMode bool   `json:"live_mode"`
	Data     struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

// HandleWebhook handles POST and GET /webhooks/mercadopago
// It always answers 200 so Mercado Pago does not start retrying.
func (h *PaymentHandler) HandleWebhook(c *gin.Context) {
	n := h.parseNotification(c)

	outcome, err := h.webhooks.HandleNotification(c.Request.Context(), n)
	if err != nil {
		h.logger.Warn("webhook processing error",
			zap.String("type", n.Type),
			zap.String("data_id", n.DataID),
			zap.String("request_id", n.RequestID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"success": false, "message": webhookErrorMessage(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": outcome.String()})
}

// parseNotification reads the JSON body and falls back to query parameters
// (type, data_id, data.id, topic, id) for fields the body does not carry.
func (h *PaymentHandler) parseNotification(c *gin.Context) domain.Notification {
	n := domain.Notification{
		Signature: c.GetHeader("x-signature"),
		RequestID: c.GetHeader("x-request-id"),
	}

	raw, _ := c.GetRawData()
	if len(bytes.TrimSpace(raw)) > 0 {
		var body webhookBody
		if err := json.Unmarshal(raw, &body); err != nil {
			// MP may send different formats, log and fall back to the query
			h.logger.Debug("webhook body not parsed", zap.Error(err))
		} else {
			n.ID = string(body.ID)
			n.Type = body.Type
			if n.Type == "" {
				n.Type = body.Topic
			}
			n.Action = body.Action
			n.LiveMode = body.LiveMode
			n.DataID = string(body.Data.ID)
		}
	}

	if n.Type == "" {
		n.Type = firstNonEmpty(c.Query("type"), c.Query("topic"))
	}
	if n.DataID == "" {
		n.DataID = firstNonEmpty(c.Query("data_id"), c.Query("data.id"))
	}
	// legacy IPN: ?topic=payment&id=123
	if n.DataID == "" && c.Query("topic") != "" {
		n.DataID = c.Query("id")
	}
	return n
}

func webhookErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrWebhookValidationFailed):
		return "invalid signature"
	case errors.Is(err, domain.ErrValidation):
		return "invalid notification"
	case errors.Is(err, domain.ErrPaymentGatewayError):
		return "payment lookup failed"
	default:
		return "processed with error"
	}
}

// writeError maps domain errors to HTTP statuses.
func (h *PaymentHandler) writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL_ERROR"
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrGatewayTransient):
		status, code = http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"
	case errors.Is(err, domain.ErrGatewayPermanent):
		status, code = http.StatusBadGateway, "GATEWAY_ERROR"
	case errors.Is(err, domain.ErrPersistence):
		code = "PERSISTENCE_ERROR"
	}

	var svcErr *domain.ServiceError
	if errors.As(err, &svcErr) && svcErr.Code != "" {
		code = svcErr.Code
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		msg = "Internal server error"
	}
	_ = c.Error(err)
	c.JSON(status, errorResponse{Error: msg, Code: code})
}

// Health handles GET /health
func (h *PaymentHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "lumiere-payments",
		"version": "1.0.0",
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
