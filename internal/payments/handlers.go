package payments

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/faithly/walletd/internal/auth"
	"github.com/faithly/walletd/internal/validation"
)

// Handler exposes the checkout and webhook endpoints.
type Handler struct {
	service       *Service
	webhookSecret string
	logger        *slog.Logger
}

func NewHandler(service *Service, webhookSecret string, logger *slog.Logger) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret, logger: logger}
}

// RegisterRoutes mounts the authenticated checkout endpoints on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/payments/checkout", h.createCheckout)
	r.GET("/payments/checkout/:sessionID", h.sessionStatus)
}

// RegisterWebhookRoutes mounts the Stripe webhook endpoint on r. It
// must stay outside auth middleware: Stripe signs the payload instead.
func (h *Handler) RegisterWebhookRoutes(r gin.IRouter) {
	r.POST("/webhooks/stripe", h.stripeWebhook)
}

type checkoutRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	AmountUSD int64  `json:"amount_usd" binding:"required"`
}

func (h *Handler) createCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !validation.IsValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "user_id must be 1-64 chars of [a-zA-Z0-9_-]"})
		return
	}
	if claims, ok := auth.GetClaims(c); ok &&
		claims.Subject != req.UserID && claims.Role != auth.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "cannot buy coins for another user"})
		return
	}

	sess, err := h.service.CreateCheckout(c.Request.Context(), req.UserID, req.AmountUSD)
	if err != nil {
		if errors.Is(err, ErrAmountOutOfRange) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount_out_of_range", "message": err.Error()})
			return
		}
		h.logger.Error("create checkout failed", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create checkout session"})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) sessionStatus(c *gin.Context) {
	sessionID := c.Param("sessionID")

	sess, err := h.service.SessionStatus(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found", "message": "no such checkout session"})
			return
		}
		h.logger.Error("session status failed", "session_id", sessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load checkout session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, validation.MaxRequestSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "failed to read payload"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.logger.Warn("stripe webhook signature rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "webhook signature verification failed"})
		return
	}

	if event.Type != "checkout.session.completed" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("stripe webhook payload unmarshal failed", "event_id", event.ID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed event payload"})
		return
	}

	userID := sess.Metadata["user_id"]
	amountWC, parseErr := strconv.ParseInt(sess.Metadata["amount_wc"], 10, 64)
	if userID == "" || parseErr != nil || amountWC <= 0 {
		h.logger.Error("stripe webhook missing metadata", "event_id", event.ID, "session_id", sess.ID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "session metadata missing user_id or amount_wc"})
		return
	}

	txn, err := h.service.CreditFromPayment(c.Request.Context(), userID, amountWC, sess.ID)
	if err != nil {
		// Non-2xx makes Stripe retry the delivery.
		h.logger.Error("stripe credit failed", "event_id", event.ID, "session_id", sess.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to credit payment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "transaction_id": txn.ID})
}
