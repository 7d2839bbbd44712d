package webhooks

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/faithly/walletd/internal/auth"
	"github.com/faithly/walletd/internal/idgen"
	"github.com/faithly/walletd/internal/security"
	"github.com/faithly/walletd/internal/validation"
)

// Handler manages webhook subscriptions over HTTP.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the subscription endpoints on r. Subscriptions
// carry signing secrets, so only the wallet owner (or admin) may touch them.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/wallets/:userID/webhooks", validation.UserIDParamMiddleware(), auth.RequireSelfOrAdmin("userID"), h.create)
	r.GET("/wallets/:userID/webhooks", validation.UserIDParamMiddleware(), auth.RequireSelfOrAdmin("userID"), h.list)
	r.DELETE("/wallets/:userID/webhooks/:webhookID", validation.UserIDParamMiddleware(), auth.RequireSelfOrAdmin("userID"), h.delete)
}

type createRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

func (h *Handler) create(c *gin.Context) {
	userID := c.Param("userID")

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": err.Error()})
		return
	}
	for _, e := range req.Events {
		if !KnownEvent(e) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_event", "message": "unknown event type: " + e})
			return
		}
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		UserID:    userID,
		URL:       req.URL,
		Secret:    idgen.Hex(32),
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create subscription"})
		return
	}

	// The secret is shown exactly once.
	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       sub.Secret,
		"signature": gin.H{
			"header":    "X-Walletd-Signature",
			"algorithm": "HMAC-SHA256 over the raw payload, hex encoded",
		},
	})
}

func (h *Handler) list(c *gin.Context) {
	userID := c.Param("userID")

	subs, err := h.store.GetByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list subscriptions"})
		return
	}
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

func (h *Handler) delete(c *gin.Context) {
	userID := c.Param("userID")
	webhookID := c.Param("webhookID")

	sub, err := h.store.Get(c.Request.Context(), webhookID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found", "message": "no such subscription"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load subscription"})
		return
	}
	if sub.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription_not_found", "message": "no such subscription"})
		return
	}

	if err := h.store.Delete(c.Request.Context(), webhookID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete subscription"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
