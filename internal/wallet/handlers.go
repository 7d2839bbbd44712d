package wallet

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/faithly/walletd/internal/auth"
	"github.com/faithly/walletd/internal/ledger"
	"github.com/faithly/walletd/internal/validation"
)

// Handler exposes wallet and auto top-up endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the wallet endpoints on r. The :userID routes
// are limited to the wallet owner (or admin/support tokens).
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/wallets", h.createWallet)
	r.GET("/wallets/:userID", validation.UserIDParamMiddleware(), auth.RequireSelfOrAdmin("userID"), h.getWallet)
	r.GET("/wallets/:userID/escrow-balance", validation.UserIDParamMiddleware(), auth.RequireSelfOrAdmin("userID"), h.getEscrowBalance)
	r.GET("/wallets/:userID/auto-topup", validation.UserIDParamMiddleware(), auth.RequireSelfOrAdmin("userID"), h.getAutoTopup)
	r.PUT("/wallets/:userID/auto-topup", validation.UserIDParamMiddleware(), auth.RequireSelfOrAdmin("userID"), h.updateAutoTopup)
}

// CreateWalletRequest is the body of POST /wallets.
type CreateWalletRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (h *Handler) createWallet(c *gin.Context) {
	var req CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !validation.IsValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "user_id must be 1-64 chars of [a-zA-Z0-9_-]"})
		return
	}
	if claims, ok := auth.GetClaims(c); ok && claims.Subject != req.UserID && claims.Role != auth.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "you may only create your own wallet"})
		return
	}

	w, err := h.service.Create(c.Request.Context(), req.UserID)
	if err != nil {
		h.logger.Error("create wallet failed", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create wallet"})
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handler) getWallet(c *gin.Context) {
	userID := c.Param("userID")

	w, err := h.service.Get(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrWalletNotFound), errors.Is(err, ErrConfigNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "wallet_not_found", "message": "no wallet for user"})
		default:
			h.logger.Error("get wallet failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load wallet"})
		}
		return
	}
	c.JSON(http.StatusOK, w)
}

func (h *Handler) getEscrowBalance(c *gin.Context) {
	userID := c.Param("userID")

	escrow, err := h.service.EscrowBalance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "wallet_not_found", "message": "no wallet for user"})
			return
		}
		h.logger.Error("get escrow balance failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load escrow balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "escrow_balance_wc": escrow})
}

func (h *Handler) getAutoTopup(c *gin.Context) {
	userID := c.Param("userID")

	cfg, err := h.service.GetAutoTopupConfig(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "wallet_not_found", "message": "no wallet for user"})
			return
		}
		h.logger.Error("get auto top-up config failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load auto top-up config"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateAutoTopupRequest is the body of PUT /wallets/:userID/auto-topup.
type UpdateAutoTopupRequest struct {
	Enabled     bool  `json:"enabled"`
	ThresholdWC int64 `json:"threshold_wc"`
	AmountWC    int64 `json:"amount_wc"`
}

func (h *Handler) updateAutoTopup(c *gin.Context) {
	userID := c.Param("userID")

	var req UpdateAutoTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	cfg, err := h.service.UpdateAutoTopupConfig(c.Request.Context(), &AutoTopupConfig{
		UserID:      userID,
		Enabled:     req.Enabled,
		ThresholdWC: req.ThresholdWC,
		AmountWC:    req.AmountWC,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrConfigOutOfRange):
			c.JSON(http.StatusBadRequest, gin.H{"error": "config_out_of_range", "message": err.Error()})
		case errors.Is(err, ErrConfigNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "wallet_not_found", "message": "no wallet for user"})
		default:
			h.logger.Error("update auto top-up config failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update auto top-up config"})
		}
		return
	}
	c.JSON(http.StatusOK, cfg)
}
