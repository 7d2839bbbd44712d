package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/faithly/walletd/internal/auth"
	"github.com/faithly/walletd/internal/pagination"
	"github.com/faithly/walletd/internal/validation"
)

// Handler provides HTTP endpoints for ledger reads and admin adjustments.
type Handler struct {
	engine *Engine
	logger *slog.Logger
}

// NewHandler creates a new ledger handler.
func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes sets up ledger routes. Balances and history are
// visible to the wallet owner and to admin/support tokens only.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:userID/balance", validation.UserIDParamMiddleware(), auth.RequireSelfOrAdmin("userID"), h.GetBalance)
	r.GET("/wallets/:userID/transactions", validation.UserIDParamMiddleware(), auth.RequireSelfOrAdmin("userID"), h.GetHistory)
}

// RegisterAdminRoutes sets up admin-only ledger routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/adjustments", h.Adjust)
}

// GetBalance handles GET /wallets/:userID/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Param("userID")

	balance, err := h.engine.Balance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "wallet_not_found",
				"message": "No wallet exists for this user",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    userID,
		"balance_wc": balance,
	})
}

// GetHistory handles GET /wallets/:userID/transactions?limit=&cursor=
func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.Param("userID")
	limit := pagination.ParseLimit(c.Query("limit"))

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Cursor is malformed",
		})
		return
	}

	// Fetch one extra row to learn whether another page exists.
	txns, err := h.engine.History(c.Request.Context(), userID, limit+1, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_error",
			"message": "Failed to retrieve transaction history",
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(txns, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"transactions": page,
		"next_cursor":  next,
		"has_more":     hasMore,
	})
}

// AdjustRequest records a manual balance adjustment (support/admin use).
type AdjustRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Type        Type   `json:"type" binding:"required"`
	AmountWC    int64  `json:"amount_wc" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// Adjust handles POST /admin/adjustments
func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if req.Type != TypeCredit && req.Type != TypeDebit {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_type",
			"message": "Adjustment type must be credit or debit",
		})
		return
	}

	if !validation.IsValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_user_id",
			"message": "user_id must be alphanumeric (max 64 chars)",
		})
		return
	}

	txn, err := h.engine.Apply(c.Request.Context(), ApplyRequest{
		UserID:      req.UserID,
		Type:        req.Type,
		Amount:      req.AmountWC,
		Description: "admin_adjustment: " + req.Description,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be a positive number of coins",
			})
		case errors.Is(err, ErrInsufficientFunds):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "insufficient_funds",
				"message": "Debit exceeds the user's balance",
			})
		case errors.Is(err, ErrWalletNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "wallet_not_found",
				"message": "No wallet exists for this user",
			})
		default:
			h.logger.Error("admin adjustment failed", "user_id", req.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "adjustment_error",
				"message": "Failed to apply adjustment",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":           "applied",
		"transaction_id":   txn.ID,
		"user_id":          req.UserID,
		"balance_after_wc": txn.BalanceAfter,
	})
}
