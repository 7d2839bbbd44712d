package escrow

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/faithly/walletd/internal/auth"
	"github.com/faithly/walletd/internal/ledger"
	"github.com/faithly/walletd/internal/validation"
)

// Handler exposes the escrow endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the escrow endpoints on r. Lock and release
// are called by the booking service with an admin token, or by the
// wallet owner directly.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/escrow/lock", h.lock)
	r.POST("/escrow/release", h.release)
	r.GET("/escrow/bookings/:bookingID", h.status)
	r.GET("/wallets/:userID/escrow", validation.UserIDParamMiddleware(), auth.RequireSelfOrAdmin("userID"), h.listByUser)
}

type lockRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	BookingID   string `json:"booking_id" binding:"required"`
	AmountWC    int64  `json:"amount_wc" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) lock(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !validation.IsValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id", "message": "user_id must be 1-64 chars of [a-zA-Z0-9_-]"})
		return
	}
	if !h.mayOperate(c, req.UserID) {
		return
	}

	txn, err := h.service.LockFunds(c.Request.Context(), LockRequest{
		UserID:      req.UserID,
		BookingID:   req.BookingID,
		AmountWC:    req.AmountWC,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(c, "lock", req.BookingID, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

type releaseRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	BookingID   string `json:"booking_id" binding:"required"`
	AmountWC    int64  `json:"amount_wc" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) release(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if !h.mayOperate(c, req.UserID) {
		return
	}

	txn, err := h.service.ReleaseFunds(c.Request.Context(), ReleaseRequest{
		UserID:      req.UserID,
		BookingID:   req.BookingID,
		AmountWC:    req.AmountWC,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(c, "release", req.BookingID, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// mayOperate allows the wallet owner and admin tokens to move escrow
// funds. The booking service calls these endpoints with an admin token.
func (h *Handler) mayOperate(c *gin.Context, userID string) bool {
	claims, ok := auth.GetClaims(c)
	if ok && claims.Subject != userID && claims.Role != auth.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "you may only move escrow on your own wallet"})
		return false
	}
	return true
}

func (h *Handler) status(c *gin.Context) {
	bookingID := c.Param("bookingID")

	lock, err := h.service.Status(c.Request.Context(), bookingID)
	if err != nil {
		if errors.Is(err, ErrLockNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "escrow_not_found", "message": "no escrow for booking"})
			return
		}
		h.logger.Error("escrow status failed", "booking_id", bookingID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load escrow status"})
		return
	}
	if claims, ok := auth.GetClaims(c); ok && claims.Subject != lock.UserID &&
		claims.Role != auth.RoleAdmin && claims.Role != auth.RoleSupport {
		c.JSON(http.StatusNotFound, gin.H{"error": "escrow_not_found", "message": "no escrow for booking"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"booking_id":     lock.BookingID,
		"user_id":        lock.UserID,
		"locked_wc":      lock.LockedWC,
		"released_wc":    lock.ReleasedWC,
		"outstanding_wc": lock.OutstandingWC(),
		"created_at":     lock.CreatedAt,
		"updated_at":     lock.UpdatedAt,
	})
}

func (h *Handler) listByUser(c *gin.Context) {
	userID := c.Param("userID")

	locks, err := h.service.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list escrow failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list escrow"})
		return
	}
	if locks == nil {
		locks = []*Lock{}
	}
	c.JSON(http.StatusOK, gin.H{"escrow_locks": locks})
}

func (h *Handler) writeError(c *gin.Context, op, bookingID string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_funds", "message": err.Error()})
	case errors.Is(err, ErrEscrowMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "escrow_mismatch", "message": err.Error()})
	case errors.Is(err, ErrUserMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "user_mismatch", "message": err.Error()})
	case errors.Is(err, ErrLockNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "escrow_not_found", "message": "no escrow for booking"})
	case errors.Is(err, ledger.ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "wallet_not_found", "message": "no wallet for user"})
	default:
		h.logger.Error("escrow operation failed", "op", op, "booking_id", bookingID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "escrow operation failed"})
	}
}
