package reconciliation

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the admin reconciliation endpoint.
type Handler struct {
	checker *Checker
	timer   *Timer
	logger  *slog.Logger
}

func NewHandler(checker *Checker, timer *Timer, logger *slog.Logger) *Handler {
	return &Handler{checker: checker, timer: timer, logger: logger}
}

// RegisterAdminRoutes mounts the endpoints on an admin-guarded group.
func (h *Handler) RegisterAdminRoutes(r gin.IRouter) {
	r.POST("/admin/reconciliation/run", h.run)
	r.GET("/admin/reconciliation/status", h.status)
}

func (h *Handler) run(c *gin.Context) {
	report, err := h.checker.Run(c.Request.Context())
	if err != nil {
		h.logger.Error("reconciliation run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "reconciliation run failed"})
		return
	}
	if report.Mismatches == nil {
		report.Mismatches = []Mismatch{}
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) status(c *gin.Context) {
	running := false
	if h.timer != nil {
		running = h.timer.Running()
	}
	c.JSON(http.StatusOK, gin.H{"periodic_runs": running})
}
