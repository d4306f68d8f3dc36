package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// DashboardSource produces the recruiter dashboard.
type DashboardSource interface {
	GetDashboardData(ctx context.Context) (*service.DashboardData, error)
}

// DashboardHandler handles recruiter dashboard endpoints.
type DashboardHandler struct {
	dashboard DashboardSource
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dashboard DashboardSource) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard}
}

// GetDashboardData godoc
// GET /api/v1/recruiter/dashboard
// Returns session status distribution, result stats, flagged sessions, and recent results.
func (h *DashboardHandler) GetDashboardData(c *gin.Context) {
	data, err := h.dashboard.GetDashboardData(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, data)
}
