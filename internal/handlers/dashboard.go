package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/aiusage/internal/aggregate"
	"github.com/huangang/aiusage/internal/services"
	"github.com/huangang/aiusage/pkg/response"
	"gorm.io/gorm"
)

type DashboardHandler struct {
	dashboardService *services.DashboardService
}

func NewDashboardHandler(db *gorm.DB) *DashboardHandler {
	return &DashboardHandler{
		dashboardService: services.NewDashboardService(db),
	}
}

// report builds the full report for the request's date range.
func (h *DashboardHandler) report(c *gin.Context) (*aggregate.Report, bool) {
	var req services.DashboardRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindFailed(c, err)
		return nil, false
	}
	report, err := h.dashboardService.Report(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return report, true
}

// view serves one section of the report.
func (h *DashboardHandler) view(pick func(*aggregate.Report) interface{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, ok := h.report(c)
		if !ok {
			return
		}
		response.Success(c, pick(report))
	}
}

// Report returns every dashboard view at once
// GET /api/dashboard
func (h *DashboardHandler) Report(c *gin.Context) {
	h.view(func(r *aggregate.Report) interface{} { return r })(c)
}

// GET /api/dashboard/summary
func (h *DashboardHandler) Summary(c *gin.Context) {
	h.view(func(r *aggregate.Report) interface{} { return r.Summary })(c)
}

// GET /api/dashboard/by-function
func (h *DashboardHandler) ByFunction(c *gin.Context) {
	h.view(func(r *aggregate.Report) interface{} { return r.ByFunction })(c)
}

// GET /api/dashboard/by-team
func (h *DashboardHandler) ByTeam(c *gin.Context) {
	h.view(func(r *aggregate.Report) interface{} { return r.ByTeam })(c)
}

// GET /api/dashboard/functions-with-teams
func (h *DashboardHandler) FunctionsWithTeams(c *gin.Context) {
	h.view(func(r *aggregate.Report) interface{} { return r.FunctionsWithTeams })(c)
}

// GET /api/dashboard/by-category
func (h *DashboardHandler) ByCategory(c *gin.Context) {
	h.view(func(r *aggregate.Report) interface{} { return r.ByCategory })(c)
}

// GET /api/dashboard/impact-types
func (h *DashboardHandler) ImpactTypes(c *gin.Context) {
	h.view(func(r *aggregate.Report) interface{} { return r.ImpactTypes })(c)
}

// GET /api/dashboard/tools-used
func (h *DashboardHandler) ToolsUsed(c *gin.Context) {
	h.view(func(r *aggregate.Report) interface{} { return r.ToolsUsed })(c)
}

// GET /api/dashboard/capabilities
func (h *DashboardHandler) Capabilities(c *gin.Context) {
	h.view(func(r *aggregate.Report) interface{} { return r.Capabilities })(c)
}
