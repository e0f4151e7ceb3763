package main

import (
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/aiusage/internal/handlers"
	"github.com/huangang/aiusage/internal/middleware"
	"github.com/huangang/aiusage/pkg/logger"
	"github.com/huangang/aiusage/pkg/response"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed static/*
var staticFiles embed.FS

// newRouter sets up all HTTP routes.
func newRouter(svc *appServices) *gin.Engine {
	r := gin.New()
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.AllowOrigins...))

	health := handlers.NewHealthHandler(svc.db, svc.taskQueue)
	r.GET("/health", health.CheckHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.AuditLog())
	{
		api.GET("/version", handlers.GetVersion)

		// Configuration lookups
		configHandler := handlers.NewConfigHandler(svc.db)
		api.GET("/config", configHandler.Get)
		api.GET("/config/functions", configHandler.ListFunctions)
		api.POST("/config/functions", configHandler.CreateFunction)
		api.PUT("/config/functions/:id", configHandler.UpdateFunction)
		api.DELETE("/config/functions/:id", configHandler.DeleteFunction)
		api.GET("/config/teams", configHandler.ListTeams)
		api.POST("/config/teams", configHandler.CreateTeam)
		api.PUT("/config/teams/:id", configHandler.UpdateTeam)
		api.DELETE("/config/teams/:id", configHandler.DeleteTeam)
		api.GET("/config/teams/:id/entries", configHandler.TeamEntries)
		api.POST("/config/teams/:id/move-and-delete", configHandler.MoveTeamEntries)
		api.GET("/config/tools", configHandler.ListTools)
		api.POST("/config/tools", configHandler.CreateTool)
		api.PUT("/config/tools/:id", configHandler.UpdateTool)
		api.DELETE("/config/tools/:id", configHandler.DeleteTool)
		api.GET("/config/capabilities", configHandler.ListCapabilities)
		api.POST("/config/capabilities", configHandler.CreateCapability)
		api.PUT("/config/capabilities/:id", configHandler.UpdateCapability)
		api.DELETE("/config/capabilities/:id", configHandler.DeleteCapability)
		api.POST("/config/upload", configHandler.Upload)
		api.GET("/config/versions", configHandler.Versions)
		api.GET("/config/export", configHandler.Export)

		// Responses
		responseHandler := handlers.NewResponseHandler(svc.db, svc.exportService, svc.taskQueue)
		api.GET("/responses", responseHandler.List)
		api.GET("/responses/export", responseHandler.Export)
		api.POST("/responses/import", responseHandler.Import)
		api.GET("/responses/:id", responseHandler.Get)
		api.POST("/responses", svc.submitLimiter.Middleware(), responseHandler.Create)
		api.PUT("/responses/:id", responseHandler.Update)
		api.DELETE("/responses/:id", responseHandler.Delete)
		api.POST("/exports", responseHandler.CreateExportJob)
		api.GET("/exports", responseHandler.ListExports)

		// Dashboard
		dashboardHandler := handlers.NewDashboardHandler(svc.db)
		api.GET("/dashboard", dashboardHandler.Report)
		api.GET("/dashboard/summary", dashboardHandler.Summary)
		api.GET("/dashboard/by-function", dashboardHandler.ByFunction)
		api.GET("/dashboard/by-team", dashboardHandler.ByTeam)
		api.GET("/dashboard/functions-with-teams", dashboardHandler.FunctionsWithTeams)
		api.GET("/dashboard/by-category", dashboardHandler.ByCategory)
		api.GET("/dashboard/impact-types", dashboardHandler.ImpactTypes)
		api.GET("/dashboard/tools-used", dashboardHandler.ToolsUsed)
		api.GET("/dashboard/capabilities", dashboardHandler.Capabilities)

		// System logs
		systemLogHandler := handlers.NewSystemLogHandler(svc.db)
		api.GET("/system-logs", systemLogHandler.List)
		api.GET("/system-logs/modules", systemLogHandler.GetModules)
	}

	registerStatic(r)
	return r
}

// registerStatic serves the embedded pages, falling back to index.html for
// client-side routes. Unknown /api paths get a JSON 404.
func registerStatic(r *gin.Engine) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		logger.Warn().Err(err).Msg("Embedded static files unavailable")
		return
	}

	serveIndex := func(c *gin.Context) {
		data, err := fs.ReadFile(staticFS, "index.html")
		if err != nil {
			c.String(http.StatusNotFound, "index.html not found")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", data)
	}
	r.GET("/", serveIndex)

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			response.NotFound(c, "route not found")
			return
		}
		name := strings.TrimPrefix(path.Clean(c.Request.URL.Path), "/")
		data, err := fs.ReadFile(staticFS, name)
		if err != nil {
			serveIndex(c)
			return
		}
		contentType := mime.TypeByExtension(path.Ext(name))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(http.StatusOK, contentType, data)
	})
}
