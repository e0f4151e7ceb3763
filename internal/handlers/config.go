package handlers

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/aiusage/internal/services"
	"github.com/huangang/aiusage/internal/spreadsheet"
	"github.com/huangang/aiusage/pkg/response"
	"gorm.io/gorm"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	maxUploadBytes  = 10 << 20
)

type ConfigHandler struct {
	configService *services.ConfigService
}

func NewConfigHandler(db *gorm.DB) *ConfigHandler {
	return &ConfigHandler{
		configService: services.NewConfigService(db),
	}
}

// Get returns every lookup list
// GET /api/config
func (h *ConfigHandler) Get(c *gin.Context) {
	var req services.ConfigListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindFailed(c, err)
		return
	}
	snap, err := h.configService.Get(req.IncludeInactive)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, snap)
}

// GET /api/config/functions
func (h *ConfigHandler) ListFunctions(c *gin.Context) {
	listWith(c, func(req *services.ConfigListRequest) (interface{}, error) {
		return h.configService.ListFunctions(req.IncludeInactive)
	})
}

// GET /api/config/teams
func (h *ConfigHandler) ListTeams(c *gin.Context) {
	listWith(c, func(req *services.ConfigListRequest) (interface{}, error) {
		return h.configService.ListTeams(req)
	})
}

// GET /api/config/tools
func (h *ConfigHandler) ListTools(c *gin.Context) {
	listWith(c, func(req *services.ConfigListRequest) (interface{}, error) {
		return h.configService.ListTools(req.IncludeInactive)
	})
}

// GET /api/config/capabilities
func (h *ConfigHandler) ListCapabilities(c *gin.Context) {
	listWith(c, func(req *services.ConfigListRequest) (interface{}, error) {
		return h.configService.ListCapabilities(req.IncludeInactive)
	})
}

func (h *ConfigHandler) CreateFunction(c *gin.Context) {
	createWith(c, h.configService.CreateFunction)
}

func (h *ConfigHandler) UpdateFunction(c *gin.Context) {
	updateWith(c, h.configService.UpdateFunction)
}

func (h *ConfigHandler) DeleteFunction(c *gin.Context) {
	removeWith(c, h.configService.RemoveFunction)
}

func (h *ConfigHandler) CreateTeam(c *gin.Context) {
	createWith(c, h.configService.CreateTeam)
}

func (h *ConfigHandler) UpdateTeam(c *gin.Context) {
	updateWith(c, h.configService.UpdateTeam)
}

func (h *ConfigHandler) DeleteTeam(c *gin.Context) {
	removeWith(c, h.configService.RemoveTeam)
}

// TeamEntries reports a team's submission count and its sibling teams
// GET /api/config/teams/:id/entries
func (h *ConfigHandler) TeamEntries(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	entries, err := h.configService.TeamEntries(id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, entries)
}

// MoveTeamEntries moves a team's submissions and deletes the team
// POST /api/config/teams/:id/move-and-delete
func (h *ConfigHandler) MoveTeamEntries(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req services.MoveTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	result, err := h.configService.MoveTeamEntries(id, req.TargetTeamID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

func (h *ConfigHandler) CreateTool(c *gin.Context) {
	createWith(c, h.configService.CreateTool)
}

func (h *ConfigHandler) UpdateTool(c *gin.Context) {
	updateWith(c, h.configService.UpdateTool)
}

func (h *ConfigHandler) DeleteTool(c *gin.Context) {
	removeWith(c, h.configService.RemoveTool)
}

func (h *ConfigHandler) CreateCapability(c *gin.Context) {
	createWith(c, h.configService.CreateCapability)
}

func (h *ConfigHandler) UpdateCapability(c *gin.Context) {
	updateWith(c, h.configService.UpdateCapability)
}

func (h *ConfigHandler) DeleteCapability(c *gin.Context) {
	removeWith(c, h.configService.RemoveCapability)
}

// Upload replaces the lookups with the contents of an xlsx workbook.
// POST /api/config/upload
func (h *ConfigHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".xlsx") {
		response.BadRequest(c, "configuration must be an .xlsx workbook")
		return
	}
	if fh.Size > maxUploadBytes {
		response.BadRequest(c, "file is too large")
		return
	}

	f, err := fh.Open()
	if err != nil {
		fail(c, err)
		return
	}
	defer f.Close()

	batch, err := spreadsheet.ParseConfig(f)
	if err != nil {
		fail(c, err)
		return
	}
	version, err := h.configService.Replace(batch, filepath.Base(fh.Filename))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, version)
}

// Versions lists recent configuration replacements
// GET /api/config/versions
func (h *ConfigHandler) Versions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	versions, err := h.configService.ListVersions(limit)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, versions)
}

// Export downloads the active lookups in upload layout
// GET /api/config/export
func (h *ConfigHandler) Export(c *gin.Context) {
	batch, err := h.configService.ExportBatch()
	if err != nil {
		fail(c, err)
		return
	}
	var buf bytes.Buffer
	if err := spreadsheet.WriteConfig(&buf, batch); err != nil {
		fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="ai_usage_config.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func listWith(c *gin.Context, list func(*services.ConfigListRequest) (interface{}, error)) {
	var req services.ConfigListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindFailed(c, err)
		return
	}
	items, err := list(&req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, items)
}

func createWith[Req, T any](c *gin.Context, create func(*Req) (*T, error)) {
	var req Req
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	row, err := create(&req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, row)
}

func updateWith[Req, T any](c *gin.Context, update func(uint, *Req) (*T, error)) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req Req
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	row, err := update(id, &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, row)
}

func removeWith(c *gin.Context, remove func(uint) (*services.RemoveResult, error)) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	result, err := remove(id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}
