package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/aiusage/internal/services"
	"github.com/huangang/aiusage/pkg/response"
	"gorm.io/gorm"
)

// ExportJobRequest selects the format of a background export.
type ExportJobRequest struct {
	Format string `json:"format" binding:"omitempty,oneof=csv xlsx"`
}

// ExportJob is returned when an export job is accepted.
type ExportJob struct {
	JobID  string `json:"job_id"`
	Format string `json:"format"`
	Async  bool   `json:"async"`
}

type ResponseHandler struct {
	responseService *services.ResponseService
	importService   *services.ImportService
	exportService   *services.ExportService
	queue           services.TaskQueue
}

func NewResponseHandler(db *gorm.DB, exportService *services.ExportService, queue services.TaskQueue) *ResponseHandler {
	return &ResponseHandler{
		responseService: services.NewResponseService(db),
		importService:   services.NewImportService(db),
		exportService:   exportService,
		queue:           queue,
	}
}

// List returns responses, newest first
// GET /api/responses
func (h *ResponseHandler) List(c *gin.Context) {
	var req services.ResponseListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindFailed(c, err)
		return
	}

	resp, err := h.responseService.List(&req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, resp)
}

// GET /api/responses/:id
func (h *ResponseHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	resp, err := h.responseService.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, resp)
}

// Create stores a submission
// POST /api/responses
func (h *ResponseHandler) Create(c *gin.Context) {
	var req services.CreateResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	resp, err := h.responseService.Create(&req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, resp)
}

// PUT /api/responses/:id
func (h *ResponseHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req services.UpdateResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindFailed(c, err)
		return
	}
	resp, err := h.responseService.Update(id, &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, resp)
}

// DELETE /api/responses/:id
func (h *ResponseHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.responseService.Delete(id); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

// Export downloads every response as csv or xlsx
// GET /api/responses/export?format=csv
func (h *ResponseHandler) Export(c *gin.Context) {
	format := c.DefaultQuery("format", services.FormatCSV)
	if !services.IsValidFormat(format) {
		response.BadRequest(c, "format must be csv or xlsx")
		return
	}

	var buf bytes.Buffer
	if _, err := h.exportService.Write(&buf, format); err != nil {
		fail(c, err)
		return
	}

	contentType := "text/csv; charset=utf-8"
	if format == services.FormatXLSX {
		contentType = xlsxContentType
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, services.ExportFilename(format, time.Now())))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// Import loads responses from an uploaded csv
// POST /api/responses/import?mode=append
func (h *ResponseHandler) Import(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
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

	result, err := h.importService.ImportCSV(f, c.Query("mode"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// CreateExportJob queues an export into the export directory
// POST /api/exports
func (h *ResponseHandler) CreateExportJob(c *gin.Context) {
	var req ExportJobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindFailed(c, err)
			return
		}
	}
	if req.Format == "" {
		req.Format = services.FormatCSV
	}
	if h.queue == nil {
		response.ServerError(c, "task queue is not initialized")
		return
	}

	task := services.NewExportTask(req.Format, "api")
	if err := h.queue.Enqueue(task); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, response.Response{
		Code:    0,
		Message: "accepted",
		Data:    ExportJob{JobID: task.JobID, Format: task.Format, Async: h.queue.IsAsync()},
	})
}

// ListExports returns the files in the export directory
// GET /api/exports
func (h *ResponseHandler) ListExports(c *gin.Context) {
	files, err := h.exportService.ListExports()
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, files)
}
