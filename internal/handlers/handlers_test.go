package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/huangang/aiusage/internal/config"
	"github.com/huangang/aiusage/internal/models"
	"github.com/huangang/aiusage/internal/services"
	"github.com/huangang/aiusage/internal/spreadsheet"
	"github.com/huangang/aiusage/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	db      *gorm.DB
	router  *gin.Engine
	queue   *services.SyncQueue
	exports *services.ExportService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	require.NoError(t, models.Seed(db))
	services.InitSystemLogger(db)

	queue := services.NewSyncQueue()
	exports := services.NewExportService(db, t.TempDir())
	queue.SetProcessor(exports.ProcessExportTask)
	t.Cleanup(func() {
		queue.Close()
		services.InitSystemLogger(nil)
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	r := gin.New()
	health := NewHealthHandler(db, queue)
	r.GET("/health", health.CheckHealth)

	api := r.Group("/api")
	cfg := NewConfigHandler(db)
	api.GET("/config", cfg.Get)
	api.GET("/config/functions", cfg.ListFunctions)
	api.POST("/config/functions", cfg.CreateFunction)
	api.PUT("/config/functions/:id", cfg.UpdateFunction)
	api.DELETE("/config/tools/:id", cfg.DeleteTool)
	api.GET("/config/teams/:id/entries", cfg.TeamEntries)
	api.POST("/config/teams/:id/move-and-delete", cfg.MoveTeamEntries)
	api.POST("/config/upload", cfg.Upload)
	api.GET("/config/export", cfg.Export)
	api.GET("/config/versions", cfg.Versions)

	resp := NewResponseHandler(db, exports, queue)
	api.GET("/responses", resp.List)
	api.GET("/responses/export", resp.Export)
	api.POST("/responses/import", resp.Import)
	api.GET("/responses/:id", resp.Get)
	api.POST("/responses", resp.Create)
	api.DELETE("/responses/:id", resp.Delete)
	api.POST("/exports", resp.CreateExportJob)
	api.GET("/exports", resp.ListExports)

	dash := NewDashboardHandler(db)
	api.GET("/dashboard", dash.Report)
	api.GET("/dashboard/summary", dash.Summary)
	api.GET("/dashboard/tools-used", dash.ToolsUsed)

	return &testServer{db: db, router: r, queue: queue, exports: exports}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) doJSON(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *testServer) upload(t *testing.T, path, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(req)
}

// decode parses the envelope and, when dest is set, its data.
func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) response.Response {
	t.Helper()
	var env struct {
		response.Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if dest != nil {
		require.NoError(t, json.Unmarshal(env.Data, dest))
	}
	return env.Response
}

func (s *testServer) lookupID(t *testing.T, model interface{}, name string) uint {
	t.Helper()
	var row struct{ ID uint }
	require.NoError(t, s.db.Model(model).Where("name = ?", name).Select("id").Scan(&row).Error)
	require.NotZero(t, row.ID, "%T %s", model, name)
	return row.ID
}

func (s *testServer) workflowBody(t *testing.T) map[string]interface{} {
	t.Helper()
	sales := s.lookupID(t, &models.Function{}, "Sales")
	var team models.Team
	require.NoError(t, s.db.Where("function_id = ? AND name = ?", sales, "NA").First(&team).Error)
	return map[string]interface{}{
		"function_id":   sales,
		"team_id":       team.ID,
		"method_type":   "workflow",
		"capability_id": s.lookupID(t, &models.Capability{}, "Drafting"),
		"description":   "Drafting follow-up emails after discovery calls",
		"tools": []map[string]interface{}{
			{"tool_id": s.lookupID(t, &models.Tool{}, "ChatGPT")},
			{"custom_name": "Notion AI"},
		},
		"impacts": []map[string]interface{}{
			{"type": "time_savings", "value": 30, "frequency": "weekly", "time_unit": "minutes"},
		},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestResponseHandler_CreateAndGet(t *testing.T) {
	s := newTestServer(t)

	w := s.doJSON(t, http.MethodPost, "/api/responses", s.workflowBody(t))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Response
	env := decode(t, w, &created)
	assert.Equal(t, 0, env.Code)
	require.NotZero(t, created.ID)
	require.Len(t, created.Impacts, 1)
	require.NotNil(t, created.Impacts[0].AnnualValue)
	assert.InDelta(t, 26.0, *created.Impacts[0].AnnualValue, 1e-9)

	w = s.doJSON(t, http.MethodGet, "/api/responses/"+strconv.Itoa(int(created.ID)), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Response
	decode(t, w, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Len(t, got.Tools, 2)
}

func TestResponseHandler_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   func(map[string]interface{})
		status int
	}{
		{
			name:   "unknown method type",
			method: http.MethodPost,
			path:   "/api/responses",
			body:   func(b map[string]interface{}) { b["method_type"] = "pilot" },
			status: http.StatusBadRequest,
		},
		{
			name:   "experiment with impacts",
			method: http.MethodPost,
			path:   "/api/responses",
			body:   func(b map[string]interface{}) { b["method_type"] = "experiment" },
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown function",
			method: http.MethodPost,
			path:   "/api/responses",
			body:   func(b map[string]interface{}) { b["function_id"] = 9999 },
			status: http.StatusBadRequest,
		},
		{
			name:   "missing response",
			method: http.MethodGet,
			path:   "/api/responses/9999",
			status: http.StatusNotFound,
		},
		{
			name:   "invalid id",
			method: http.MethodDelete,
			path:   "/api/responses/abc",
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body interface{}
			if tt.body != nil {
				b := s.workflowBody(t)
				tt.body(b)
				body = b
			}
			w := s.doJSON(t, tt.method, tt.path, body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			env := decode(t, w, nil)
			assert.Equal(t, tt.status, env.Code)
			assert.NotEmpty(t, env.Message)
		})
	}

	var count int64
	require.NoError(t, s.db.Model(&models.Response{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestResponseHandler_BindingMessage(t *testing.T) {
	s := newTestServer(t)
	body := s.workflowBody(t)
	body["method_type"] = "pilot"

	w := s.doJSON(t, http.MethodPost, "/api/responses", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w, nil)
	assert.Contains(t, env.Message, "method_type must be one of workflow, task, experiment")
}

func TestConfigHandler_CreateConflict(t *testing.T) {
	s := newTestServer(t)

	w := s.doJSON(t, http.MethodPost, "/api/config/functions", map[string]string{"name": "Legal"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.doJSON(t, http.MethodPost, "/api/config/functions", map[string]string{"name": "legal"})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = s.doJSON(t, http.MethodPost, "/api/config/functions", map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestConfigHandler_DeleteReferencedTool(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/api/responses", s.workflowBody(t)).Code)
	chatGPT := s.lookupID(t, &models.Tool{}, "ChatGPT")

	w := s.doJSON(t, http.MethodDelete, "/api/config/tools/"+strconv.Itoa(int(chatGPT)), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result services.RemoveResult
	decode(t, w, &result)
	assert.True(t, result.Deactivated)
	assert.False(t, result.Deleted)
}

func (s *testServer) teamID(t *testing.T, function, name string) uint {
	t.Helper()
	var team models.Team
	err := s.db.Where("function_id = ? AND name = ?", s.lookupID(t, &models.Function{}, function), name).First(&team).Error
	require.NoError(t, err)
	return team.ID
}

func TestConfigHandler_MoveTeamEntries(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/api/responses", s.workflowBody(t)).Code)
	na := strconv.Itoa(int(s.teamID(t, "Sales", "NA")))

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/config/teams/"+na+"/entries", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var entries services.TeamEntries
	decode(t, w, &entries)
	assert.EqualValues(t, 1, entries.EntryCount)
	assert.Len(t, entries.SiblingTeams, 4)

	w = s.doJSON(t, http.MethodPost, "/api/config/teams/"+na+"/move-and-delete",
		map[string]interface{}{"target_team_id": s.teamID(t, "Engineering", "Backend")})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = s.doJSON(t, http.MethodPost, "/api/config/teams/"+na+"/move-and-delete",
		map[string]interface{}{"target_team_id": nil})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result services.MoveTeamResult
	decode(t, w, &result)
	assert.EqualValues(t, 1, result.Moved)
	assert.Nil(t, result.TargetTeamID)

	var unassigned int64
	require.NoError(t, s.db.Model(&models.Response{}).Where("team_id IS NULL").Count(&unassigned).Error)
	assert.EqualValues(t, 1, unassigned)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/config/teams/"+na+"/entries", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.doJSON(t, http.MethodPost, "/api/config/teams/abc/move-and-delete", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigHandler_UploadRoundTrip(t *testing.T) {
	s := newTestServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/config/export", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "ai_usage_config.xlsx")

	w = s.upload(t, "/api/config/upload", "config.xlsx", w.Body.Bytes())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var version models.ConfigVersion
	decode(t, w, &version)
	assert.NotEmpty(t, version.Version)
	assert.Equal(t, "config.xlsx", version.SourceFile)
	assert.Zero(t, version.Deactivated)
	assert.Zero(t, version.Deleted)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/config/versions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var versions []models.ConfigVersion
	decode(t, w, &versions)
	assert.Len(t, versions, 1)
}

func TestConfigHandler_UploadRejected(t *testing.T) {
	s := newTestServer(t)

	var buf bytes.Buffer
	require.NoError(t, spreadsheet.WriteConfig(&buf, &spreadsheet.ConfigBatch{
		Functions:    []string{"Sales"},
		Teams:        []spreadsheet.TeamRow{{Function: "Research", Name: "Labs"}},
		Tools:        []string{"ChatGPT"},
		Capabilities: []spreadsheet.CapabilityRow{{Name: "Drafting"}},
	}))

	w := s.upload(t, "/api/config/upload", "config.xlsx", buf.Bytes())
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	var details struct {
		Problems []string `json:"problems"`
	}
	decode(t, w, &details)
	require.Len(t, details.Problems, 1)
	assert.Contains(t, details.Problems[0], `unknown function "Research"`)

	w = s.upload(t, "/api/config/upload", "config.xlsx", []byte("not a workbook"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	w = s.upload(t, "/api/config/upload", "config.csv", []byte("a,b"))
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	var functions int64
	require.NoError(t, s.db.Model(&models.Function{}).Where("active = ?", true).Count(&functions).Error)
	assert.EqualValues(t, 8, functions)
}

func TestDashboardHandler(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/api/responses", s.workflowBody(t)).Code)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/dashboard/summary", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var summary struct {
		MethodCount   int64   `json:"method_count"`
		WorkflowCount int64   `json:"workflow_count"`
		TimeSavings   float64 `json:"time_savings"`
	}
	decode(t, w, &summary)
	assert.EqualValues(t, 1, summary.MethodCount)
	assert.EqualValues(t, 1, summary.WorkflowCount)
	assert.InDelta(t, 26.0, summary.TimeSavings, 1e-9)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/dashboard/tools-used", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var tools []struct {
		Tool  string `json:"tool"`
		Count int64  `json:"count"`
	}
	decode(t, w, &tools)
	assert.Len(t, tools, 2)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/dashboard?start_date=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResponseHandler_ExportDownload(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.doJSON(t, http.MethodPost, "/api/responses", s.workflowBody(t)).Code)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/responses/export?format=csv", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "entries_")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,function,team,method_type"))

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/responses/export?format=pdf", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResponseHandler_Import(t *testing.T) {
	s := newTestServer(t)
	csvData := "function,team,method_type,capability,description,tools,impact1_type,impact1_value,impact1_frequency,impact1_time_unit\n" +
		"Sales,NA,workflow,Drafting,Call summaries,ChatGPT,time_savings,1,daily,hours\n" +
		"Nowhere,,task,Drafting,Bad row,,time_savings,1,daily,hours\n"

	w := s.upload(t, "/api/responses/import?mode=append", "entries.csv", []byte(csvData))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result services.ImportResult
	decode(t, w, &result)
	assert.Equal(t, 1, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 3, result.Errors[0].Row)

	w = s.upload(t, "/api/responses/import?mode=merge", "entries.csv", []byte(csvData))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResponseHandler_ExportJob(t *testing.T) {
	s := newTestServer(t)

	w := s.doJSON(t, http.MethodPost, "/api/exports", map[string]string{"format": "xlsx"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var job ExportJob
	decode(t, w, &job)
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, "xlsx", job.Format)
	assert.False(t, job.Async)

	require.NoError(t, s.queue.Close())

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/exports", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var files []services.ExportFile
	decode(t, w, &files)
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0].Name, ".xlsx"))

	w = s.doJSON(t, http.MethodPost, "/api/exports", map[string]string{"format": "pdf"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
