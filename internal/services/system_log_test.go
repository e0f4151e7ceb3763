package services

import (
	"testing"
	"time"

	"github.com/huangang/aiusage/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemLog_WriteAndList(t *testing.T) {
	db := setupTestDB(t)

	LogInfo("config", "replace", "Configuration replaced", "10.0.0.1", "curl/8", map[string]int{"deleted": 3})
	LogWarning("dashboard", "referential_violation", "1 submission excluded", "", "", nil)
	LogError("export", "export_job", "disk full", "", "", nil)

	svc := NewSystemLogService(db)
	all, err := svc.List(&SystemLogListRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)
	assert.Equal(t, 1, all.Page)
	assert.Equal(t, 20, all.PageSize)
	assert.Equal(t, "export", all.Items[0].Module, "newest first")

	warnings, err := svc.List(&SystemLogListRequest{Level: "warning"})
	require.NoError(t, err)
	require.Len(t, warnings.Items, 1)
	assert.Equal(t, "dashboard", warnings.Items[0].Module)

	search, err := svc.List(&SystemLogListRequest{Search: "replaced"})
	require.NoError(t, err)
	require.Len(t, search.Items, 1)
	assert.Equal(t, `{"deleted":3}`, search.Items[0].Extra)
	assert.Equal(t, "10.0.0.1", search.Items[0].IP)

	modules, err := svc.GetModules()
	require.NoError(t, err)
	assert.Equal(t, []string{"config", "dashboard", "export"}, modules)
}

func TestSystemLog_NoDatabase(t *testing.T) {
	InitSystemLogger(nil)
	assert.NotPanics(t, func() {
		LogInfo("config", "replace", "ignored", "", "", nil)
	})
}

func TestSystemLog_CleanupOldLogs(t *testing.T) {
	db := setupTestDB(t)
	svc := NewSystemLogService(db)

	require.NoError(t, db.Create(&models.SystemLog{Level: "info", Module: "old", CreatedAt: time.Now().AddDate(0, 0, -40)}).Error)
	LogInfo("new", "action", "recent", "", "", nil)

	deleted, err := svc.CleanupOldLogs(30)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	deleted, err = svc.CleanupOldLogs(0)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	assert.EqualValues(t, 1, countRows(t, db, &models.SystemLog{}, ""))
}
