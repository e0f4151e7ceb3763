package services

import (
	"testing"

	"github.com/huangang/aiusage/internal/config"
	"github.com/huangang/aiusage/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// setupTestDB opens a seeded in-memory database and points the system log
// writer at it.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	require.NoError(t, models.Seed(db))

	InitSystemLogger(db)
	t.Cleanup(func() {
		InitSystemLogger(nil)
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func functionID(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	var fn models.Function
	require.NoError(t, db.Where("name = ?", name).First(&fn).Error, "function %s", name)
	return fn.ID
}

func teamID(t *testing.T, db *gorm.DB, function, name string) uint {
	t.Helper()
	var team models.Team
	err := db.Where("function_id = ? AND name = ?", functionID(t, db, function), name).First(&team).Error
	require.NoError(t, err, "team %s/%s", function, name)
	return team.ID
}

func toolID(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	var tool models.Tool
	require.NoError(t, db.Where("name = ?", name).First(&tool).Error, "tool %s", name)
	return tool.ID
}

func capabilityID(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	var c models.Capability
	require.NoError(t, db.Where("name = ?", name).First(&c).Error, "capability %s", name)
	return c.ID
}

func f64(v float64) *float64 { return &v }

func uintPtr(v uint) *uint { return &v }

// workflowRequest is a valid submission for Sales/NA.
func workflowRequest(t *testing.T, db *gorm.DB) *CreateResponseRequest {
	t.Helper()
	return &CreateResponseRequest{
		FunctionID:   functionID(t, db, "Sales"),
		TeamID:       uintPtr(teamID(t, db, "Sales", "NA")),
		MethodType:   "workflow",
		CapabilityID: capabilityID(t, db, "Drafting"),
		Description:  "Drafting follow-up emails after discovery calls",
		SubmittedBy:  "jordan@example.com",
		Tools: []ToolInput{
			{ToolID: uintPtr(toolID(t, db, "ChatGPT"))},
			{CustomName: "Notion AI"},
		},
		Impacts: []ImpactInput{
			{Type: "time_savings", Value: f64(30), Frequency: "weekly", TimeUnit: "minutes"},
			{Type: "cost_savings", Value: f64(100), Frequency: "monthly"},
		},
	}
}
