package services

import (
	"context"
	"testing"
	"time"

	"github.com/huangang/aiusage/internal/aggregate"
	"github.com/huangang/aiusage/internal/models"
	"github.com/huangang/aiusage/internal/spreadsheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// seedSubmissions stores a Sales workflow, an Engineering task and a Sales
// experiment.
func seedSubmissions(t *testing.T, db *gorm.DB) {
	t.Helper()
	svc := NewResponseService(db)

	_, err := svc.Create(workflowRequest(t, db))
	require.NoError(t, err)

	task := workflowRequest(t, db)
	task.FunctionID = functionID(t, db, "Engineering")
	task.TeamID = uintPtr(teamID(t, db, "Engineering", "Backend"))
	task.MethodType = "task"
	task.CapabilityID = capabilityID(t, db, "Coding")
	task.Impacts = []ImpactInput{
		{Type: "time_savings", Value: f64(2), Frequency: "daily", TimeUnit: "hours"},
		{Type: "quality"},
	}
	_, err = svc.Create(task)
	require.NoError(t, err)

	experiment := workflowRequest(t, db)
	experiment.MethodType = "experiment"
	experiment.Impacts = nil
	_, err = svc.Create(experiment)
	require.NoError(t, err)
}

func TestDashboardService_Report(t *testing.T) {
	db := setupTestDB(t)
	seedSubmissions(t, db)

	report, err := NewDashboardService(db).Report(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	s := report.Summary
	assert.EqualValues(t, 3, s.MethodCount)
	assert.EqualValues(t, 1, s.WorkflowCount)
	assert.EqualValues(t, 1, s.TaskCount)
	assert.EqualValues(t, 1, s.ExperimentCount)
	assert.InDelta(t, 1200.0, s.CostSavings, 1e-9)
	assert.InDelta(t, 546.0, s.TimeSavings, 1e-9)
	assert.EqualValues(t, 1, s.QualityCount)

	require.Len(t, report.ByFunction, 8, "every active function is listed")
	assert.Equal(t, "Sales", report.ByFunction[0].FunctionName)
	assert.Equal(t, "Engineering", report.ByFunction[1].FunctionName)
	assert.EqualValues(t, 2, report.ByFunction[0].MethodCount)

	var sumCost, sumTime float64
	for _, fn := range report.ByFunction {
		sumCost += fn.CostSavings
		sumTime += fn.TimeSavings
	}
	assert.InDelta(t, s.CostSavings, sumCost, 1e-9)
	assert.InDelta(t, s.TimeSavings, sumTime, 1e-9)

	assert.EqualValues(t, 1, report.ByCategory[aggregate.MethodTask].Count)
	assert.InDelta(t, 520.0, report.ByCategory[aggregate.MethodTask].TimeSavings, 1e-9)

	require.NotEmpty(t, report.ToolsUsed)
	assert.Equal(t, "ChatGPT", report.ToolsUsed[0].Tool)
	assert.EqualValues(t, 3, report.ToolsUsed[0].Count)

	require.NotEmpty(t, report.Capabilities)
	assert.Equal(t, "Drafting", report.Capabilities[0].Capability)
	assert.EqualValues(t, 2, report.Capabilities[0].Count)
}

func TestDashboardService_InactiveFunctionWithHistory(t *testing.T) {
	db := setupTestDB(t)
	seedSubmissions(t, db)

	_, err := NewConfigService(db).RemoveFunction(functionID(t, db, "Sales"))
	require.NoError(t, err)

	report, err := NewDashboardService(db).Report(context.Background(), nil)
	require.NoError(t, err)

	assert.EqualValues(t, 3, report.Summary.MethodCount)
	require.NotEmpty(t, report.ByFunction)
	assert.Equal(t, "Sales", report.ByFunction[0].FunctionName)
	assert.False(t, report.ByFunction[0].Active)
}

func TestDashboardService_DateRange(t *testing.T) {
	db := setupTestDB(t)
	seedSubmissions(t, db)
	svc := NewDashboardService(db)

	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	report, err := svc.Report(context.Background(), &DashboardRequest{StartDate: tomorrow})
	require.NoError(t, err)
	assert.Zero(t, report.Summary.MethodCount)

	today := time.Now().Format("2006-01-02")
	report, err = svc.Report(context.Background(), &DashboardRequest{StartDate: today, EndDate: today})
	require.NoError(t, err)
	assert.EqualValues(t, 3, report.Summary.MethodCount)

	_, err = svc.Report(context.Background(), &DashboardRequest{StartDate: "17/10/2026"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Report(context.Background(), &DashboardRequest{StartDate: tomorrow, EndDate: today})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDashboardService_ReplacedTeamStillAttributed(t *testing.T) {
	db := setupTestDB(t)
	_, err := NewResponseService(db).Create(workflowRequest(t, db))
	require.NoError(t, err)

	// Sales stays, its NA team is left out of the new configuration.
	batch := &spreadsheet.ConfigBatch{
		Functions:    []string{"Sales"},
		Tools:        []string{"ChatGPT"},
		Capabilities: []spreadsheet.CapabilityRow{{Name: "Drafting"}},
	}
	_, err = NewConfigService(db).Replace(batch, "sales-only.xlsx")
	require.NoError(t, err)
	assert.EqualValues(t, 1, countRows(t, db, &models.Team{}, "name = ? AND active = ?", "NA", false))

	report, err := NewDashboardService(db).Report(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	var na *aggregate.TeamBreakdown
	for i := range report.ByTeam {
		if report.ByTeam[i].TeamName == "NA" {
			na = &report.ByTeam[i]
		}
	}
	require.NotNil(t, na, "deactivated team keeps its submissions")
	assert.False(t, na.Active)
	assert.Equal(t, "Sales", na.FunctionName)
	assert.EqualValues(t, 1, na.MethodCount)
	assert.InDelta(t, 1200.0, na.CostSavings, 1e-9)
	assert.InDelta(t, 1200.0, report.Summary.CostSavings, 1e-9)
}

func TestDashboardService_ViolationsLoggedOncePerSet(t *testing.T) {
	db := setupTestDB(t)
	svc := NewResponseService(db)
	_, err := svc.Create(workflowRequest(t, db))
	require.NoError(t, err)
	coding := workflowRequest(t, db)
	coding.CapabilityID = capabilityID(t, db, "Coding")

	require.NoError(t, db.Exec("PRAGMA foreign_keys = OFF").Error)
	require.NoError(t, db.Exec("DELETE FROM capabilities WHERE name = ?", "Drafting").Error)

	dashboard := NewDashboardService(db)
	for i := 0; i < 3; i++ {
		report, err := dashboard.Report(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, report.Excluded, 1)
	}
	assert.EqualValues(t, 1, countRows(t, db, &models.SystemLog{}, "action = ?", "referential_violation"))

	_, err = svc.Create(coding)
	require.NoError(t, err)
	require.NoError(t, db.Exec("DELETE FROM capabilities WHERE name = ?", "Coding").Error)

	report, err := dashboard.Report(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Excluded, 2)
	assert.EqualValues(t, 2, countRows(t, db, &models.SystemLog{}, "action = ?", "referential_violation"))
}

func TestDashboardService_CanceledContext(t *testing.T) {
	db := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDashboardService(db).Report(ctx, nil)
	assert.Error(t, err)
}

func TestLoadDirectory_IncludesInactive(t *testing.T) {
	db := setupTestDB(t)
	_, err := NewConfigService(db).UpdateTool(toolID(t, db, "Gong"), &UpdateNameRequest{Active: boolPtr(false)})
	require.NoError(t, err)

	dir, err := LoadDirectory(db)
	require.NoError(t, err)
	assert.Len(t, dir.Functions, 8)
	assert.Len(t, dir.Teams, 26)
	assert.Len(t, dir.Tools, 5)
	assert.False(t, dir.Tools[toolID(t, db, "Gong")].Active)
}
