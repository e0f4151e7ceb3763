package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/huangang/aiusage/internal/aggregate"
	"github.com/huangang/aiusage/internal/impact"
	"github.com/huangang/aiusage/internal/models"
	"github.com/huangang/aiusage/pkg/logger"
	"gorm.io/gorm"
)

type DashboardService struct {
	db *gorm.DB

	mu             sync.Mutex
	lastViolations string
}

func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db}
}

// DashboardRequest narrows the submissions to a date range. Both bounds are
// optional and inclusive, formatted as 2006-01-02.
type DashboardRequest struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

func (r *DashboardRequest) bounds() (start, end time.Time, err error) {
	if r == nil {
		return
	}
	if r.StartDate != "" {
		if start, err = time.ParseInLocation("2006-01-02", r.StartDate, time.Local); err != nil {
			return start, end, validationErr("start_date must be formatted as YYYY-MM-DD")
		}
	}
	if r.EndDate != "" {
		if end, err = time.ParseInLocation("2006-01-02", r.EndDate, time.Local); err != nil {
			return start, end, validationErr("end_date must be formatted as YYYY-MM-DD")
		}
		end = end.AddDate(0, 0, 1)
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return start, end, validationErr("start_date must not be after end_date")
	}
	return start, end, nil
}

// Report loads lookups and submissions inside one read transaction and
// aggregates them. Submissions with unresolved references are left out of
// the totals and reported in Report.Excluded.
func (s *DashboardService) Report(ctx context.Context, req *DashboardRequest) (*aggregate.Report, error) {
	start, end, err := req.bounds()
	if err != nil {
		return nil, err
	}

	began := time.Now()
	var (
		dir  *aggregate.Directory
		subs []aggregate.Submission
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if dir, err = LoadDirectory(tx); err != nil {
			return err
		}
		subs, err = loadSubmissions(tx, start, end)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load dashboard snapshot: %w", err)
	}

	report := aggregate.Aggregate(subs, dir)
	GetMetrics().DashboardBuildDuration.Observe(time.Since(began).Seconds())

	s.reportViolations(report.Excluded)
	return report, nil
}

// reportViolations records the excluded submissions once per distinct set;
// repeated reads of an unchanged set stay quiet.
func (s *DashboardService) reportViolations(violations []aggregate.Violation) {
	fingerprint := violationFingerprint(violations)

	s.mu.Lock()
	changed := fingerprint != s.lastViolations
	s.lastViolations = fingerprint
	s.mu.Unlock()
	if !changed || len(violations) == 0 {
		return
	}

	m := GetMetrics()
	for _, v := range violations {
		m.ReferentialViolations.WithLabelValues(v.Field).Inc()
	}
	logger.Warn().
		Int("count", len(violations)).
		Str("first", violations[0].Error()).
		Msg("[Dashboard] Submissions excluded from totals")
	LogWarning("dashboard", "referential_violation",
		fmt.Sprintf("%d submission(s) excluded from the dashboard", len(violations)),
		"", "", violations)
}

func violationFingerprint(violations []aggregate.Violation) string {
	var b strings.Builder
	for _, v := range violations {
		b.WriteString(v.Error())
		b.WriteByte('\n')
	}
	return b.String()
}

// LoadDirectory reads every lookup row, active or not.
func LoadDirectory(db *gorm.DB) (*aggregate.Directory, error) {
	dir := aggregate.NewDirectory()

	var functions []models.Function
	if err := db.Find(&functions).Error; err != nil {
		return nil, err
	}
	for _, f := range functions {
		dir.Functions[f.ID] = aggregate.Entity{ID: f.ID, Name: f.Name, Active: f.Active}
	}

	var teams []models.Team
	if err := db.Find(&teams).Error; err != nil {
		return nil, err
	}
	for _, t := range teams {
		dir.Teams[t.ID] = aggregate.TeamEntity{ID: t.ID, FunctionID: t.FunctionID, Name: t.Name, Active: t.Active}
	}

	var tools []models.Tool
	if err := db.Find(&tools).Error; err != nil {
		return nil, err
	}
	for _, t := range tools {
		dir.Tools[t.ID] = aggregate.Entity{ID: t.ID, Name: t.Name, Active: t.Active}
	}

	var capabilities []models.Capability
	if err := db.Find(&capabilities).Error; err != nil {
		return nil, err
	}
	for _, c := range capabilities {
		dir.Capabilities[c.ID] = aggregate.Entity{ID: c.ID, Name: c.Name, Active: c.Active}
	}
	return dir, nil
}

func loadSubmissions(db *gorm.DB, start, end time.Time) ([]aggregate.Submission, error) {
	query := db.Model(&models.Response{})
	if !start.IsZero() {
		query = query.Where("created_at >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("created_at < ?", end)
	}

	var responses []models.Response
	err := query.
		Preload("Impacts", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Tools").
		Order("id").
		Find(&responses).Error
	if err != nil {
		return nil, err
	}

	subs := make([]aggregate.Submission, 0, len(responses))
	for i := range responses {
		subs = append(subs, toSubmission(&responses[i]))
	}
	return subs, nil
}

func toSubmission(r *models.Response) aggregate.Submission {
	sub := aggregate.Submission{
		ID:           r.ID,
		FunctionID:   r.FunctionID,
		TeamID:       r.TeamID,
		Method:       r.MethodType,
		CapabilityID: r.CapabilityID,
		Tools:        make([]aggregate.ToolUse, 0, len(r.Tools)),
		Impacts:      make([]aggregate.Impact, 0, len(r.Impacts)),
	}
	for _, t := range r.Tools {
		sub.Tools = append(sub.Tools, aggregate.ToolUse{ToolID: t.ToolID, CustomName: t.CustomName})
	}
	for _, im := range r.Impacts {
		sub.Impacts = append(sub.Impacts, aggregate.Impact{Type: impact.Type(im.Type), Annual: im.AnnualValue})
	}
	return sub
}
