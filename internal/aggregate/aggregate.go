// Package aggregate groups normalized submissions into dashboard totals.
package aggregate

import (
	"errors"
	"fmt"
	"sort"

	"github.com/huangang/aiusage/internal/impact"
)

// Method classifications.
const (
	MethodWorkflow   = "workflow"
	MethodTask       = "task"
	MethodExperiment = "experiment"
)

// Methods lists the method classifications in display order.
func Methods() []string {
	return []string{MethodWorkflow, MethodTask, MethodExperiment}
}

// UnassignedTeamName labels the bucket for submissions made without a team.
const UnassignedTeamName = "Unassigned"

// ErrReferentialViolation marks a submission whose function, team or
// capability does not resolve in the Directory.
var ErrReferentialViolation = errors.New("referential violation")

// Impact is one already-normalized impact entry.
type Impact struct {
	Type   impact.Type
	Annual *float64
}

// ToolUse is a tool reference: either a known tool id or a custom name.
type ToolUse struct {
	ToolID     *uint
	CustomName string
}

// Submission is the aggregator's view of a stored response.
type Submission struct {
	ID           uint
	FunctionID   uint
	TeamID       *uint
	Method       string
	CapabilityID uint
	Tools        []ToolUse
	Impacts      []Impact
}

// Totals holds the sums and counts reported at every grouping level.
type Totals struct {
	MethodCount        int64   `json:"method_count"`
	WorkflowCount      int64   `json:"workflow_count"`
	TaskCount          int64   `json:"task_count"`
	ExperimentCount    int64   `json:"experiment_count"`
	CostSavings        float64 `json:"cost_savings"`
	TimeSavings        float64 `json:"time_savings"`
	QualityCount       int64   `json:"quality_count"`
	NewCapabilityCount int64   `json:"new_capability_count"`
}

type FunctionBreakdown struct {
	FunctionID   uint   `json:"function_id"`
	FunctionName string `json:"function_name"`
	Active       bool   `json:"active"`
	Totals
}

// TeamBreakdown is keyed by (function, team). TeamID 0 is the unassigned bucket.
type TeamBreakdown struct {
	TeamID       uint   `json:"team_id"`
	TeamName     string `json:"team_name"`
	FunctionID   uint   `json:"function_id"`
	FunctionName string `json:"function_name"`
	Active       bool   `json:"active"`
	Totals
}

type FunctionWithTeams struct {
	FunctionBreakdown
	Teams      []TeamBreakdown `json:"teams"`
	HasNoTeams bool            `json:"has_no_teams"`
}

// CategoryBreakdown summarizes one method classification. ImpactBreakdown
// counts distinct submissions carrying each impact type.
type CategoryBreakdown struct {
	Count           int64                 `json:"count"`
	CostSavings     float64               `json:"cost_savings"`
	TimeSavings     float64               `json:"time_savings"`
	ImpactBreakdown map[impact.Type]int64 `json:"impact_breakdown"`
}

type ImpactTypeCount struct {
	Type  impact.Type `json:"type"`
	Label string      `json:"label"`
	Count int64       `json:"count"`
}

type ToolCount struct {
	Tool  string `json:"tool"`
	Count int64  `json:"count"`
}

type CapabilityCount struct {
	CapabilityID uint   `json:"capability_id"`
	Capability   string `json:"capability"`
	Count        int64  `json:"count"`
}

// Violation describes a submission excluded from the report.
type Violation struct {
	SubmissionID uint   `json:"submission_id"`
	Field        string `json:"field"`
	RefID        uint   `json:"ref_id"`
	Reason       string `json:"reason"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("submission %d: %s %d %s", v.SubmissionID, v.Field, v.RefID, v.Reason)
}

func (v Violation) Is(target error) bool {
	return target == ErrReferentialViolation
}

// Report is the full aggregation output.
type Report struct {
	Summary            Totals                        `json:"summary"`
	ByFunction         []FunctionBreakdown           `json:"by_function"`
	ByTeam             []TeamBreakdown               `json:"by_team"`
	FunctionsWithTeams []FunctionWithTeams           `json:"functions_with_teams"`
	ByCategory         map[string]*CategoryBreakdown `json:"by_category"`
	ImpactTypes        []ImpactTypeCount             `json:"impact_types"`
	ToolsUsed          []ToolCount                   `json:"tools_used"`
	Capabilities       []CapabilityCount             `json:"capabilities"`
	Excluded           []Violation                   `json:"excluded,omitempty"`
}

// Err joins every exclusion into one error, or returns nil.
func (r *Report) Err() error {
	if len(r.Excluded) == 0 {
		return nil
	}
	errs := make([]error, len(r.Excluded))
	for i, v := range r.Excluded {
		errs[i] = v
	}
	return errors.Join(errs...)
}

var impactLabels = map[impact.Type]string{
	impact.CostSavings:   "Cost Savings",
	impact.TimeSavings:   "Time Savings",
	impact.Quality:       "Quality Improvement",
	impact.NewCapability: "New Capability",
}

type teamKey struct {
	functionID uint
	teamID     uint
}

// Aggregate runs a single pass over subs. Submissions are visited in id
// order so floating point sums do not depend on the caller's ordering.
func Aggregate(subs []Submission, dir *Directory) *Report {
	if dir == nil {
		dir = NewDirectory()
	}

	ordered := make([]Submission, len(subs))
	copy(ordered, subs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	report := &Report{ByCategory: make(map[string]*CategoryBreakdown)}
	for _, m := range Methods() {
		report.ByCategory[m] = &CategoryBreakdown{ImpactBreakdown: emptyImpactCounts()}
	}

	functions := make(map[uint]*FunctionBreakdown)
	teams := make(map[teamKey]*TeamBreakdown)
	for id, f := range dir.Functions {
		if f.Active {
			functions[id] = &FunctionBreakdown{FunctionID: id, FunctionName: f.Name, Active: true}
		}
	}
	for id, t := range dir.Teams {
		if t.Active {
			if f, ok := dir.Functions[t.FunctionID]; ok {
				teams[teamKey{t.FunctionID, id}] = &TeamBreakdown{
					TeamID: id, TeamName: t.Name, FunctionID: t.FunctionID, FunctionName: f.Name, Active: true,
				}
			}
		}
	}

	impactSubs := emptyImpactCounts()
	capabilityCounts := make(map[uint]int64)
	toolCounts := make(map[string]int64)

	for _, s := range ordered {
		if v, ok := resolve(s, dir); !ok {
			report.Excluded = append(report.Excluded, v)
			continue
		}

		fn := functions[s.FunctionID]
		if fn == nil {
			f := dir.Functions[s.FunctionID]
			fn = &FunctionBreakdown{FunctionID: s.FunctionID, FunctionName: f.Name, Active: f.Active}
			functions[s.FunctionID] = fn
		}

		key := teamKey{functionID: s.FunctionID}
		if s.TeamID != nil {
			key.teamID = *s.TeamID
		}
		tb := teams[key]
		if tb == nil {
			tb = &TeamBreakdown{TeamID: key.teamID, FunctionID: fn.FunctionID, FunctionName: fn.FunctionName}
			if key.teamID == 0 {
				tb.TeamName = UnassignedTeamName
				tb.Active = true
			} else {
				t := dir.Teams[key.teamID]
				tb.TeamName, tb.Active = t.Name, t.Active
			}
			teams[key] = tb
		}

		cat := report.ByCategory[s.Method]
		seen := make(map[impact.Type]bool, len(s.Impacts))

		for _, totals := range []*Totals{&report.Summary, &fn.Totals, &tb.Totals} {
			totals.addMethod(s.Method)
		}
		if cat != nil {
			cat.Count++
		}

		for _, im := range s.Impacts {
			for _, totals := range []*Totals{&report.Summary, &fn.Totals, &tb.Totals} {
				totals.addImpact(im)
			}
			if cat != nil && im.Annual != nil {
				switch im.Type {
				case impact.CostSavings:
					cat.CostSavings += *im.Annual
				case impact.TimeSavings:
					cat.TimeSavings += *im.Annual
				}
			}
			if !seen[im.Type] {
				seen[im.Type] = true
				impactSubs[im.Type]++
				if cat != nil {
					cat.ImpactBreakdown[im.Type]++
				}
			}
		}

		capabilityCounts[s.CapabilityID]++
		for _, tu := range s.Tools {
			toolCounts[toolName(tu, dir)]++
		}
	}

	report.ByTeam = make([]TeamBreakdown, 0, len(teams))
	for _, tb := range teams {
		report.ByTeam = append(report.ByTeam, *tb)
	}
	sortTeams(report.ByTeam)

	// Savings roll up from the finished team rows, then from the function
	// rows, in report order, so each level sums exactly to the one above.
	for _, fb := range functions {
		fb.CostSavings, fb.TimeSavings = 0, 0
	}
	for _, tb := range report.ByTeam {
		if fb := functions[tb.FunctionID]; fb != nil {
			fb.CostSavings += tb.CostSavings
			fb.TimeSavings += tb.TimeSavings
		}
	}

	report.ByFunction = make([]FunctionBreakdown, 0, len(functions))
	for _, fb := range functions {
		report.ByFunction = append(report.ByFunction, *fb)
	}
	sort.Slice(report.ByFunction, func(i, j int) bool {
		a, b := report.ByFunction[i], report.ByFunction[j]
		return rankBefore(a.Totals, b.Totals, a.FunctionID, b.FunctionID)
	})

	report.Summary.CostSavings, report.Summary.TimeSavings = 0, 0
	for _, fb := range report.ByFunction {
		report.Summary.CostSavings += fb.CostSavings
		report.Summary.TimeSavings += fb.TimeSavings
	}

	report.FunctionsWithTeams = make([]FunctionWithTeams, 0, len(report.ByFunction))
	for _, fb := range report.ByFunction {
		fw := FunctionWithTeams{FunctionBreakdown: fb, Teams: []TeamBreakdown{}}
		for _, tb := range report.ByTeam {
			if tb.FunctionID == fb.FunctionID {
				fw.Teams = append(fw.Teams, tb)
			}
		}
		fw.HasNoTeams = dir.ActiveTeamCount(fb.FunctionID) == 0
		report.FunctionsWithTeams = append(report.FunctionsWithTeams, fw)
	}

	for _, t := range impact.Types() {
		report.ImpactTypes = append(report.ImpactTypes, ImpactTypeCount{Type: t, Label: impactLabels[t], Count: impactSubs[t]})
	}

	report.Capabilities = make([]CapabilityCount, 0, len(capabilityCounts))
	for id, n := range capabilityCounts {
		report.Capabilities = append(report.Capabilities, CapabilityCount{CapabilityID: id, Capability: dir.Capabilities[id].Name, Count: n})
	}
	sort.Slice(report.Capabilities, func(i, j int) bool {
		a, b := report.Capabilities[i], report.Capabilities[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.CapabilityID < b.CapabilityID
	})

	report.ToolsUsed = make([]ToolCount, 0, len(toolCounts))
	for name, n := range toolCounts {
		report.ToolsUsed = append(report.ToolsUsed, ToolCount{Tool: name, Count: n})
	}
	sort.Slice(report.ToolsUsed, func(i, j int) bool {
		a, b := report.ToolsUsed[i], report.ToolsUsed[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Tool < b.Tool
	})

	return report
}

func (t *Totals) addMethod(method string) {
	t.MethodCount++
	switch method {
	case MethodWorkflow:
		t.WorkflowCount++
	case MethodTask:
		t.TaskCount++
	case MethodExperiment:
		t.ExperimentCount++
	}
}

func (t *Totals) addImpact(im Impact) {
	switch im.Type {
	case impact.CostSavings:
		if im.Annual != nil {
			t.CostSavings += *im.Annual
		}
	case impact.TimeSavings:
		if im.Annual != nil {
			t.TimeSavings += *im.Annual
		}
	case impact.Quality:
		t.QualityCount++
	case impact.NewCapability:
		t.NewCapabilityCount++
	}
}

func resolve(s Submission, dir *Directory) (Violation, bool) {
	if _, ok := dir.Functions[s.FunctionID]; !ok {
		return Violation{SubmissionID: s.ID, Field: "function", RefID: s.FunctionID, Reason: "not found"}, false
	}
	if s.TeamID != nil {
		t, ok := dir.Teams[*s.TeamID]
		if !ok {
			return Violation{SubmissionID: s.ID, Field: "team", RefID: *s.TeamID, Reason: "not found"}, false
		}
		if t.FunctionID != s.FunctionID {
			return Violation{SubmissionID: s.ID, Field: "team", RefID: *s.TeamID, Reason: "belongs to another function"}, false
		}
	}
	if _, ok := dir.Capabilities[s.CapabilityID]; !ok {
		return Violation{SubmissionID: s.ID, Field: "capability", RefID: s.CapabilityID, Reason: "not found"}, false
	}
	return Violation{}, true
}

func toolName(tu ToolUse, dir *Directory) string {
	if tu.ToolID == nil {
		return tu.CustomName
	}
	if t, ok := dir.Tools[*tu.ToolID]; ok {
		return t.Name
	}
	return "Unknown"
}

func rankBefore(a, b Totals, idA, idB uint) bool {
	if a.CostSavings != b.CostSavings {
		return a.CostSavings > b.CostSavings
	}
	if a.TimeSavings != b.TimeSavings {
		return a.TimeSavings > b.TimeSavings
	}
	if a.MethodCount != b.MethodCount {
		return a.MethodCount > b.MethodCount
	}
	return idA < idB
}

// sortTeams ranks teams across functions; ties fall back to (function, team) id.
func sortTeams(teams []TeamBreakdown) {
	sort.Slice(teams, func(i, j int) bool {
		a, b := teams[i], teams[j]
		if a.Totals != b.Totals {
			return rankBefore(a.Totals, b.Totals, 0, 0)
		}
		if a.FunctionID != b.FunctionID {
			return a.FunctionID < b.FunctionID
		}
		return a.TeamID < b.TeamID
	})
}

func emptyImpactCounts() map[impact.Type]int64 {
	m := make(map[impact.Type]int64, 4)
	for _, t := range impact.Types() {
		m[t] = 0
	}
	return m
}
