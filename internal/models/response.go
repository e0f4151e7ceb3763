package models

import (
	"errors"
	"time"

	"github.com/huangang/aiusage/internal/impact"
	"gorm.io/gorm"
)

// Method types a submission can be classified as.
const (
	MethodWorkflow   = "workflow"
	MethodTask       = "task"
	MethodExperiment = "experiment"
)

// MaxImpacts is the most impact entries one submission may carry.
const MaxImpacts = 4

// Response is one intake-form submission.
type Response struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	FunctionID      uint          `gorm:"index;not null" json:"function_id"`
	Function        *Function     `gorm:"foreignKey:FunctionID" json:"function,omitempty"`
	TeamID          *uint         `gorm:"index" json:"team_id"`
	Team            *Team         `gorm:"foreignKey:TeamID" json:"team,omitempty"`
	MethodType      string        `gorm:"size:20;index;not null" json:"method_type"`
	CapabilityID    uint          `gorm:"index;not null" json:"capability_id"`
	Capability      *Capability   `gorm:"foreignKey:CapabilityID" json:"capability,omitempty"`
	CapabilityOther string        `gorm:"size:500" json:"capability_other"`
	Description     string        `gorm:"type:text" json:"description"`
	SubmittedBy     string        `gorm:"size:200" json:"submitted_by"`
	Impacts         []ImpactEntry `gorm:"foreignKey:ResponseID;constraint:OnDelete:CASCADE" json:"impacts"`
	Tools           []ToolRef     `gorm:"foreignKey:ResponseID;constraint:OnDelete:CASCADE" json:"tools"`
	CreatedAt       time.Time     `gorm:"index" json:"submitted_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Response) TableName() string { return "responses" }

// ImpactEntry is one effect reported on a submission. AnnualValue is derived
// on every save and never taken from callers.
type ImpactEntry struct {
	ID          uint     `gorm:"primaryKey" json:"id"`
	ResponseID  uint     `gorm:"index;not null" json:"response_id"`
	Position    int      `gorm:"not null" json:"position"`
	Type        string   `gorm:"size:30;index;not null" json:"type"`
	Value       *float64 `json:"value"`
	Frequency   string   `gorm:"size:20" json:"frequency,omitempty"`
	TimeUnit    string   `gorm:"size:20" json:"time_unit,omitempty"`
	AnnualValue *float64 `json:"annual_value"`
	Description string   `gorm:"type:text" json:"description,omitempty"`
}

func (ImpactEntry) TableName() string { return "impact_entries" }

// Normalized returns the normalizer input for e.
func (e *ImpactEntry) Normalized() impact.Entry {
	return impact.Entry{
		Type:      impact.Type(e.Type),
		Value:     e.Value,
		Frequency: impact.Frequency(e.Frequency),
		TimeUnit:  impact.TimeUnit(e.TimeUnit),
	}
}

// BeforeSave recomputes AnnualValue from the raw fields.
func (e *ImpactEntry) BeforeSave(tx *gorm.DB) error {
	annual, err := impact.Annualize(e.Normalized())
	if err != nil {
		return err
	}
	e.AnnualValue = annual
	return nil
}

// ErrInvalidToolRef is returned when a tool reference names both or neither
// of a known tool and a custom tool.
var ErrInvalidToolRef = errors.New("tool reference must set exactly one of tool_id or custom_name")

// ToolRef is either a known Tool or a free-text custom tool name.
type ToolRef struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ResponseID uint   `gorm:"index;not null" json:"response_id"`
	ToolID     *uint  `gorm:"index" json:"tool_id,omitempty"`
	Tool       *Tool  `gorm:"foreignKey:ToolID" json:"tool,omitempty"`
	CustomName string `gorm:"size:200" json:"custom_name,omitempty"`
}

func (ToolRef) TableName() string { return "tool_refs" }

// BeforeSave enforces the tagged-variant shape.
func (r *ToolRef) BeforeSave(tx *gorm.DB) error {
	if (r.ToolID == nil) == (r.CustomName == "") {
		return ErrInvalidToolRef
	}
	return nil
}

// DisplayName is the tool name shown in exports and breakdowns.
func (r *ToolRef) DisplayName() string {
	if r.ToolID == nil {
		return r.CustomName
	}
	if r.Tool != nil {
		return r.Tool.Name
	}
	return "Unknown"
}
