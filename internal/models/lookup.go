package models

import "time"

// Function is an organizational function (Sales, Engineering, ...).
type Function struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:200;not null" json:"name"`
	Active    bool      `gorm:"default:true;index" json:"active"`
	Teams     []Team    `gorm:"foreignKey:FunctionID" json:"teams,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Function) TableName() string { return "functions" }

// Team belongs to exactly one Function; names are unique within it.
type Team struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	FunctionID uint      `gorm:"uniqueIndex:idx_team_function_name;not null" json:"function_id"`
	Function   *Function `gorm:"foreignKey:FunctionID" json:"function,omitempty"`
	Name       string    `gorm:"uniqueIndex:idx_team_function_name;size:200;not null" json:"name"`
	Active     bool      `gorm:"default:true;index" json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Team) TableName() string { return "teams" }

type Tool struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:200;not null" json:"name"`
	Active    bool      `gorm:"default:true;index" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Tool) TableName() string { return "tools" }

// Capability is what the AI was used for. Icon is an optional display hint.
type Capability struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:200;not null" json:"name"`
	Icon      string    `gorm:"size:50" json:"icon"`
	Active    bool      `gorm:"default:true;index" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Capability) TableName() string { return "capabilities" }

// OtherCapabilityName requires submissions to describe the capability in free text.
const OtherCapabilityName = "Other"

// ConfigVersion records one successful bulk configuration replacement.
type ConfigVersion struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Version      string    `gorm:"uniqueIndex;size:36;not null" json:"version"`
	SourceFile   string    `gorm:"size:255" json:"source_file"`
	Functions    int       `json:"functions"`
	Teams        int       `json:"teams"`
	Tools        int       `json:"tools"`
	Capabilities int       `json:"capabilities"`
	Deactivated  int       `json:"deactivated"`
	Deleted      int       `json:"deleted"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func (ConfigVersion) TableName() string { return "config_versions" }
