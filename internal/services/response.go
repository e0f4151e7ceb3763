package services

import (
	"errors"
	"strings"

	"github.com/huangang/aiusage/internal/impact"
	"github.com/huangang/aiusage/internal/models"
	"gorm.io/gorm"
)

type ResponseService struct {
	db *gorm.DB
}

func NewResponseService(db *gorm.DB) *ResponseService {
	return &ResponseService{db: db}
}

type ImpactInput struct {
	Type        string   `json:"type" binding:"required,impact_type"`
	Value       *float64 `json:"value" binding:"omitempty,min=0"`
	Frequency   string   `json:"frequency" binding:"omitempty,frequency"`
	TimeUnit    string   `json:"time_unit" binding:"omitempty,time_unit"`
	Description string   `json:"description" binding:"max=2000"`
}

// ToolInput names either a configured tool or a custom one.
type ToolInput struct {
	ToolID     *uint  `json:"tool_id"`
	CustomName string `json:"custom_name" binding:"max=200"`
}

type CreateResponseRequest struct {
	FunctionID      uint          `json:"function_id" binding:"required"`
	TeamID          *uint         `json:"team_id"`
	MethodType      string        `json:"method_type" binding:"required,method_type"`
	CapabilityID    uint          `json:"capability_id" binding:"required"`
	CapabilityOther string        `json:"capability_other" binding:"max=500"`
	Description     string        `json:"description" binding:"required,notblank,max=5000"`
	SubmittedBy     string        `json:"submitted_by" binding:"max=200"`
	Tools           []ToolInput   `json:"tools" binding:"dive"`
	Impacts         []ImpactInput `json:"impacts" binding:"max=4,dive"`
}

// UpdateResponseRequest is a partial update. Tools and Impacts replace the
// stored lists when present. ClearTeam unsets the team.
type UpdateResponseRequest struct {
	FunctionID      *uint          `json:"function_id"`
	TeamID          *uint          `json:"team_id"`
	ClearTeam       bool           `json:"clear_team"`
	MethodType      *string        `json:"method_type" binding:"omitempty,method_type"`
	CapabilityID    *uint          `json:"capability_id"`
	CapabilityOther *string        `json:"capability_other" binding:"omitempty,max=500"`
	Description     *string        `json:"description" binding:"omitempty,notblank,max=5000"`
	SubmittedBy     *string        `json:"submitted_by" binding:"omitempty,max=200"`
	Tools           *[]ToolInput   `json:"tools" binding:"omitempty,dive"`
	Impacts         *[]ImpactInput `json:"impacts" binding:"omitempty,max=4,dive"`
}

type ResponseListRequest struct {
	FunctionID *uint  `form:"function_id"`
	TeamID     *uint  `form:"team_id"`
	MethodType string `form:"method_type" binding:"omitempty,method_type"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

type ResponseListResponse struct {
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
	Items  []models.Response `json:"items"`
}

const (
	defaultResponseLimit = 100
	maxResponseLimit     = 500
)

func (s *ResponseService) List(req *ResponseListRequest) (*ResponseListResponse, error) {
	if req.Limit <= 0 {
		req.Limit = defaultResponseLimit
	}
	if req.Limit > maxResponseLimit {
		req.Limit = maxResponseLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	query := s.db.Model(&models.Response{})
	if req.FunctionID != nil {
		query = query.Where("function_id = ?", *req.FunctionID)
	}
	if req.TeamID != nil {
		query = query.Where("team_id = ?", *req.TeamID)
	}
	if req.MethodType != "" {
		query = query.Where("method_type = ?", req.MethodType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.Response
	err := withDetails(query).
		Order("created_at DESC, id DESC").
		Limit(req.Limit).
		Offset(req.Offset).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	return &ResponseListResponse{Total: total, Limit: req.Limit, Offset: req.Offset, Items: items}, nil
}

func withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Function").
		Preload("Team").
		Preload("Capability").
		Preload("Impacts", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Tools.Tool")
}

func (s *ResponseService) Get(id uint) (*models.Response, error) {
	var resp models.Response
	if err := withDetails(s.db).First(&resp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErr("response", id)
		}
		return nil, err
	}
	return &resp, nil
}

func (s *ResponseService) Create(req *CreateResponseRequest) (*models.Response, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	resp := models.Response{
		FunctionID:      req.FunctionID,
		TeamID:          req.TeamID,
		MethodType:      req.MethodType,
		CapabilityID:    req.CapabilityID,
		CapabilityOther: strings.TrimSpace(req.CapabilityOther),
		Description:     strings.TrimSpace(req.Description),
		SubmittedBy:     strings.TrimSpace(req.SubmittedBy),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		impacts, err := buildImpacts(resp.MethodType, req.Impacts)
		if err != nil {
			return err
		}
		tools, err := buildTools(req.Tools)
		if err != nil {
			return err
		}
		if err := checkReferences(tx, &resp, tools, nil); err != nil {
			return err
		}
		resp.Impacts = impacts
		resp.Tools = tools
		return tx.Create(&resp).Error
	})
	if err != nil {
		return nil, err
	}
	GetMetrics().SubmissionsTotal.WithLabelValues(resp.MethodType).Inc()
	return s.Get(resp.ID)
}

func (s *ResponseService) Update(id uint, req *UpdateResponseRequest) (*models.Response, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing models.Response
		err := tx.Preload("Impacts", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
			Preload("Tools").
			First(&existing, id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundErr("response", id)
			}
			return err
		}

		prev := existing
		merged := existing
		if req.FunctionID != nil {
			merged.FunctionID = *req.FunctionID
		}
		if req.ClearTeam {
			merged.TeamID = nil
		} else if req.TeamID != nil {
			merged.TeamID = req.TeamID
		}
		if req.MethodType != nil {
			merged.MethodType = *req.MethodType
		}
		if req.CapabilityID != nil {
			merged.CapabilityID = *req.CapabilityID
		}
		if req.CapabilityOther != nil {
			merged.CapabilityOther = strings.TrimSpace(*req.CapabilityOther)
		}
		if req.Description != nil {
			merged.Description = strings.TrimSpace(*req.Description)
		}
		if req.SubmittedBy != nil {
			merged.SubmittedBy = strings.TrimSpace(*req.SubmittedBy)
		}

		impacts := existing.Impacts
		if req.Impacts != nil {
			if impacts, err = buildImpacts(merged.MethodType, *req.Impacts); err != nil {
				return err
			}
		} else if err := checkImpactCount(merged.MethodType, len(impacts)); err != nil {
			return err
		}

		tools := existing.Tools
		if req.Tools != nil {
			if tools, err = buildTools(*req.Tools); err != nil {
				return err
			}
		}

		if err := checkReferences(tx, &merged, tools, &prev); err != nil {
			return err
		}

		err = tx.Model(&existing).
			Select("function_id", "team_id", "method_type", "capability_id", "capability_other", "description", "submitted_by").
			Updates(&models.Response{
				FunctionID:      merged.FunctionID,
				TeamID:          merged.TeamID,
				MethodType:      merged.MethodType,
				CapabilityID:    merged.CapabilityID,
				CapabilityOther: merged.CapabilityOther,
				Description:     merged.Description,
				SubmittedBy:     merged.SubmittedBy,
			}).Error
		if err != nil {
			return err
		}

		if req.Impacts != nil {
			if err := tx.Where("response_id = ?", id).Delete(&models.ImpactEntry{}).Error; err != nil {
				return err
			}
			for i := range impacts {
				impacts[i].ResponseID = id
			}
			if len(impacts) > 0 {
				if err := tx.Create(&impacts).Error; err != nil {
					return err
				}
			}
		} else {
			// Re-save so annual values follow the current normalizer.
			for i := range impacts {
				if err := tx.Save(&impacts[i]).Error; err != nil {
					return err
				}
			}
		}

		if req.Tools != nil {
			if err := tx.Where("response_id = ?", id).Delete(&models.ToolRef{}).Error; err != nil {
				return err
			}
			for i := range tools {
				tools[i].ResponseID = id
			}
			if len(tools) > 0 {
				if err := tx.Create(&tools).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

func (s *ResponseService) Delete(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var resp models.Response
		if err := findOr404(tx, &resp, "response", id); err != nil {
			return err
		}
		if err := tx.Where("response_id = ?", id).Delete(&models.ImpactEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("response_id = ?", id).Delete(&models.ToolRef{}).Error; err != nil {
			return err
		}
		return tx.Delete(&resp).Error
	})
}

// checkImpactCount enforces the method rules: workflows and tasks report at
// least one impact, experiments none.
func checkImpactCount(method string, n int) error {
	if n > models.MaxImpacts {
		return validationErr("at most %d impacts are allowed", models.MaxImpacts)
	}
	switch method {
	case models.MethodWorkflow, models.MethodTask:
		if n == 0 {
			return validationErr("a %s requires at least one impact", method)
		}
	case models.MethodExperiment:
		if n > 0 {
			return validationErr("an experiment cannot report impacts")
		}
	default:
		return validationErr("unknown method_type %q", method)
	}
	return nil
}

func buildImpacts(method string, inputs []ImpactInput) ([]models.ImpactEntry, error) {
	if err := checkImpactCount(method, len(inputs)); err != nil {
		return nil, err
	}
	entries := make([]models.ImpactEntry, 0, len(inputs))
	for i, in := range inputs {
		e := models.ImpactEntry{
			Position:    i + 1,
			Type:        strings.TrimSpace(in.Type),
			Description: strings.TrimSpace(in.Description),
		}
		if impact.Type(e.Type).IsNumeric() {
			e.Value = in.Value
			e.Frequency = strings.TrimSpace(in.Frequency)
			e.TimeUnit = strings.ToLower(strings.TrimSpace(in.TimeUnit))
		}
		annual, err := impact.Annualize(e.Normalized())
		if err != nil {
			return nil, validationErr("impact %d: %v", i+1, err)
		}
		e.AnnualValue = annual
		entries = append(entries, e)
	}
	return entries, nil
}

func buildTools(inputs []ToolInput) ([]models.ToolRef, error) {
	refs := make([]models.ToolRef, 0, len(inputs))
	seenIDs := make(map[uint]bool)
	seenNames := make(map[string]bool)
	for i, in := range inputs {
		name := strings.TrimSpace(in.CustomName)
		if (in.ToolID == nil) == (name == "") {
			return nil, validationErr("tool %d: set exactly one of tool_id or custom_name", i+1)
		}
		if in.ToolID != nil {
			if seenIDs[*in.ToolID] {
				continue
			}
			seenIDs[*in.ToolID] = true
			id := *in.ToolID
			refs = append(refs, models.ToolRef{ToolID: &id})
			continue
		}
		if seenNames[strings.ToLower(name)] {
			continue
		}
		seenNames[strings.ToLower(name)] = true
		refs = append(refs, models.ToolRef{CustomName: name})
	}
	return refs, nil
}

// checkReferences validates resp's lookups. When prev is set, references
// equal to prev's may point at inactive rows.
func checkReferences(tx *gorm.DB, resp *models.Response, tools []models.ToolRef, prev *models.Response) error {
	var fn models.Function
	if err := tx.First(&fn, resp.FunctionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validationErr("function %d does not exist", resp.FunctionID)
		}
		return err
	}
	if !fn.Active && (prev == nil || prev.FunctionID != fn.ID) {
		return validationErr("function %q is inactive", fn.Name)
	}

	if resp.TeamID == nil {
		var activeTeams int64
		if err := tx.Model(&models.Team{}).Where("function_id = ? AND active = ?", fn.ID, true).Count(&activeTeams).Error; err != nil {
			return err
		}
		if activeTeams > 0 && (prev == nil || prev.TeamID != nil || prev.FunctionID != fn.ID) {
			return validationErr("team is required for function %q", fn.Name)
		}
	} else {
		var team models.Team
		if err := tx.First(&team, *resp.TeamID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationErr("team %d does not exist", *resp.TeamID)
			}
			return err
		}
		if team.FunctionID != fn.ID {
			return validationErr("team %q does not belong to function %q", team.Name, fn.Name)
		}
		unchanged := prev != nil && prev.TeamID != nil && *prev.TeamID == team.ID
		if !team.Active && !unchanged {
			return validationErr("team %q is inactive", team.Name)
		}
	}

	var capability models.Capability
	if err := tx.First(&capability, resp.CapabilityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return validationErr("capability %d does not exist", resp.CapabilityID)
		}
		return err
	}
	if !capability.Active && (prev == nil || prev.CapabilityID != capability.ID) {
		return validationErr("capability %q is inactive", capability.Name)
	}
	if strings.EqualFold(capability.Name, models.OtherCapabilityName) && strings.TrimSpace(resp.CapabilityOther) == "" {
		return validationErr("capability_other is required when capability is %q", capability.Name)
	}

	previousTools := make(map[uint]bool)
	if prev != nil {
		for _, ref := range prev.Tools {
			if ref.ToolID != nil {
				previousTools[*ref.ToolID] = true
			}
		}
	}
	for _, ref := range tools {
		if ref.ToolID == nil {
			continue
		}
		var tool models.Tool
		if err := tx.First(&tool, *ref.ToolID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationErr("tool %d does not exist", *ref.ToolID)
			}
			return err
		}
		if !tool.Active && !previousTools[tool.ID] {
			return validationErr("tool %q is inactive", tool.Name)
		}
	}
	return nil
}
