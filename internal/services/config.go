package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/huangang/aiusage/internal/models"
	"github.com/huangang/aiusage/internal/spreadsheet"
	"github.com/huangang/aiusage/pkg/logger"
	"gorm.io/gorm"
)

type ConfigService struct {
	db *gorm.DB
}

func NewConfigService(db *gorm.DB) *ConfigService {
	return &ConfigService{db: db}
}

// ConfigSnapshot is everything the intake form needs to render.
type ConfigSnapshot struct {
	Functions    []models.Function   `json:"functions"`
	Teams        []models.Team       `json:"teams"`
	Tools        []models.Tool       `json:"tools"`
	Capabilities []models.Capability `json:"capabilities"`
}

type ConfigListRequest struct {
	IncludeInactive bool  `form:"include_inactive"`
	FunctionID      *uint `form:"function_id"`
}

type CreateNameRequest struct {
	Name string `json:"name" binding:"required,notblank,max=200"`
}

type UpdateNameRequest struct {
	Name   *string `json:"name" binding:"omitempty,notblank,max=200"`
	Active *bool   `json:"active"`
}

type CreateTeamRequest struct {
	FunctionID uint   `json:"function_id" binding:"required"`
	Name       string `json:"name" binding:"required,notblank,max=200"`
}

type UpdateTeamRequest struct {
	FunctionID *uint   `json:"function_id"`
	Name       *string `json:"name" binding:"omitempty,notblank,max=200"`
	Active     *bool   `json:"active"`
}

type CreateCapabilityRequest struct {
	Name string `json:"name" binding:"required,notblank,max=200"`
	Icon string `json:"icon" binding:"max=50"`
}

type UpdateCapabilityRequest struct {
	Name   *string `json:"name" binding:"omitempty,notblank,max=200"`
	Icon   *string `json:"icon" binding:"omitempty,max=50"`
	Active *bool   `json:"active"`
}

// RemoveResult tells whether a removed lookup was kept as inactive.
type RemoveResult struct {
	ID          uint `json:"id"`
	Deactivated bool `json:"deactivated"`
	Deleted     bool `json:"deleted"`
}

func (s *ConfigService) Get(includeInactive bool) (*ConfigSnapshot, error) {
	var snap ConfigSnapshot
	var err error
	if snap.Functions, err = s.ListFunctions(includeInactive); err != nil {
		return nil, err
	}
	if snap.Teams, err = s.ListTeams(&ConfigListRequest{IncludeInactive: includeInactive}); err != nil {
		return nil, err
	}
	if snap.Tools, err = s.ListTools(includeInactive); err != nil {
		return nil, err
	}
	if snap.Capabilities, err = s.ListCapabilities(includeInactive); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *ConfigService) ListFunctions(includeInactive bool) ([]models.Function, error) {
	var items []models.Function
	query := s.db.Model(&models.Function{})
	if !includeInactive {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("name").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *ConfigService) ListTeams(req *ConfigListRequest) ([]models.Team, error) {
	var items []models.Team
	query := s.db.Model(&models.Team{})
	if !req.IncludeInactive {
		query = query.Where("active = ?", true)
	}
	if req.FunctionID != nil {
		query = query.Where("function_id = ?", *req.FunctionID)
	}
	if err := query.Order("function_id, name").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *ConfigService) ListTools(includeInactive bool) ([]models.Tool, error) {
	var items []models.Tool
	query := s.db.Model(&models.Tool{})
	if !includeInactive {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("name").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *ConfigService) ListCapabilities(includeInactive bool) ([]models.Capability, error) {
	var items []models.Capability
	query := s.db.Model(&models.Capability{})
	if !includeInactive {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("name").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// nameTaken reports whether another row of model already uses name,
// compared case-insensitively. scope adds extra conditions.
func nameTaken(db *gorm.DB, model interface{}, name string, exceptID uint, scope func(*gorm.DB) *gorm.DB) (bool, error) {
	var count int64
	query := db.Model(model).Where("LOWER(name) = ?", strings.ToLower(strings.TrimSpace(name)))
	if exceptID != 0 {
		query = query.Where("id <> ?", exceptID)
	}
	if scope != nil {
		query = scope(query)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func countWhere(db *gorm.DB, model interface{}, column string, id uint) (int64, error) {
	var count int64
	err := db.Model(model).Where(column+" = ?", id).Count(&count).Error
	return count, err
}

func findOr404(db *gorm.DB, dest interface{}, what string, id uint) error {
	if err := db.First(dest, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundErr(what, id)
		}
		return err
	}
	return nil
}

// --- Functions ---

func (s *ConfigService) CreateFunction(req *CreateNameRequest) (*models.Function, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	taken, err := nameTaken(s.db, &models.Function{}, name, 0, nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, conflictErr("function %q already exists", name)
	}
	fn := models.Function{Name: name, Active: true}
	if err := s.db.Create(&fn).Error; err != nil {
		return nil, err
	}
	return &fn, nil
}

func (s *ConfigService) UpdateFunction(id uint, req *UpdateNameRequest) (*models.Function, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var fn models.Function
	if err := findOr404(s.db, &fn, "function", id); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		taken, err := nameTaken(s.db, &models.Function{}, name, id, nil)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, conflictErr("function %q already exists", name)
		}
		updates["name"] = name
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) > 0 {
		if err := s.db.Model(&fn).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &fn, s.db.First(&fn, id).Error
}

// RemoveFunction deletes a function and its teams, or deactivates them
// when any response refers to the function or one of its teams.
func (s *ConfigService) RemoveFunction(id uint) (*RemoveResult, error) {
	result := &RemoveResult{ID: id}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var fn models.Function
		if err := findOr404(tx, &fn, "function", id); err != nil {
			return err
		}
		referenced, err := functionReferenced(tx, id)
		if err != nil {
			return err
		}
		if referenced {
			result.Deactivated = true
			if err := tx.Model(&models.Team{}).Where("function_id = ?", id).Update("active", false).Error; err != nil {
				return err
			}
			return tx.Model(&fn).Update("active", false).Error
		}
		result.Deleted = true
		if err := tx.Where("function_id = ?", id).Delete(&models.Team{}).Error; err != nil {
			return err
		}
		return tx.Delete(&fn).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func functionReferenced(tx *gorm.DB, id uint) (bool, error) {
	n, err := countWhere(tx, &models.Response{}, "function_id", id)
	if err != nil || n > 0 {
		return n > 0, err
	}
	var count int64
	err = tx.Model(&models.Response{}).
		Where("team_id IN (?)", tx.Model(&models.Team{}).Select("id").Where("function_id = ?", id)).
		Count(&count).Error
	return count > 0, err
}

// --- Teams ---

func (s *ConfigService) CreateTeam(req *CreateTeamRequest) (*models.Team, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var fn models.Function
	if err := s.db.First(&fn, req.FunctionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationErr("function %d does not exist", req.FunctionID)
		}
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	taken, err := nameTaken(s.db, &models.Team{}, name, 0, func(q *gorm.DB) *gorm.DB {
		return q.Where("function_id = ?", req.FunctionID)
	})
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, conflictErr("team %q already exists in %s", name, fn.Name)
	}
	team := models.Team{FunctionID: req.FunctionID, Name: name, Active: true}
	if err := s.db.Create(&team).Error; err != nil {
		return nil, err
	}
	return &team, nil
}

func (s *ConfigService) UpdateTeam(id uint, req *UpdateTeamRequest) (*models.Team, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var team models.Team
	if err := findOr404(s.db, &team, "team", id); err != nil {
		return nil, err
	}

	functionID := team.FunctionID
	updates := map[string]interface{}{}
	if req.FunctionID != nil && *req.FunctionID != team.FunctionID {
		var fn models.Function
		if err := s.db.First(&fn, *req.FunctionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, validationErr("function %d does not exist", *req.FunctionID)
			}
			return nil, err
		}
		refs, err := countWhere(s.db, &models.Response{}, "team_id", id)
		if err != nil {
			return nil, err
		}
		if refs > 0 {
			return nil, validationErr("team %q has responses and cannot move to another function", team.Name)
		}
		functionID = fn.ID
		updates["function_id"] = fn.ID
	}

	name := team.Name
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		updates["name"] = name
	}
	if len(updates) > 0 {
		taken, err := nameTaken(s.db, &models.Team{}, name, id, func(q *gorm.DB) *gorm.DB {
			return q.Where("function_id = ?", functionID)
		})
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, conflictErr("team %q already exists in function %d", name, functionID)
		}
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) > 0 {
		if err := s.db.Model(&team).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &team, s.db.First(&team, id).Error
}

func (s *ConfigService) RemoveTeam(id uint) (*RemoveResult, error) {
	var team models.Team
	if err := findOr404(s.db, &team, "team", id); err != nil {
		return nil, err
	}
	return s.removeReferenced(&team, id, &models.Response{}, "team_id")
}

// TeamEntries is what an admin needs before removing a team: how many
// submissions it holds and which active teams of the same function can
// take them over.
type TeamEntries struct {
	Team         models.Team   `json:"team"`
	EntryCount   int64         `json:"entry_count"`
	SiblingTeams []models.Team `json:"sibling_teams"`
}

// MoveTeamRequest names the team that receives the submissions. A null
// target moves them to the function level.
type MoveTeamRequest struct {
	TargetTeamID *uint `json:"target_team_id"`
}

type MoveTeamResult struct {
	ID           uint  `json:"id"`
	TargetTeamID *uint `json:"target_team_id"`
	Moved        int64 `json:"moved"`
}

func (s *ConfigService) TeamEntries(id uint) (*TeamEntries, error) {
	var team models.Team
	if err := findOr404(s.db, &team, "team", id); err != nil {
		return nil, err
	}
	count, err := countWhere(s.db, &models.Response{}, "team_id", id)
	if err != nil {
		return nil, err
	}
	siblings := []models.Team{}
	err = s.db.Where("function_id = ? AND id <> ? AND active = ?", team.FunctionID, id, true).
		Order("name").Find(&siblings).Error
	if err != nil {
		return nil, err
	}
	return &TeamEntries{Team: team, EntryCount: count, SiblingTeams: siblings}, nil
}

// MoveTeamEntries reassigns every submission of team id to target, or to
// the function level when target is nil, and deletes the team. Both steps
// commit together.
func (s *ConfigService) MoveTeamEntries(id uint, target *uint) (*MoveTeamResult, error) {
	result := &MoveTeamResult{ID: id, TargetTeamID: target}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var team models.Team
		if err := findOr404(tx, &team, "team", id); err != nil {
			return err
		}

		var value interface{} = gorm.Expr("NULL")
		if target != nil {
			if *target == id {
				return validationErr("target team must differ from the team being removed")
			}
			var dest models.Team
			if err := tx.First(&dest, *target).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return validationErr("target team %d does not exist", *target)
				}
				return err
			}
			if dest.FunctionID != team.FunctionID {
				return validationErr("target team %q belongs to another function", dest.Name)
			}
			if !dest.Active {
				return validationErr("target team %q is inactive", dest.Name)
			}
			value = dest.ID
		}

		moved := tx.Model(&models.Response{}).Where("team_id = ?", id).Update("team_id", value)
		if moved.Error != nil {
			return moved.Error
		}
		result.Moved = moved.RowsAffected
		return tx.Delete(&team).Error
	})
	if err != nil {
		return nil, err
	}

	LogInfo("config", "move_team",
		fmt.Sprintf("Team %d removed, %d submission(s) moved", id, result.Moved), "", "", result)
	return result, nil
}

// --- Tools ---

func (s *ConfigService) CreateTool(req *CreateNameRequest) (*models.Tool, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	taken, err := nameTaken(s.db, &models.Tool{}, name, 0, nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, conflictErr("tool %q already exists", name)
	}
	tool := models.Tool{Name: name, Active: true}
	if err := s.db.Create(&tool).Error; err != nil {
		return nil, err
	}
	return &tool, nil
}

func (s *ConfigService) UpdateTool(id uint, req *UpdateNameRequest) (*models.Tool, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var tool models.Tool
	if err := findOr404(s.db, &tool, "tool", id); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		taken, err := nameTaken(s.db, &models.Tool{}, name, id, nil)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, conflictErr("tool %q already exists", name)
		}
		updates["name"] = name
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) > 0 {
		if err := s.db.Model(&tool).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &tool, s.db.First(&tool, id).Error
}

func (s *ConfigService) RemoveTool(id uint) (*RemoveResult, error) {
	var tool models.Tool
	if err := findOr404(s.db, &tool, "tool", id); err != nil {
		return nil, err
	}
	return s.removeReferenced(&tool, id, &models.ToolRef{}, "tool_id")
}

// --- Capabilities ---

func (s *ConfigService) CreateCapability(req *CreateCapabilityRequest) (*models.Capability, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	taken, err := nameTaken(s.db, &models.Capability{}, name, 0, nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, conflictErr("capability %q already exists", name)
	}
	capability := models.Capability{Name: name, Icon: strings.TrimSpace(req.Icon), Active: true}
	if err := s.db.Create(&capability).Error; err != nil {
		return nil, err
	}
	return &capability, nil
}

func (s *ConfigService) UpdateCapability(id uint, req *UpdateCapabilityRequest) (*models.Capability, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	var capability models.Capability
	if err := findOr404(s.db, &capability, "capability", id); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		taken, err := nameTaken(s.db, &models.Capability{}, name, id, nil)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, conflictErr("capability %q already exists", name)
		}
		updates["name"] = name
	}
	if req.Icon != nil {
		updates["icon"] = strings.TrimSpace(*req.Icon)
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) > 0 {
		if err := s.db.Model(&capability).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return &capability, s.db.First(&capability, id).Error
}

func (s *ConfigService) RemoveCapability(id uint) (*RemoveResult, error) {
	var capability models.Capability
	if err := findOr404(s.db, &capability, "capability", id); err != nil {
		return nil, err
	}
	return s.removeReferenced(&capability, id, &models.Response{}, "capability_id")
}

// removeReferenced deactivates row when refModel.column points at id and
// deletes it otherwise.
func (s *ConfigService) removeReferenced(row interface{}, id uint, refModel interface{}, column string) (*RemoveResult, error) {
	result := &RemoveResult{ID: id}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		refs, err := countWhere(tx, refModel, column, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			result.Deactivated = true
			return tx.Model(row).Update("active", false).Error
		}
		result.Deleted = true
		return tx.Delete(row).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- Bulk replacement ---

// ValidateBatch returns every problem that would reject batch.
func ValidateBatch(batch *spreadsheet.ConfigBatch) []string {
	var problems []string
	if batch == nil {
		return []string{"empty configuration"}
	}

	if len(batch.Functions) == 0 {
		problems = append(problems, "Functions: at least one function is required")
	}
	if len(batch.Capabilities) == 0 {
		problems = append(problems, "Capabilities: at least one capability is required")
	}

	functions := make(map[string]bool, len(batch.Functions))
	for i, name := range batch.Functions {
		key := strings.ToLower(strings.TrimSpace(name))
		switch {
		case key == "":
			problems = append(problems, rowProblem(spreadsheet.SheetFunctions, i, "blank name"))
		case functions[key]:
			problems = append(problems, rowProblem(spreadsheet.SheetFunctions, i, "duplicate function "+quote(name)))
		default:
			functions[key] = true
		}
	}

	teams := make(map[string]bool, len(batch.Teams))
	for i, t := range batch.Teams {
		fnKey := strings.ToLower(strings.TrimSpace(t.Function))
		teamKey := strings.ToLower(strings.TrimSpace(t.Name))
		switch {
		case fnKey == "" || teamKey == "":
			problems = append(problems, rowProblem(spreadsheet.SheetTeams, i, "function and team are both required"))
		case !functions[fnKey]:
			problems = append(problems, rowProblem(spreadsheet.SheetTeams, i, "unknown function "+quote(t.Function)))
		case teams[fnKey+"\x00"+teamKey]:
			problems = append(problems, rowProblem(spreadsheet.SheetTeams, i, "duplicate team "+quote(t.Name)+" in "+quote(t.Function)))
		default:
			teams[fnKey+"\x00"+teamKey] = true
		}
	}

	tools := make(map[string]bool, len(batch.Tools))
	for i, name := range batch.Tools {
		key := strings.ToLower(strings.TrimSpace(name))
		switch {
		case key == "":
			problems = append(problems, rowProblem(spreadsheet.SheetTools, i, "blank name"))
		case tools[key]:
			problems = append(problems, rowProblem(spreadsheet.SheetTools, i, "duplicate tool "+quote(name)))
		default:
			tools[key] = true
		}
	}

	capabilities := make(map[string]bool, len(batch.Capabilities))
	for i, c := range batch.Capabilities {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		switch {
		case key == "":
			problems = append(problems, rowProblem(spreadsheet.SheetCapabilities, i, "blank name"))
		case capabilities[key]:
			problems = append(problems, rowProblem(spreadsheet.SheetCapabilities, i, "duplicate capability "+quote(c.Name)))
		default:
			capabilities[key] = true
		}
	}

	return problems
}

// rowProblem names the offending entry by its 1-based position in the sheet's data.
func rowProblem(sheet string, index int, msg string) string {
	return sheet + " #" + strconv.Itoa(index+1) + ": " + msg
}

func quote(s string) string { return `"` + strings.TrimSpace(s) + `"` }

// Replace makes the stored lookups equal to batch in one transaction.
// Absent rows that responses still reference are deactivated, the rest are
// deleted. Nothing is applied when the batch is invalid.
func (s *ConfigService) Replace(batch *spreadsheet.ConfigBatch, source string) (*models.ConfigVersion, error) {
	if problems := ValidateBatch(batch); len(problems) > 0 {
		GetMetrics().ConfigReplacementsTotal.WithLabelValues("rejected").Inc()
		return nil, &ReplacementError{Problems: problems}
	}

	version := &models.ConfigVersion{
		Version:      uuid.NewString(),
		SourceFile:   source,
		Functions:    len(batch.Functions),
		Teams:        len(batch.Teams),
		Tools:        len(batch.Tools),
		Capabilities: len(batch.Capabilities),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		r := &replacer{tx: tx, version: version}
		if err := r.functionsAndTeams(batch); err != nil {
			return err
		}
		if err := r.tools(batch.Tools); err != nil {
			return err
		}
		if err := r.capabilities(batch.Capabilities); err != nil {
			return err
		}
		return tx.Create(version).Error
	})
	if err != nil {
		GetMetrics().ConfigReplacementsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	GetMetrics().ConfigReplacementsTotal.WithLabelValues("applied").Inc()

	logger.Info().
		Str("version", version.Version).
		Str("source", source).
		Int("functions", version.Functions).
		Int("teams", version.Teams).
		Int("tools", version.Tools).
		Int("capabilities", version.Capabilities).
		Int("deactivated", version.Deactivated).
		Int("deleted", version.Deleted).
		Msg("configuration replaced")
	LogInfo("config", "replace",
		fmt.Sprintf("Configuration replaced from %s: %d deactivated, %d deleted", source, version.Deactivated, version.Deleted),
		"", "", version)
	return version, nil
}

type replacer struct {
	tx      *gorm.DB
	version *models.ConfigVersion
}

// retire deactivates row when referenced, otherwise deletes it. Rows that
// are already inactive and still referenced are left untouched.
func (r *replacer) retire(row interface{}, active, referenced bool) error {
	if referenced {
		if !active {
			return nil
		}
		r.version.Deactivated++
		return r.tx.Model(row).Update("active", false).Error
	}
	r.version.Deleted++
	return r.tx.Delete(row).Error
}

func (r *replacer) functionsAndTeams(batch *spreadsheet.ConfigBatch) error {
	var existing []models.Function
	if err := r.tx.Find(&existing).Error; err != nil {
		return err
	}
	byName := make(map[string]*models.Function, len(existing))
	for i := range existing {
		byName[strings.ToLower(existing[i].Name)] = &existing[i]
	}

	kept := make(map[uint]bool)
	fnIDs := make(map[string]uint, len(batch.Functions))
	for _, raw := range batch.Functions {
		name := strings.TrimSpace(raw)
		key := strings.ToLower(name)
		if fn, ok := byName[key]; ok {
			if err := r.tx.Model(fn).Updates(map[string]interface{}{"name": name, "active": true}).Error; err != nil {
				return err
			}
			kept[fn.ID] = true
			fnIDs[key] = fn.ID
			continue
		}
		fn := models.Function{Name: name, Active: true}
		if err := r.tx.Create(&fn).Error; err != nil {
			return err
		}
		kept[fn.ID] = true
		fnIDs[key] = fn.ID
	}

	var existingTeams []models.Team
	if err := r.tx.Find(&existingTeams).Error; err != nil {
		return err
	}
	teamByKey := make(map[string]*models.Team, len(existingTeams))
	for i := range existingTeams {
		t := &existingTeams[i]
		teamByKey[teamKey(t.FunctionID, t.Name)] = t
	}

	keptTeams := make(map[uint]bool)
	for _, row := range batch.Teams {
		fnID := fnIDs[strings.ToLower(strings.TrimSpace(row.Function))]
		name := strings.TrimSpace(row.Name)
		if t, ok := teamByKey[teamKey(fnID, name)]; ok {
			if err := r.tx.Model(t).Updates(map[string]interface{}{"name": name, "active": true}).Error; err != nil {
				return err
			}
			keptTeams[t.ID] = true
			continue
		}
		t := models.Team{FunctionID: fnID, Name: name, Active: true}
		if err := r.tx.Create(&t).Error; err != nil {
			return err
		}
		keptTeams[t.ID] = true
	}

	retainedTeams := make(map[uint]int)
	for i := range existingTeams {
		t := &existingTeams[i]
		if keptTeams[t.ID] {
			continue
		}
		refs, err := countWhere(r.tx, &models.Response{}, "team_id", t.ID)
		if err != nil {
			return err
		}
		if refs > 0 {
			retainedTeams[t.FunctionID]++
		}
		if err := r.retire(t, t.Active, refs > 0); err != nil {
			return err
		}
	}

	for i := range existing {
		fn := &existing[i]
		if kept[fn.ID] {
			continue
		}
		refs, err := countWhere(r.tx, &models.Response{}, "function_id", fn.ID)
		if err != nil {
			return err
		}
		if err := r.retire(fn, fn.Active, refs > 0 || retainedTeams[fn.ID] > 0); err != nil {
			return err
		}
	}
	return nil
}

func teamKey(functionID uint, name string) string {
	return strconv.FormatUint(uint64(functionID), 10) + "\x00" + strings.ToLower(strings.TrimSpace(name))
}

func (r *replacer) tools(names []string) error {
	var existing []models.Tool
	if err := r.tx.Find(&existing).Error; err != nil {
		return err
	}
	byName := make(map[string]*models.Tool, len(existing))
	for i := range existing {
		byName[strings.ToLower(existing[i].Name)] = &existing[i]
	}

	kept := make(map[uint]bool)
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if t, ok := byName[strings.ToLower(name)]; ok {
			if err := r.tx.Model(t).Updates(map[string]interface{}{"name": name, "active": true}).Error; err != nil {
				return err
			}
			kept[t.ID] = true
			continue
		}
		t := models.Tool{Name: name, Active: true}
		if err := r.tx.Create(&t).Error; err != nil {
			return err
		}
		kept[t.ID] = true
	}

	for i := range existing {
		t := &existing[i]
		if kept[t.ID] {
			continue
		}
		refs, err := countWhere(r.tx, &models.ToolRef{}, "tool_id", t.ID)
		if err != nil {
			return err
		}
		if err := r.retire(t, t.Active, refs > 0); err != nil {
			return err
		}
	}
	return nil
}

func (r *replacer) capabilities(rows []spreadsheet.CapabilityRow) error {
	var existing []models.Capability
	if err := r.tx.Find(&existing).Error; err != nil {
		return err
	}
	byName := make(map[string]*models.Capability, len(existing))
	for i := range existing {
		byName[strings.ToLower(existing[i].Name)] = &existing[i]
	}

	kept := make(map[uint]bool)
	for _, row := range rows {
		name := strings.TrimSpace(row.Name)
		icon := strings.TrimSpace(row.Icon)
		if c, ok := byName[strings.ToLower(name)]; ok {
			if err := r.tx.Model(c).Updates(map[string]interface{}{"name": name, "icon": icon, "active": true}).Error; err != nil {
				return err
			}
			kept[c.ID] = true
			continue
		}
		c := models.Capability{Name: name, Icon: icon, Active: true}
		if err := r.tx.Create(&c).Error; err != nil {
			return err
		}
		kept[c.ID] = true
	}

	for i := range existing {
		c := &existing[i]
		if kept[c.ID] {
			continue
		}
		refs, err := countWhere(r.tx, &models.Response{}, "capability_id", c.ID)
		if err != nil {
			return err
		}
		if err := r.retire(c, c.Active, refs > 0); err != nil {
			return err
		}
	}
	return nil
}

// ListVersions returns the most recent replacements first.
func (s *ConfigService) ListVersions(limit int) ([]models.ConfigVersion, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var versions []models.ConfigVersion
	if err := s.db.Order("id DESC").Limit(limit).Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

// ExportBatch returns the active lookups in upload layout.
func (s *ConfigService) ExportBatch() (*spreadsheet.ConfigBatch, error) {
	snap, err := s.Get(false)
	if err != nil {
		return nil, err
	}
	batch := &spreadsheet.ConfigBatch{
		Functions:    make([]string, 0, len(snap.Functions)),
		Teams:        make([]spreadsheet.TeamRow, 0, len(snap.Teams)),
		Tools:        make([]string, 0, len(snap.Tools)),
		Capabilities: make([]spreadsheet.CapabilityRow, 0, len(snap.Capabilities)),
	}
	fnNames := make(map[uint]string, len(snap.Functions))
	for _, fn := range snap.Functions {
		batch.Functions = append(batch.Functions, fn.Name)
		fnNames[fn.ID] = fn.Name
	}
	for _, t := range snap.Teams {
		if name, ok := fnNames[t.FunctionID]; ok {
			batch.Teams = append(batch.Teams, spreadsheet.TeamRow{Function: name, Name: t.Name})
		}
	}
	for _, t := range snap.Tools {
		batch.Tools = append(batch.Tools, t.Name)
	}
	for _, c := range snap.Capabilities {
		batch.Capabilities = append(batch.Capabilities, spreadsheet.CapabilityRow{Name: c.Name, Icon: c.Icon})
	}
	return batch, nil
}
