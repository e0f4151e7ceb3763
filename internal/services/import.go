package services

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/huangang/aiusage/internal/aggregate"
	"github.com/huangang/aiusage/internal/impact"
	"github.com/huangang/aiusage/internal/models"
	"github.com/huangang/aiusage/pkg/logger"
	"golang.org/x/text/encoding/charmap"
	"gorm.io/gorm"
)

// Import modes.
const (
	ImportAppend  = "append"
	ImportReplace = "replace"
)

var requiredImportColumns = []string{"function", "method_type", "capability", "description"}

var submittedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ImportRowError lists the problems of one CSV row. Row numbers count the
// header as row 1.
type ImportRowError struct {
	Row    int      `json:"row"`
	Errors []string `json:"errors"`
}

type ImportResult struct {
	Success   int              `json:"success"`
	Skipped   int              `json:"skipped"`
	Errors    []ImportRowError `json:"errors"`
	Mode      string           `json:"mode"`
	TotalRows int              `json:"total_rows"`
}

type ImportService struct {
	db *gorm.DB
}

func NewImportService(db *gorm.DB) *ImportService {
	return &ImportService{db: db}
}

// nameIndex resolves lookup names case-insensitively. Active rows win over
// inactive ones carrying the same name.
type nameIndex struct {
	functions    map[string]uint
	teams        map[uint]map[string]uint
	tools        map[string]uint
	capabilities map[string]uint
	capNames     map[uint]string
}

func newNameIndex(dir *aggregate.Directory) *nameIndex {
	idx := &nameIndex{
		functions:    make(map[string]uint),
		teams:        make(map[uint]map[string]uint),
		tools:        make(map[string]uint),
		capabilities: make(map[string]uint),
		capNames:     make(map[uint]string),
	}
	put := func(m map[string]uint, name string, id uint, active bool, isActive func(uint) bool) {
		key := strings.ToLower(strings.TrimSpace(name))
		if prev, ok := m[key]; ok && isActive(prev) && !active {
			return
		}
		m[key] = id
	}
	for id, f := range dir.Functions {
		put(idx.functions, f.Name, id, f.Active, func(p uint) bool { return dir.Functions[p].Active })
	}
	for id, t := range dir.Teams {
		if idx.teams[t.FunctionID] == nil {
			idx.teams[t.FunctionID] = make(map[string]uint)
		}
		put(idx.teams[t.FunctionID], t.Name, id, t.Active, func(p uint) bool { return dir.Teams[p].Active })
	}
	for id, t := range dir.Tools {
		put(idx.tools, t.Name, id, t.Active, func(p uint) bool { return dir.Tools[p].Active })
	}
	for id, c := range dir.Capabilities {
		put(idx.capabilities, c.Name, id, c.Active, func(p uint) bool { return dir.Capabilities[p].Active })
		idx.capNames[id] = c.Name
	}
	return idx
}

// ImportCSV loads responses from a CSV in the export layout. Rows that fail
// validation are reported and skipped; the valid rows are stored in one
// transaction. In replace mode the existing responses are removed first, but
// only when at least one row is valid.
func (s *ImportService) ImportCSV(r io.Reader, mode string) (*ImportResult, error) {
	if mode == "" {
		mode = ImportAppend
	}
	if mode != ImportAppend && mode != ImportReplace {
		return nil, validationErr("mode must be append or replace")
	}

	reader, err := decodeText(r)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, validationErr("csv file is empty")
		}
		return nil, validationErr("read csv header: %v", err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		columns[h] = i
	}
	var missing []string
	for _, c := range requiredImportColumns {
		if _, ok := columns[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, validationErr("csv is missing column(s): %s", strings.Join(missing, ", "))
	}

	dir, err := LoadDirectory(s.db)
	if err != nil {
		return nil, err
	}
	idx := newNameIndex(dir)

	result := &ImportResult{Mode: mode, Errors: []ImportRowError{}}
	var valid []models.Response
	rowNum := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			result.Errors = append(result.Errors, ImportRowError{Row: rowNum, Errors: []string{err.Error()}})
			continue
		}
		get := func(col string) string {
			if i, ok := columns[col]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		if isBlankRecord(record) {
			result.Skipped++
			continue
		}

		resp, problems := idx.buildResponse(get)
		if len(problems) > 0 {
			result.Errors = append(result.Errors, ImportRowError{Row: rowNum, Errors: problems})
			continue
		}
		valid = append(valid, resp)
	}
	result.TotalRows = len(valid) + len(result.Errors)

	if len(valid) > 0 {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if mode == ImportReplace {
				if err := clearResponses(tx); err != nil {
					return err
				}
			}
			for i := range valid {
				if err := tx.Create(&valid[i]).Error; err != nil {
					return fmt.Errorf("store row %d: %w", i+1, err)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	result.Success = len(valid)

	logger.Info().
		Str("mode", mode).
		Int("imported", result.Success).
		Int("rejected", len(result.Errors)).
		Msg("[Import] Responses imported")
	LogInfo("import", "import_responses",
		fmt.Sprintf("Imported %d response(s) in %s mode, %d row(s) rejected", result.Success, mode, len(result.Errors)),
		"", "", nil)
	return result, nil
}

func (idx *nameIndex) buildResponse(get func(string) string) (models.Response, []string) {
	var problems []string
	resp := models.Response{
		CapabilityOther: get("capability_other"),
		Description:     get("description"),
		SubmittedBy:     get("submitted_by"),
	}

	functionName := get("function")
	switch id, ok := idx.functions[strings.ToLower(functionName)]; {
	case functionName == "":
		problems = append(problems, "Missing function")
	case !ok:
		problems = append(problems, "Unknown function: "+functionName)
	default:
		resp.FunctionID = id
	}

	if teamName := get("team"); teamName != "" && resp.FunctionID != 0 {
		if id, ok := idx.teams[resp.FunctionID][strings.ToLower(teamName)]; ok {
			resp.TeamID = &id
		} else {
			problems = append(problems, fmt.Sprintf("Unknown team: %s (for function %s)", teamName, functionName))
		}
	}

	capabilityName := get("capability")
	switch id, ok := idx.capabilities[strings.ToLower(capabilityName)]; {
	case capabilityName == "":
		problems = append(problems, "Missing capability")
	case !ok:
		problems = append(problems, "Unknown capability: "+capabilityName)
	default:
		resp.CapabilityID = id
		if strings.EqualFold(idx.capNames[id], models.OtherCapabilityName) && resp.CapabilityOther == "" {
			problems = append(problems, "capability_other is required for "+models.OtherCapabilityName)
		}
	}

	resp.MethodType = strings.ToLower(get("method_type"))
	if !isMethodType(resp.MethodType) {
		problems = append(problems, "Invalid method_type: "+resp.MethodType)
	}

	if resp.Description == "" {
		problems = append(problems, "Missing description")
	}

	var tools []ToolInput
	for _, name := range splitList(get("tools")) {
		if id, ok := idx.tools[strings.ToLower(name)]; ok {
			id := id
			tools = append(tools, ToolInput{ToolID: &id})
		} else {
			problems = append(problems, "Unknown tool: "+name)
		}
	}
	for _, name := range splitList(get("other_tools")) {
		tools = append(tools, ToolInput{CustomName: name})
	}
	if refs, err := buildTools(tools); err != nil {
		problems = append(problems, err.Error())
	} else {
		resp.Tools = refs
	}

	var impacts []ImpactInput
	for i := 1; i <= models.MaxImpacts; i++ {
		prefix := fmt.Sprintf("impact%d_", i)
		typ := strings.ToLower(get(prefix + "type"))
		if typ == "" {
			continue
		}
		in := ImpactInput{
			Type:        typ,
			Frequency:   strings.ToLower(get(prefix + "frequency")),
			Description: get(prefix + "description"),
		}
		if impact.Type(typ) == impact.TimeSavings {
			in.TimeUnit = get(prefix + "time_unit")
		}
		if raw := get(prefix + "value"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				problems = append(problems, fmt.Sprintf("impact %d: value %q is not a number", i, raw))
				continue
			}
			in.Value = &v
		}
		impacts = append(impacts, in)
	}
	if isMethodType(resp.MethodType) {
		if entries, err := buildImpacts(resp.MethodType, impacts); err != nil {
			problems = append(problems, strings.TrimPrefix(err.Error(), ErrValidation.Error()+": "))
		} else {
			resp.Impacts = entries
		}
	}

	if raw := get("submitted_at"); raw != "" {
		at, ok := parseSubmittedAt(raw)
		if !ok {
			problems = append(problems, "Invalid submitted_at: "+raw)
		}
		resp.CreatedAt = at
	}
	return resp, problems
}

func clearResponses(tx *gorm.DB) error {
	for _, m := range []interface{}{&models.ToolRef{}, &models.ImpactEntry{}, &models.Response{}} {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
			return err
		}
	}
	return nil
}

// decodeText returns r as UTF-8, reading it as Latin-1 when it is not valid
// UTF-8.
func decodeText(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if utf8.Valid(data) {
		return bytes.NewReader(data), nil
	}
	return bufio.NewReader(charmap.ISO8859_1.NewDecoder().Reader(bytes.NewReader(data))), nil
}

func parseSubmittedAt(raw string) (time.Time, bool) {
	for _, layout := range submittedAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// splitList splits a joinList cell on unescaped commas.
func splitList(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		escaped bool
	)
	flush := func() {
		if part := strings.TrimSpace(cur.String()); part != "" {
			out = append(out, part)
		}
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		cur.WriteByte('\\')
	}
	flush()
	return out
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
