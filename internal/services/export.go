package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/huangang/aiusage/internal/models"
	"github.com/huangang/aiusage/internal/spreadsheet"
	"github.com/huangang/aiusage/pkg/logger"
	"gorm.io/gorm"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const entriesSheet = "Entries"

var impactColumns = []string{"type", "value", "frequency", "time_unit", "annual_value", "description"}

// entryColumns is the flat layout shared by export and import.
var entryColumns = func() []string {
	cols := []string{"id", "function", "team", "method_type", "capability", "capability_other",
		"description", "tools", "other_tools"}
	for i := 1; i <= models.MaxImpacts; i++ {
		for _, c := range impactColumns {
			cols = append(cols, fmt.Sprintf("impact%d_%s", i, c))
		}
	}
	return append(cols, "submitted_by", "submitted_at")
}()

// ExportFile describes a file in the export directory.
type ExportFile struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Records  int       `json:"records,omitempty"`
}

type ExportService struct {
	db  *gorm.DB
	dir string
}

func NewExportService(db *gorm.DB, dir string) *ExportService {
	return &ExportService{db: db, dir: dir}
}

func IsValidFormat(format string) bool {
	return format == FormatCSV || format == FormatXLSX
}

// ExportFilename names an export taken at t.
func ExportFilename(format string, t time.Time) string {
	return fmt.Sprintf("entries_%s.%s", t.Format("20060102_150405"), format)
}

func (s *ExportService) Dir() string {
	return s.dir
}

// Write streams every response in format to w and returns the record count.
func (s *ExportService) Write(w io.Writer, format string) (int, error) {
	if !IsValidFormat(format) {
		return 0, validationErr("format must be csv or xlsx")
	}
	responses, err := s.load()
	if err != nil {
		return 0, err
	}

	if format == FormatXLSX {
		rows := make([][]interface{}, len(responses))
		for i := range responses {
			rows[i] = entryCells(&responses[i])
		}
		if err := spreadsheet.WriteTable(w, entriesSheet, entryColumns, rows); err != nil {
			return 0, fmt.Errorf("write xlsx: %w", err)
		}
		return len(responses), nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(entryColumns); err != nil {
		return 0, err
	}
	for i := range responses {
		if err := cw.Write(entryRecord(&responses[i])); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("write csv: %w", err)
	}
	return len(responses), nil
}

// ExportToDir writes a timestamped export into the export directory.
func (s *ExportService) ExportToDir(format string) (*ExportFile, error) {
	if !IsValidFormat(format) {
		return nil, validationErr("format must be csv or xlsx")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	name := ExportFilename(format, time.Now())
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, ".export-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	records, err := s.Write(tmp, format)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("file", path).Int("records", records).Msg("[Export] Entries exported")
	return &ExportFile{Name: name, Path: path, Size: info.Size(), Modified: info.ModTime(), Records: records}, nil
}

// ProcessExportTask runs an export job from the task queue.
func (s *ExportService) ProcessExportTask(ctx context.Context, task *ExportTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := s.ExportToDir(task.Format)
	if err != nil {
		GetMetrics().ExportJobsTotal.WithLabelValues(task.Format, "failed").Inc()
		logger.Error().Err(err).Str("job_id", task.JobID).Msg("[Export] Export job failed")
		LogError("export", "export_job", err.Error(), "", "", task)
		return err
	}
	GetMetrics().ExportJobsTotal.WithLabelValues(task.Format, "success").Inc()
	LogInfo("export", "export_job",
		fmt.Sprintf("Exported %d entries to %s", file.Records, file.Name), "", "",
		map[string]interface{}{"job_id": task.JobID, "trigger": task.Trigger, "file": file.Name})
	return nil
}

// ListExports returns the export directory's files, newest first.
func (s *ExportService) ListExports() ([]ExportFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ExportFile{}, nil
		}
		return nil, err
	}

	files := make([]ExportFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, ExportFile{
			Name:     e.Name(),
			Path:     filepath.Join(s.dir, e.Name()),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].Modified.Equal(files[j].Modified) {
			return files[i].Modified.After(files[j].Modified)
		}
		return files[i].Name > files[j].Name
	})
	return files, nil
}

func (s *ExportService) load() ([]models.Response, error) {
	var responses []models.Response
	err := withDetails(s.db).Order("id").Find(&responses).Error
	return responses, err
}

// entryCells is one export row. Missing values are nil so spreadsheet cells
// stay empty and numbers keep their type.
func entryCells(r *models.Response) []interface{} {
	var known, custom []string
	for i := range r.Tools {
		ref := &r.Tools[i]
		switch {
		case ref.ToolID == nil:
			custom = append(custom, ref.CustomName)
		case ref.Tool != nil:
			known = append(known, ref.Tool.Name)
		default:
			known = append(known, fmt.Sprintf("Unknown(%d)", *ref.ToolID))
		}
	}

	row := []interface{}{
		r.ID,
		nameOf(r.Function),
		teamName(r.Team),
		r.MethodType,
		capabilityName(r.Capability),
		r.CapabilityOther,
		r.Description,
		joinList(known),
		joinList(custom),
	}
	for i := 0; i < models.MaxImpacts; i++ {
		if i >= len(r.Impacts) {
			row = append(row, nil, nil, nil, nil, nil, nil)
			continue
		}
		im := r.Impacts[i]
		row = append(row, im.Type, floatCell(im.Value), im.Frequency, im.TimeUnit, floatCell(im.AnnualValue), im.Description)
	}
	return append(row, r.SubmittedBy, r.CreatedAt.Format(time.RFC3339))
}

var listEscaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`)

// joinList renders names as one comma separated cell. Commas and
// backslashes inside a name are escaped with a backslash; splitList
// reverses it.
func joinList(names []string) string {
	escaped := make([]string, len(names))
	for i, name := range names {
		escaped[i] = listEscaper.Replace(name)
	}
	return strings.Join(escaped, ", ")
}

func entryRecord(r *models.Response) []string {
	cells := entryCells(r)
	record := make([]string, len(cells))
	for i, c := range cells {
		switch v := c.(type) {
		case nil:
		case string:
			record[i] = v
		case uint:
			record[i] = strconv.FormatUint(uint64(v), 10)
		case float64:
			record[i] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			record[i] = fmt.Sprint(v)
		}
	}
	return record
}

func floatCell(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nameOf(f *models.Function) string {
	if f == nil {
		return ""
	}
	return f.Name
}

func teamName(t *models.Team) string {
	if t == nil {
		return ""
	}
	return t.Name
}

func capabilityName(c *models.Capability) string {
	if c == nil {
		return ""
	}
	return c.Name
}
