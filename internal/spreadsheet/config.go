// Package spreadsheet reads and writes the configuration workbook and
// tabular exports.
package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the configuration workbook.
const (
	SheetFunctions    = "Functions"
	SheetTeams        = "Teams"
	SheetTools        = "Tools"
	SheetCapabilities = "Capabilities"
)

var (
	ErrUnreadable   = errors.New("workbook cannot be read")
	ErrMissingSheet = errors.New("required sheet missing")
)

type TeamRow struct {
	Function string `json:"function"`
	Name     string `json:"name"`
}

type CapabilityRow struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// ConfigBatch is the full desired set of lookups. Names are trimmed but not
// otherwise validated here.
type ConfigBatch struct {
	Functions    []string        `json:"functions"`
	Teams        []TeamRow       `json:"teams"`
	Tools        []string        `json:"tools"`
	Capabilities []CapabilityRow `json:"capabilities"`
}

// ParseConfig reads a configuration workbook. The first row of every sheet
// is a header. Functions, Tools and Capabilities are required; Teams is
// optional. Fully blank rows are skipped.
func ParseConfig(r io.Reader) (*ConfigBatch, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	sheets := make(map[string]string)
	for _, name := range f.GetSheetList() {
		sheets[strings.ToLower(strings.TrimSpace(name))] = name
	}

	var missing []string
	for _, required := range []string{SheetFunctions, SheetTools, SheetCapabilities} {
		if _, ok := sheets[strings.ToLower(required)]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingSheet, strings.Join(missing, ", "))
	}

	batch := &ConfigBatch{
		Functions:    []string{},
		Teams:        []TeamRow{},
		Tools:        []string{},
		Capabilities: []CapabilityRow{},
	}

	rows, err := dataRows(f, sheets[strings.ToLower(SheetFunctions)])
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		batch.Functions = append(batch.Functions, cell(row, 0))
	}

	if name, ok := sheets[strings.ToLower(SheetTeams)]; ok {
		rows, err := dataRows(f, name)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			batch.Teams = append(batch.Teams, TeamRow{Function: cell(row, 0), Name: cell(row, 1)})
		}
	}

	rows, err = dataRows(f, sheets[strings.ToLower(SheetTools)])
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		batch.Tools = append(batch.Tools, cell(row, 0))
	}

	rows, err = dataRows(f, sheets[strings.ToLower(SheetCapabilities)])
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		batch.Capabilities = append(batch.Capabilities, CapabilityRow{Name: cell(row, 0), Icon: cell(row, 1)})
	}

	return batch, nil
}

// WriteConfig writes batch in the same layout ParseConfig reads.
func WriteConfig(w io.Writer, batch *ConfigBatch) error {
	f := excelize.NewFile()
	defer f.Close()

	functions := make([][]interface{}, 0, len(batch.Functions))
	for _, name := range batch.Functions {
		functions = append(functions, []interface{}{name})
	}
	teams := make([][]interface{}, 0, len(batch.Teams))
	for _, t := range batch.Teams {
		teams = append(teams, []interface{}{t.Function, t.Name})
	}
	tools := make([][]interface{}, 0, len(batch.Tools))
	for _, name := range batch.Tools {
		tools = append(tools, []interface{}{name})
	}
	capabilities := make([][]interface{}, 0, len(batch.Capabilities))
	for _, c := range batch.Capabilities {
		capabilities = append(capabilities, []interface{}{c.Name, c.Icon})
	}

	if err := f.SetSheetName("Sheet1", SheetFunctions); err != nil {
		return err
	}
	if err := writeSheet(f, SheetFunctions, []string{"Function"}, functions); err != nil {
		return err
	}
	if err := writeSheet(f, SheetTeams, []string{"Function", "Team"}, teams); err != nil {
		return err
	}
	if err := writeSheet(f, SheetTools, []string{"Tool"}, tools); err != nil {
		return err
	}
	if err := writeSheet(f, SheetCapabilities, []string{"Capability", "Icon"}, capabilities); err != nil {
		return err
	}
	f.SetActiveSheet(0)

	return f.Write(w)
}

func dataRows(f *excelize.File, sheet string) ([][]string, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	out := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
