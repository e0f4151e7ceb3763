// Package impact converts raw impact entries into annualized figures.
//
// Cost savings annualize to currency per year, time savings to hours per year.
// Quality and new-capability entries carry no number and are only counted.
package impact

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Type is the kind of effect an impact entry describes.
type Type string

const (
	CostSavings   Type = "cost_savings"
	TimeSavings   Type = "time_savings"
	Quality       Type = "quality"
	NewCapability Type = "new_capability"
)

// Frequency is how often a saving recurs.
type Frequency string

const (
	OneTime   Frequency = "one_time"
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
)

// TimeUnit is the unit a time_savings value is expressed in, per occurrence.
type TimeUnit string

const (
	Minutes TimeUnit = "minutes"
	Hours   TimeUnit = "hours"
	Days    TimeUnit = "days"
	Weeks   TimeUnit = "weeks"
)

// BusinessDaysPerYear is the multiplier applied to daily entries.
const BusinessDaysPerYear = 260

// ErrInvalidEntry is returned when an entry's type/value/frequency/unit
// combination cannot be normalized.
var ErrInvalidEntry = errors.New("invalid impact entry")

var multipliers = map[Frequency]float64{
	OneTime:   1,
	Daily:     BusinessDaysPerYear,
	Weekly:    52,
	Monthly:   12,
	Quarterly: 4,
}

// Hours per unit. A working day is 8 hours and a working week is 40.
var hoursPerUnit = map[TimeUnit]float64{
	Minutes: 1.0 / 60.0,
	Hours:   1,
	Days:    8,
	Weeks:   40,
}

// Entry is the normalizer input: one impact entry's raw fields.
type Entry struct {
	Type      Type
	Value     *float64
	Frequency Frequency
	TimeUnit  TimeUnit
}

// Types lists every impact type in display order.
func Types() []Type {
	return []Type{CostSavings, TimeSavings, Quality, NewCapability}
}

// Frequencies lists every accepted frequency.
func Frequencies() []Frequency {
	return []Frequency{OneTime, Daily, Weekly, Monthly, Quarterly}
}

// TimeUnits lists every accepted time unit.
func TimeUnits() []TimeUnit {
	return []TimeUnit{Minutes, Hours, Days, Weeks}
}

// IsValidType reports whether t is a known impact type.
func IsValidType(t string) bool {
	switch Type(t) {
	case CostSavings, TimeSavings, Quality, NewCapability:
		return true
	}
	return false
}

// IsValidFrequency reports whether f is a known frequency.
func IsValidFrequency(f string) bool {
	_, ok := multipliers[Frequency(f)]
	return ok
}

// IsValidTimeUnit reports whether u is a known time unit. The empty string is
// accepted and means hours.
func IsValidTimeUnit(u string) bool {
	if u == "" {
		return true
	}
	_, ok := hoursPerUnit[normalizeUnit(TimeUnit(u))]
	return ok
}

// IsNumeric reports whether entries of type t carry a value that is summed.
func (t Type) IsNumeric() bool {
	return t == CostSavings || t == TimeSavings
}

// Multiplier returns the yearly recurrence factor of f.
func Multiplier(f Frequency) (float64, error) {
	m, ok := multipliers[f]
	if !ok {
		return 0, fmt.Errorf("%w: unknown frequency %q", ErrInvalidEntry, f)
	}
	return m, nil
}

// ToHours converts a per-occurrence time value into hours.
func ToHours(value float64, unit TimeUnit) (float64, error) {
	if unit == "" {
		return value, nil
	}
	factor, ok := hoursPerUnit[normalizeUnit(unit)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown time unit %q", ErrInvalidEntry, unit)
	}
	return value * factor, nil
}

// Annualize returns the yearly figure for e, or nil for categorical types.
// The result depends only on (type, value, frequency, unit).
func Annualize(e Entry) (*float64, error) {
	switch e.Type {
	case Quality, NewCapability:
		return nil, nil
	case CostSavings, TimeSavings:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, e.Type)
	}

	if e.Value == nil {
		return nil, fmt.Errorf("%w: %s requires a value", ErrInvalidEntry, e.Type)
	}
	v := *e.Value
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nil, fmt.Errorf("%w: value %v out of range", ErrInvalidEntry, v)
	}

	m, err := Multiplier(e.Frequency)
	if err != nil {
		return nil, err
	}

	if e.Type == TimeSavings {
		v, err = ToHours(v, e.TimeUnit)
		if err != nil {
			return nil, err
		}
	} else if e.TimeUnit != "" {
		return nil, fmt.Errorf("%w: time unit %q on %s", ErrInvalidEntry, e.TimeUnit, e.Type)
	}

	annual := v * m
	return &annual, nil
}

// normalizeUnit accepts singular forms and surrounding whitespace.
func normalizeUnit(u TimeUnit) TimeUnit {
	s := strings.ToLower(strings.TrimSpace(string(u)))
	if s != "" && !strings.HasSuffix(s, "s") {
		s += "s"
	}
	return TimeUnit(s)
}
