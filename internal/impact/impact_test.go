package impact

import (
	"errors"
	"math"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ptr(v float64) *float64 { return &v }

func TestAnnualize(t *testing.T) {
	tests := []struct {
		name     string
		entry    Entry
		expected float64
	}{
		{
			name:     "monthly cost savings",
			entry:    Entry{Type: CostSavings, Value: ptr(100), Frequency: Monthly},
			expected: 1200,
		},
		{
			name:     "daily hours",
			entry:    Entry{Type: TimeSavings, Value: ptr(2), Frequency: Daily, TimeUnit: Hours},
			expected: 520,
		},
		{
			name:     "daily with empty unit defaults to hours",
			entry:    Entry{Type: TimeSavings, Value: ptr(2), Frequency: Daily},
			expected: 520,
		},
		{
			name:     "weekly minutes",
			entry:    Entry{Type: TimeSavings, Value: ptr(30), Frequency: Weekly, TimeUnit: Minutes},
			expected: 26,
		},
		{
			name:     "monthly days",
			entry:    Entry{Type: TimeSavings, Value: ptr(1), Frequency: Monthly, TimeUnit: Days},
			expected: 96,
		},
		{
			name:     "quarterly weeks",
			entry:    Entry{Type: TimeSavings, Value: ptr(1), Frequency: Quarterly, TimeUnit: Weeks},
			expected: 160,
		},
		{
			name:     "singular unit",
			entry:    Entry{Type: TimeSavings, Value: ptr(3), Frequency: OneTime, TimeUnit: "hour"},
			expected: 3,
		},
		{
			name:     "one time cost",
			entry:    Entry{Type: CostSavings, Value: ptr(5000), Frequency: OneTime},
			expected: 5000,
		},
		{
			name:     "zero value",
			entry:    Entry{Type: CostSavings, Value: ptr(0), Frequency: Weekly},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Annualize(tt.entry)
			if err != nil {
				t.Fatalf("Annualize() error = %v", err)
			}
			if got == nil {
				t.Fatal("Annualize() returned nil for numeric entry")
			}
			if math.Abs(*got-tt.expected) > 1e-9 {
				t.Errorf("Annualize() = %v, expected %v", *got, tt.expected)
			}
		})
	}
}

func TestAnnualize_OneTimeIsUnitNormalizedValue(t *testing.T) {
	for _, unit := range TimeUnits() {
		hours, err := ToHours(7, unit)
		if err != nil {
			t.Fatalf("ToHours(%q) error = %v", unit, err)
		}
		got, err := Annualize(Entry{Type: TimeSavings, Value: ptr(7), Frequency: OneTime, TimeUnit: unit})
		if err != nil {
			t.Fatalf("Annualize(%q) error = %v", unit, err)
		}
		if *got != hours {
			t.Errorf("one_time %q: got %v, expected %v", unit, *got, hours)
		}
	}

	got, err := Annualize(Entry{Type: CostSavings, Value: ptr(42.5), Frequency: OneTime})
	if err != nil {
		t.Fatalf("Annualize() error = %v", err)
	}
	if *got != 42.5 {
		t.Errorf("one_time cost: got %v, expected 42.5", *got)
	}
}

func TestAnnualize_Deterministic(t *testing.T) {
	for _, f := range Frequencies() {
		for _, u := range TimeUnits() {
			e := Entry{Type: TimeSavings, Value: ptr(3.7), Frequency: f, TimeUnit: u}
			a, errA := Annualize(e)
			b, errB := Annualize(e)
			if errA != nil || errB != nil {
				t.Fatalf("Annualize(%v) errors = %v, %v", e, errA, errB)
			}
			if *a != *b {
				t.Errorf("Annualize(%v) not deterministic: %v != %v", e, *a, *b)
			}
		}
	}
}

func TestAnnualize_Categorical(t *testing.T) {
	for _, typ := range []Type{Quality, NewCapability} {
		got, err := Annualize(Entry{Type: typ})
		if err != nil {
			t.Errorf("Annualize(%s) error = %v", typ, err)
		}
		if got != nil {
			t.Errorf("Annualize(%s) = %v, expected nil", typ, *got)
		}
	}
}

func TestAnnualize_InvalidEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{"missing value", Entry{Type: CostSavings, Frequency: Monthly}},
		{"missing frequency", Entry{Type: CostSavings, Value: ptr(1)}},
		{"unknown frequency", Entry{Type: CostSavings, Value: ptr(1), Frequency: "yearly"}},
		{"unknown unit", Entry{Type: TimeSavings, Value: ptr(1), Frequency: Daily, TimeUnit: "fortnights"}},
		{"unknown type", Entry{Type: "happiness", Value: ptr(1), Frequency: Daily}},
		{"negative value", Entry{Type: CostSavings, Value: ptr(-5), Frequency: Daily}},
		{"nan value", Entry{Type: CostSavings, Value: ptr(math.NaN()), Frequency: Daily}},
		{"unit on cost", Entry{Type: CostSavings, Value: ptr(1), Frequency: Daily, TimeUnit: Hours}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Annualize(tt.entry)
			if !errors.Is(err, ErrInvalidEntry) {
				t.Fatalf("Annualize() error = %v, expected ErrInvalidEntry", err)
			}
			if got != nil {
				t.Errorf("Annualize() = %v, expected nil on error", *got)
			}
		})
	}
}

func TestValidators(t *testing.T) {
	if !IsValidType("quality") || IsValidType("speed") {
		t.Error("IsValidType mismatch")
	}
	if !IsValidFrequency("quarterly") || IsValidFrequency("") {
		t.Error("IsValidFrequency mismatch")
	}
	if !IsValidTimeUnit("") || !IsValidTimeUnit("Minutes") || IsValidTimeUnit("years") {
		t.Error("IsValidTimeUnit mismatch")
	}
	if !CostSavings.IsNumeric() || Quality.IsNumeric() {
		t.Error("IsNumeric mismatch")
	}
}
