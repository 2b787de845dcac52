package validation

import (
	"strings"
	"testing"

	"github.com/nextscript/emr-tools/drugdata/entities"
)

func validEntry(code string) entities.CompiledEntry {
	return entities.CompiledEntry{
		DrugCode:       code,
		BrandName:      "TESTOCIN",
		Ingredients:    []string{"codeine phosphate 30MG"},
		DosageForm:     "Tablet",
		NormalizedForm: "tablet",
		SearchText:     "testocin codeine phosphate 30mg tablet",
	}
}

func TestValidateEntry(t *testing.T) {
	validator := NewDataValidator()

	restrictedNoReason := validEntry("03")
	restrictedNoReason.IsRestricted = true

	noIngredients := validEntry("04")
	noIngredients.Ingredients = nil

	noForm := validEntry("05")
	noForm.DosageForm = ""

	longBrand := validEntry("06")
	longBrand.BrandName = strings.Repeat("A", 201)

	valid := validEntry("01")

	tests := []struct {
		name    string
		entry   *entities.CompiledEntry
		wantErr string
	}{
		{"valid", &valid, ""},
		{"nil", nil, "entry is nil"},
		{"empty code", &entities.CompiledEntry{}, "empty drug code"},
		{"restricted without reason", &restrictedNoReason, "no restriction reason"},
		{"no ingredients", &noIngredients, "no ingredients"},
		{"no form", &noForm, "no dosage form"},
		{"long brand", &longBrand, "brand name too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateEntry(tt.entry)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateDataIntegrity(t *testing.T) {
	validator := NewDataValidator()

	if err := validator.ValidateDataIntegrity(nil); err == nil {
		t.Error("Expected error for empty dataset")
	}

	entries := []entities.CompiledEntry{validEntry("01"), validEntry("02")}
	if err := validator.ValidateDataIntegrity(entries); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	entries = append(entries, validEntry("01"))
	err := validator.ValidateDataIntegrity(entries)
	if err == nil || !strings.Contains(err.Error(), "duplicate drug code found: 01") {
		t.Errorf("Expected duplicate drug code error, got %v", err)
	}
}

func TestReportDataQuality(t *testing.T) {
	validator := NewDataValidator()

	restricted := validEntry("02")
	restricted.IsRestricted = true
	restricted.RestrictionReason = "Manual Ingredient List (Codeine Phosphate)"
	restricted.NormalizedForm = "capsule"

	scheduled := validEntry("03")
	scheduled.IsRestricted = true
	scheduled.RestrictionReason = "Schedule (narcotic (cdsa i))"
	scheduled.Schedules = []string{"narcotic (cdsa i)"}
	scheduled.NormalizedForm = "solution"

	noBrand := validEntry("04")
	noBrand.BrandName = ""

	entries := []entities.CompiledEntry{validEntry("01"), restricted, scheduled, noBrand, validEntry("01")}
	report := validator.ReportDataQuality(entries)

	if report.TotalEntries != 5 {
		t.Errorf("Expected 5 entries, got %d", report.TotalEntries)
	}
	if report.RestrictedEntries != 2 {
		t.Errorf("Expected 2 restricted entries, got %d", report.RestrictedEntries)
	}
	if report.UnscheduledRestricted != 1 {
		t.Errorf("Expected 1 unscheduled restricted entry, got %d", report.UnscheduledRestricted)
	}
	if len(report.DuplicateDrugCodes) != 1 || report.DuplicateDrugCodes[0] != "01" {
		t.Errorf("Expected duplicate code 01, got %v", report.DuplicateDrugCodes)
	}
	// 04 and the second 01 share content with the first 01
	if report.DuplicateContentKeys != 2 {
		t.Errorf("Expected 2 duplicate content keys, got %d", report.DuplicateContentKeys)
	}
	if report.EntriesWithoutBrand != 1 || report.EntriesWithoutBrandCode[0] != "04" {
		t.Errorf("Expected entry 04 without brand, got %d %v", report.EntriesWithoutBrand, report.EntriesWithoutBrandCode)
	}
}

func TestValidateInput(t *testing.T) {
	validator := NewDataValidator()

	tests := []struct {
		input   string
		wantErr bool
	}{
		{"codeine", false},
		{"acetaminophen 500mg", false},
		{"lévothyroxine", false},
		{"co-trimoxazole", false},
		{"5%", false},
		{"", true},
		{"a", true},
		{strings.Repeat("a", 81), true},
		{"a b c d e f g h i", true},
		{"<script>alert(1)</script>", true},
		{"codeine' or 1=1", true},
		{"drop table drugs", true},
		{"../etc/passwd", true},
		{"codeine; rm", true},
		{"aaaaaaaaaaaa", true},
		{"codeine#", true},
	}

	for _, tt := range tests {
		err := validator.ValidateInput(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateInput(%q): expected error=%v, got %v", tt.input, tt.wantErr, err)
		}
	}
}

func TestValidateDrugCode(t *testing.T) {
	validator := NewDataValidator()

	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"01", "01", false},
		{"2241497", "2241497", false},
		{"", "", true},
		{" 01", "", true},
		{"12a", "", true},
		{"-1", "", true},
		{"12345678901", "", true},
	}

	for _, tt := range tests {
		got, err := validator.ValidateDrugCode(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateDrugCode(%q): expected error=%v, got %v", tt.input, tt.wantErr, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ValidateDrugCode(%q): expected %q, got %q", tt.input, tt.expected, got)
		}
	}
}
