package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/xuri/excelize/v2"
)

func sample() []entities.CompiledEntry {
	return []entities.CompiledEntry{
		{
			DrugCode:          "01",
			BrandName:         "TESTOCIN",
			Ingredients:       []string{"codeine phosphate 30MG", "lactose"},
			DosageForm:        "Tablet",
			NormalizedForm:    "tablet",
			IsRestricted:      true,
			RestrictionReason: "Manual Ingredient List (Codeine Phosphate)",
		},
		{DrugCode: "02", BrandName: "PLAIN", Ingredients: []string{"zinc 10MG"}, DosageForm: "Capsule", NormalizedForm: "capsule"},
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sample()); err != nil {
		t.Fatalf("WriteXLSX failed: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("Failed to reopen workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("Failed to read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "drug_code" || rows[0][5] != "is_restricted" {
		t.Errorf("Unexpected header row %v", rows[0])
	}
	if rows[1][0] != "01" || rows[1][2] != "codeine phosphate 30MG; lactose" {
		t.Errorf("Unexpected first row %v", rows[1])
	}
	if rows[1][5] != "TRUE" {
		t.Errorf("Expected boolean cell TRUE, got %q", rows[1][5])
	}
}

func TestSaveXLSXCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "drugs.xlsx")
	if err := SaveXLSX(path, sample()); err != nil {
		t.Fatalf("SaveXLSX failed: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("Failed to open saved workbook: %v", err)
	}
	defer f.Close()

	if f.GetSheetName(0) != SheetName {
		t.Errorf("Expected sheet %s, got %s", SheetName, f.GetSheetName(0))
	}
}

func TestWriteXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, nil); err != nil {
		t.Fatalf("WriteXLSX failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("Expected a workbook even with no entries")
	}
}
