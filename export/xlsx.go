// Package export renders the compiled drug dataset as a spreadsheet.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextscript/emr-tools/drugdata/entities"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding the drug rows
const SheetName = "Drugs"

var headers = []string{
	"drug_code", "brand_name", "ingredients", "dosage_form", "normalized_form",
	"is_restricted", "restriction_reason", "schedules", "descriptor", "status", "history_date",
}

func build(entries []entities.CompiledEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		f.Close()
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}

	for i, e := range entries {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(SheetName, cell, value)
		}

		set(1, e.DrugCode)
		set(2, e.BrandName)
		set(3, strings.Join(e.Ingredients, "; "))
		set(4, e.DosageForm)
		set(5, e.NormalizedForm)
		set(6, e.IsRestricted)
		set(7, e.RestrictionReason)
		set(8, strings.Join(e.Schedules, "; "))
		set(9, e.Descriptor)
		set(10, e.Status)
		set(11, e.HistoryDate)
	}

	if len(entries) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(headers), len(entries)+1)
		if err := f.AutoFilter(SheetName, "A1:"+last, nil); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set auto filter: %w", err)
		}
	}

	return f, nil
}

// WriteXLSX writes entries as an XLSX workbook to w
func WriteXLSX(w io.Writer, entries []entities.CompiledEntry) error {
	f, err := build(entries)
	if err != nil {
		return err
	}
	defer f.Close()

	return f.Write(w)
}

// SaveXLSX writes entries as an XLSX workbook at path, creating parent directories
func SaveXLSX(path string, entries []entities.CompiledEntry) error {
	f, err := build(entries)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return f.SaveAs(path)
}
